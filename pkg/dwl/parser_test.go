package dwl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oma-lwm2m/pkgdl/internal/crc"
)

// fakeSHA1 is a minimal host SHA-1 backend used only to observe
// coverage (which bytes were fed) and to let tests force a
// verification failure.
type fakeSHA1 struct {
	processed [][]byte
	failEnd   bool
	ended     bool
	cancelled bool
}

func (f *fakeSHA1) SHA1Start() (any, error) { return "ctx", nil }

func (f *fakeSHA1) SHA1Process(ctx any, data []byte) error {
	cp := append([]byte(nil), data...)
	f.processed = append(f.processed, cp)
	return nil
}

func (f *fakeSHA1) SHA1End(ctx any, pkgType uint32, signature []byte) error {
	f.ended = true
	if f.failEnd {
		return errors.New("signature mismatch")
	}
	return nil
}

func (f *fakeSHA1) SHA1Cancel(ctx any) { f.cancelled = true }

func (f *fakeSHA1) all() []byte {
	var buf bytes.Buffer
	for _, p := range f.processed {
		buf.Write(p)
	}
	return buf.Bytes()
}

func putProlog(buf *bytes.Buffer, statusBitfield, crc32, fileSize uint32, dataType sectionTag, commentUnits uint16) {
	var b [PrologSize]byte
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	binary.LittleEndian.PutUint32(b[4:8], statusBitfield)
	binary.LittleEndian.PutUint32(b[8:12], crc32)
	binary.LittleEndian.PutUint32(b[12:16], fileSize)
	// timestamp left zero
	binary.LittleEndian.PutUint32(b[24:28], uint32(dataType))
	binary.LittleEndian.PutUint16(b[28:30], 0)
	binary.LittleEndian.PutUint16(b[30:32], commentUnits)
	buf.Write(b[:])
}

// buildPackage constructs the byte-exact minimal package from spec §8
// scenario 1, with a correct CRC-32 computed the same way the parser
// would, and returns the full byte stream plus the binary payload for
// assertions.
func buildPackage(t *testing.T, upckType uint32) ([]byte, []byte) {
	t.Helper()
	var upck bytes.Buffer
	putProlog(&upck, 0, 0, 160, tagUPCK, 0)
	var upckHeader [HeaderSize]byte
	binary.LittleEndian.PutUint32(upckHeader[0:4], upckType)
	upck.Write(upckHeader[:])

	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7}

	var bina bytes.Buffer
	putProlog(&bina, 0, 0, 168, tagBINA, 0)
	var binaHeader [HeaderSize]byte
	bina.Write(binaHeader[:])
	bina.Write(payload)
	// paddingFor(168) == 0

	// CRC coverage: bytes 12..end of UPCK prolog, through all of BINA.
	var crcInput bytes.Buffer
	crcInput.Write(upck.Bytes()[12:])
	crcInput.Write(bina.Bytes())
	crcValue := crc.Func(0, crcInput.Bytes())
	// Patch the UPCK prolog's crc32 field.
	full := upck.Bytes()
	binary.LittleEndian.PutUint32(full[8:12], crcValue)

	var sign bytes.Buffer
	putProlog(&sign, 0, 0, 52, tagSIGN, 0)
	signature := bytes.Repeat([]byte{0xAB}, 20)
	sign.Write(signature)

	var out bytes.Buffer
	out.Write(full)
	out.Write(bina.Bytes())
	out.Write(sign.Bytes())
	return out.Bytes(), payload
}

func newTestParser(sha1 HashBackend) *Parser {
	return NewParser(crc.Func, sha1, nil)
}

// feedAll drives the parser by delivering pkgBytes to Feed in chunks of
// chunkSize bytes (or as one chunk if chunkSize <= 0), returning the
// concatenation of all StoreBytes and whether Done was ever observed.
func feedAll(t *testing.T, p *Parser, pkgBytes []byte, chunkSize int) ([]byte, bool, error) {
	t.Helper()
	var stored bytes.Buffer
	done := false
	pos := 0
	for pos < len(pkgBytes) {
		end := len(pkgBytes)
		if chunkSize > 0 && pos+chunkSize < end {
			end = pos + chunkSize
		}
		chunk := pkgBytes[pos:end]
		for len(chunk) > 0 {
			result, err := p.Feed(chunk)
			if err != nil {
				return stored.Bytes(), done, err
			}
			if result.StoreBytes != nil {
				stored.Write(result.StoreBytes)
			}
			if result.Done {
				done = true
			}
			chunk = chunk[result.Consumed:]
			if result.Consumed == 0 {
				// Parser needs more bytes than this chunk has left.
				break
			}
		}
		pos = end
	}
	return stored.Bytes(), done, nil
}

func TestMinimalValidPackageWholeChunk(t *testing.T) {
	pkgBytes, payload := buildPackage(t, 1)
	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())

	stored, done, err := feedAll(t, p, pkgBytes, 0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, stored)
	assert.True(t, sha1.ended)
	// SHA-1 coverage: exactly UPCK+BINA bytes, no SIGN bytes.
	assert.Equal(t, pkgBytes[:len(pkgBytes)-52], sha1.all())
}

func TestChunkedByteAtATimeMatchesWholeChunk(t *testing.T) {
	pkgBytes, payload := buildPackage(t, 1)

	sha1Whole := &fakeSHA1{}
	pWhole := newTestParser(sha1Whole)
	require.NoError(t, pWhole.Begin())
	storedWhole, doneWhole, err := feedAll(t, pWhole, pkgBytes, 0)
	require.NoError(t, err)

	sha1Chunked := &fakeSHA1{}
	pChunked := newTestParser(sha1Chunked)
	require.NoError(t, pChunked.Begin())
	storedChunked, doneChunked, err := feedAll(t, pChunked, pkgBytes, 1)
	require.NoError(t, err)

	assert.Equal(t, doneWhole, doneChunked)
	assert.Equal(t, storedWhole, storedChunked)
	assert.Equal(t, payload, storedChunked)
	assert.Equal(t, sha1Whole.all(), sha1Chunked.all())
}

func TestChunkSize32MatchesWholeChunk(t *testing.T) {
	pkgBytes, payload := buildPackage(t, 1)

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes, 32)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, stored)
}

func TestCRCMismatchFaultsVerifyError(t *testing.T) {
	pkgBytes, _ := buildPackage(t, 1)
	// Flip one bit of the UPCK prolog's crc32 field.
	pkgBytes[8] ^= 0x01

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	_, done, err := feedAll(t, p, pkgBytes, 0)
	require.Error(t, err)
	assert.False(t, done)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultVerifyError, fault.Kind)
	assert.False(t, sha1.ended, "sha1_end must not be called once CRC already mismatched")
	assert.True(t, sha1.cancelled)
}

func TestUnsupportedUpckTypeFaults(t *testing.T) {
	pkgBytes, _ := buildPackage(t, 2) // only 1 and 3 are valid

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes, 0)
	require.Error(t, err)
	assert.False(t, done)
	assert.Empty(t, stored, "no store_range bytes before BINA is ever reached")
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultUnsupportedPkgType, fault.Kind)
}

func TestTruncatedStreamStaysInParse(t *testing.T) {
	pkgBytes, _ := buildPackage(t, 1)
	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())

	truncated := pkgBytes[:40]
	stored, done, err := feedAll(t, p, truncated, 0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, stored)
	// Parser is mid-header, waiting for more bytes; no panic, no fault.
	assert.Equal(t, SubsectionHeader, p.Subsection())
}

func TestOversizedCommentsFaultsCommunicationError(t *testing.T) {
	var upck bytes.Buffer
	// 17 KiB of comments, expressed in 8-byte units.
	const commentBytes = 17 * 1024
	putProlog(&upck, 0, 0, 32, tagUPCK, uint16(commentBytes/8))
	pkgBytes := append(upck.Bytes(), make([]byte, commentBytes)...)

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes, 0)
	require.Error(t, err)
	assert.False(t, done)
	assert.Empty(t, stored)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, FaultCommunicationError, fault.Kind)
}

func TestZeroSizeSignature(t *testing.T) {
	var upck bytes.Buffer
	putProlog(&upck, 0, 0, 160, tagUPCK, 0)
	var upckHeader [HeaderSize]byte
	binary.LittleEndian.PutUint32(upckHeader[0:4], 1)
	upck.Write(upckHeader[:])

	payload := []byte{0xAA, 0xBB, 0xCC}
	var bina bytes.Buffer
	// fileSize accounts for header(128)+prolog(32)+payload(3) = 163
	putProlog(&bina, 0, 0, 163, tagBINA, 0)
	var binaHeader [HeaderSize]byte
	bina.Write(binaHeader[:])
	bina.Write(payload)
	padding := paddingFor(163)
	bina.Write(make([]byte, padding))

	var crcInput bytes.Buffer
	crcInput.Write(upck.Bytes()[12:])
	crcInput.Write(bina.Bytes())
	crcValue := crc.Func(0, crcInput.Bytes())
	full := upck.Bytes()
	binary.LittleEndian.PutUint32(full[8:12], crcValue)

	var sign bytes.Buffer
	// fileSize = prolog(32) + signature(0) = 32
	putProlog(&sign, 0, 0, 32, tagSIGN, 0)

	var pkgBytes bytes.Buffer
	pkgBytes.Write(full)
	pkgBytes.Write(bina.Bytes())
	pkgBytes.Write(sign.Bytes())

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes.Bytes(), 0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, stored)
}

func TestMaxSizeSignature(t *testing.T) {
	var upck bytes.Buffer
	putProlog(&upck, 0, 0, 160, tagUPCK, 0)
	var upckHeader [HeaderSize]byte
	binary.LittleEndian.PutUint32(upckHeader[0:4], 3)
	upck.Write(upckHeader[:])

	payload := []byte{0x01, 0x02}
	var bina bytes.Buffer
	putProlog(&bina, 0, 0, 162, tagBINA, 0)
	var binaHeader [HeaderSize]byte
	bina.Write(binaHeader[:])
	bina.Write(payload)
	padding := paddingFor(162)
	bina.Write(make([]byte, padding))

	var crcInput bytes.Buffer
	crcInput.Write(upck.Bytes()[12:])
	crcInput.Write(bina.Bytes())
	crcValue := crc.Func(0, crcInput.Bytes())
	full := upck.Bytes()
	binary.LittleEndian.PutUint32(full[8:12], crcValue)

	const sigSize = 1024
	var sign bytes.Buffer
	putProlog(&sign, 0, 0, uint32(PrologSize+sigSize), tagSIGN, 0)
	sign.Write(bytes.Repeat([]byte{0x42}, sigSize))

	var pkgBytes bytes.Buffer
	pkgBytes.Write(full)
	pkgBytes.Write(bina.Bytes())
	pkgBytes.Write(sign.Bytes())

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes.Bytes(), 0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, stored)
}

func TestCommentsOfSizeZeroAndNonMultipleOf8Padding(t *testing.T) {
	payload := []byte{1, 2, 3} // binarySize=3, padding should be 5
	var upck bytes.Buffer
	putProlog(&upck, 0, 0, 160, tagUPCK, 0)
	var upckHeader [HeaderSize]byte
	binary.LittleEndian.PutUint32(upckHeader[0:4], 1)
	upck.Write(upckHeader[:])

	var bina bytes.Buffer
	fileSize := uint32(HeaderSize + PrologSize + len(payload))
	putProlog(&bina, 0, 0, fileSize, tagBINA, 0)
	var binaHeader [HeaderSize]byte
	bina.Write(binaHeader[:])
	bina.Write(payload)
	padding := paddingFor(fileSize)
	require.Equal(t, 5, padding)
	bina.Write(make([]byte, padding))

	var crcInput bytes.Buffer
	crcInput.Write(upck.Bytes()[12:])
	crcInput.Write(bina.Bytes())
	crcValue := crc.Func(0, crcInput.Bytes())
	full := upck.Bytes()
	binary.LittleEndian.PutUint32(full[8:12], crcValue)

	var sign bytes.Buffer
	putProlog(&sign, 0, 0, 52, tagSIGN, 0)
	sign.Write(bytes.Repeat([]byte{0x99}, 20))

	var pkgBytes bytes.Buffer
	pkgBytes.Write(full)
	pkgBytes.Write(bina.Bytes())
	pkgBytes.Write(sign.Bytes())

	sha1 := &fakeSHA1{}
	p := newTestParser(sha1)
	require.NoError(t, p.Begin())
	stored, done, err := feedAll(t, p, pkgBytes.Bytes(), 1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, payload, stored)
}

package dwl

import (
	"encoding/binary"
	"log/slog"

	"github.com/oma-lwm2m/pkgdl/internal/streambuf"
)

// Subsection is a contiguous span within a DWL section: prolog,
// comments, header, binary, padding or signature (spec glossary).
type Subsection uint8

const (
	SubsectionProlog Subsection = iota
	SubsectionComments
	SubsectionHeader
	SubsectionBinary
	SubsectionPadding
	SubsectionSignature
)

func (s Subsection) String() string {
	switch s {
	case SubsectionProlog:
		return "prolog"
	case SubsectionComments:
		return "comments"
	case SubsectionHeader:
		return "header"
	case SubsectionBinary:
		return "binary"
	case SubsectionPadding:
		return "padding"
	case SubsectionSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// CRC32Func is the host capability `crc32(acc, bytes) -> acc` (spec
// §6). It must be a pure function: same accumulator and bytes always
// produce the same result.
type CRC32Func func(acc uint32, data []byte) uint32

// HashBackend is the host's three-phase SHA-1 capability (spec §6,
// §9 "Hash backend"). The context returned by SHA1Start is opaque to
// the parser and passed back unexamined on every subsequent call.
type HashBackend interface {
	SHA1Start() (ctx any, err error)
	SHA1Process(ctx any, data []byte) error
	SHA1End(ctx any, pkgType uint32, signature []byte) error
	SHA1Cancel(ctx any)
}

// FeedResult reports the outcome of one Parser.Feed call.
type FeedResult struct {
	// Consumed is how many bytes were taken from the front of the
	// chunk passed to Feed. The caller must advance its own cursor by
	// this amount regardless of StoreBytes/Done.
	Consumed int
	// StoreBytes is non-nil when binary-payload bytes are ready to be
	// handed to the storage sink (store_range). It aliases the input
	// chunk and must not be retained past the call.
	StoreBytes []byte
	// Done is true once the signature subsection has verified the
	// package successfully; the run is over.
	Done bool
}

// Parser is the DWL Parser (DP). One Parser instance is used for
// exactly one run, the same lifecycle as the CANopen SDO client/server
// state machines it is modeled on.
type Parser struct {
	crc32  CRC32Func
	sha1   HashBackend
	logger *slog.Logger

	buf *streambuf.Buffer

	subsection Subsection
	lenToParse int

	currentSection sectionTag
	upckSeen       bool
	binaSeen       bool
	signSeen       bool

	upckType      uint32
	commentSize   int
	binarySize    int
	paddingSize   int
	remainingBina int
	signatureSize int

	packageCRC uint32
	runningCRC uint32

	sha1Ctx any
}

// NewParser creates a Parser. crc32Fn and sha1 are the host-supplied
// crypto capabilities (spec §6); logger may be nil, in which case
// slog.Default() is used.
func NewParser(crc32Fn CRC32Func, sha1 HashBackend, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		crc32:  crc32Fn,
		sha1:   sha1,
		logger: logger,
		buf:    streambuf.NewDefault(),
	}
}

// Begin resets the parser for a new run and starts a fresh SHA-1
// context. It must be called once before the first Feed.
func (p *Parser) Begin() error {
	p.teardown()
	ctx, err := p.sha1.SHA1Start()
	if err != nil {
		return verifyFailed("sha1 backend failed to start", err)
	}
	p.sha1Ctx = ctx
	p.subsection = SubsectionProlog
	p.lenToParse = PrologSize
	return nil
}

// Subsection reports what the parser currently awaits, used by the
// downloader state machine when it needs to know whether the binary
// fast path applies.
func (p *Parser) Subsection() Subsection { return p.subsection }

// LenToParse reports how many bytes the current subsection needs.
// Meaningless while Subsection() == SubsectionBinary, where the
// parser instead drains up to RemainingBinary bytes per call.
func (p *Parser) LenToParse() int { return p.lenToParse }

// RemainingBinary reports how many binary-payload bytes remain in the
// current BINA section.
func (p *Parser) RemainingBinary() int { return p.remainingBina }

// Feed advances the parser through as many subsections as chunk
// allows without blocking: it stops as soon as it needs bytes beyond
// chunk, has a binary-payload segment to hand back, or the run ends
// (fault or Done). It never looks past the bytes it consumes, so the
// caller must keep calling Feed with the remainder of chunk until
// Consumed exhausts it.
func (p *Parser) Feed(chunk []byte) (FeedResult, error) {
	total := 0
	for {
		binaryMode := p.subsection == SubsectionBinary
		view, consumed, ready, err := p.buf.Stage(chunk, p.lenToParse, binaryMode, p.remainingBina)
		total += consumed
		chunk = chunk[consumed:]
		if err != nil {
			p.teardown()
			return FeedResult{Consumed: total}, commError("reassembly buffer exhausted", err)
		}
		if !ready {
			return FeedResult{Consumed: total}, nil
		}

		result, ferr := p.advance(view)
		if !binaryMode {
			p.buf.Consumed()
		}
		result.Consumed = total
		if ferr != nil || result.Done {
			p.teardown()
			return result, ferr
		}
		if result.StoreBytes != nil {
			return result, nil
		}
		// A subsection with no payload to hand back (prolog, comments,
		// header, padding) may chain straight into the next one - in
		// particular a zero-length subsection landing exactly at the
		// end of chunk must still complete here, not stall waiting for
		// bytes that were never coming (spec boundary case: comments
		// size 0).
	}
}

// advance processes exactly one complete subsection (or binary
// segment) and decides the next (subsection, lenToParse) pair, per
// the grammar in spec §4.3.
func (p *Parser) advance(view []byte) (FeedResult, error) {
	switch p.subsection {
	case SubsectionProlog:
		return p.advanceProlog(view)
	case SubsectionComments:
		return p.advanceComments(view)
	case SubsectionHeader:
		return p.advanceHeader(view)
	case SubsectionBinary:
		return p.advanceBinary(view)
	case SubsectionPadding:
		return p.advancePadding(view)
	case SubsectionSignature:
		return p.advanceSignature(view)
	default:
		return FeedResult{}, unsupported("parser in unknown subsection")
	}
}

func (p *Parser) advanceProlog(view []byte) (FeedResult, error) {
	pr := decodeProlog(view)
	if pr.magic != Magic {
		return FeedResult{}, unsupported("bad prolog magic")
	}
	p.commentSize = int(pr.commentSize) * 8

	switch pr.dataType {
	case tagUPCK:
		if p.upckSeen {
			return FeedResult{}, unsupported("duplicate UPCK section")
		}
		if p.binaSeen || p.signSeen {
			return FeedResult{}, unsupported("UPCK section out of order")
		}
		p.upckSeen = true
		p.currentSection = tagUPCK
		p.packageCRC = pr.crc32
		p.runningCRC = p.crc32(p.runningCRC, view[12:32])
		if err := p.sha1Update(view); err != nil {
			return FeedResult{}, verifyFailed("sha1 backend failed on UPCK prolog", err)
		}

	case tagBINA:
		if !p.upckSeen {
			return FeedResult{}, unsupported("BINA section before UPCK")
		}
		if p.binaSeen {
			return FeedResult{}, unsupported("duplicate BINA section")
		}
		if p.signSeen {
			return FeedResult{}, unsupported("BINA section out of order")
		}
		p.binaSeen = true
		p.currentSection = tagBINA
		p.runningCRC = p.crc32(p.runningCRC, view)
		if err := p.sha1Update(view); err != nil {
			return FeedResult{}, verifyFailed("sha1 backend failed on BINA prolog", err)
		}
		p.binarySize = int(pr.fileSize) - p.commentSize - HeaderSize - PrologSize
		if p.binarySize < 0 {
			return FeedResult{}, unsupported("BINA fileSize too small for declared comment/header")
		}
		p.paddingSize = paddingFor(pr.fileSize)

	case tagSIGN:
		if !p.upckSeen || !p.binaSeen {
			return FeedResult{}, unsupported("SIGN section before UPCK/BINA")
		}
		if p.signSeen {
			return FeedResult{}, unsupported("duplicate SIGN section")
		}
		p.signSeen = true
		p.currentSection = tagSIGN
		p.signatureSize = int(pr.fileSize) - p.commentSize - PrologSize
		if p.signatureSize < 0 {
			return FeedResult{}, unsupported("SIGN fileSize too small for declared comment")
		}

	default:
		if recognizedTags[pr.dataType] {
			return FeedResult{}, unsupported("recognized but unaccepted section: " + pr.dataType.String())
		}
		return FeedResult{}, unsupported("unknown section tag")
	}

	p.subsection = SubsectionComments
	p.lenToParse = p.commentSize
	return FeedResult{}, nil
}

func (p *Parser) advanceComments(view []byte) (FeedResult, error) {
	if err := p.hashIfSection(view); err != nil {
		return FeedResult{}, verifyFailed("sha1 backend failed on comments", err)
	}
	switch p.currentSection {
	case tagUPCK, tagBINA:
		p.subsection = SubsectionHeader
		p.lenToParse = HeaderSize
	case tagSIGN:
		p.subsection = SubsectionSignature
		p.lenToParse = p.signatureSize
	}
	return FeedResult{}, nil
}

func (p *Parser) advanceHeader(view []byte) (FeedResult, error) {
	if err := p.hashIfSection(view); err != nil {
		return FeedResult{}, verifyFailed("sha1 backend failed on header", err)
	}
	switch p.currentSection {
	case tagUPCK:
		p.upckType = binary.LittleEndian.Uint32(view[0:4])
		if p.upckType != upckTypeFirmware && p.upckType != upckTypeAMSS {
			return FeedResult{}, unsupported("unsupported upckType")
		}
		p.subsection = SubsectionProlog
		p.lenToParse = PrologSize

	case tagBINA:
		p.remainingBina = p.binarySize
		if p.remainingBina == 0 {
			p.subsection = SubsectionPadding
			p.lenToParse = p.paddingSize
		} else {
			p.subsection = SubsectionBinary
		}
	}
	return FeedResult{}, nil
}

func (p *Parser) advanceBinary(view []byte) (FeedResult, error) {
	p.runningCRC = p.crc32(p.runningCRC, view)
	if err := p.sha1Update(view); err != nil {
		return FeedResult{}, verifyFailed("sha1 backend failed on binary payload", err)
	}
	p.remainingBina -= len(view)

	result := FeedResult{StoreBytes: view}
	if p.remainingBina == 0 {
		p.subsection = SubsectionPadding
		p.lenToParse = p.paddingSize
	}
	return result, nil
}

func (p *Parser) advancePadding(view []byte) (FeedResult, error) {
	if err := p.hashIfSection(view); err != nil {
		return FeedResult{}, verifyFailed("sha1 backend failed on padding", err)
	}
	p.subsection = SubsectionProlog
	p.lenToParse = PrologSize
	return FeedResult{}, nil
}

func (p *Parser) advanceSignature(view []byte) (FeedResult, error) {
	if p.runningCRC != p.packageCRC {
		return FeedResult{}, verifyFailed("CRC mismatch", nil)
	}
	if err := p.sha1.SHA1End(p.sha1Ctx, p.upckType, view); err != nil {
		return FeedResult{}, verifyFailed("signature verification failed", err)
	}
	p.sha1Ctx = nil
	return FeedResult{Done: true}, nil
}

// hashIfSection applies CRC+SHA-1 to view unless the current section
// is SIGN, which contributes no bytes to either hash (spec §3).
func (p *Parser) hashIfSection(view []byte) error {
	if p.currentSection == tagSIGN {
		return nil
	}
	p.runningCRC = p.crc32(p.runningCRC, view)
	return p.sha1Update(view)
}

func (p *Parser) sha1Update(view []byte) error {
	if len(view) == 0 {
		return nil
	}
	return p.sha1.SHA1Process(p.sha1Ctx, view)
}

// teardown cancels any live SHA-1 context and zeroes parser state,
// called on any fault or once a run ends (spec §4.3).
func (p *Parser) teardown() {
	if p.sha1Ctx != nil {
		p.sha1.SHA1Cancel(p.sha1Ctx)
		p.sha1Ctx = nil
	}
	p.buf.Reset()
	p.subsection = SubsectionProlog
	p.lenToParse = 0
	p.currentSection = 0
	p.upckSeen, p.binaSeen, p.signSeen = false, false, false
	p.upckType = 0
	p.commentSize, p.binarySize, p.paddingSize, p.remainingBina, p.signatureSize = 0, 0, 0, 0, 0
	p.packageCRC, p.runningCRC = 0, 0
}

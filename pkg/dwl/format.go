// Package dwl implements the DWL Parser (DP): the inner state machine
// that advances through the fixed DWL grammar (prolog -> comments ->
// header -> binary -> padding -> signature), maintaining running CRC-32
// and SHA-1 coverage and enforcing the structural invariants of the
// format.
package dwl

import "encoding/binary"

// sectionTag identifies which of the three accepted DWL sections a
// prolog belongs to. Additional tags exist in the wild (COMP, XDWL,
// E2PR, DIFF, DOTA, RAM_, BOOT) but this parser only accepts the
// UPCK -> BINA -> SIGN sequence; anything else is an unsupported
// package type.
type sectionTag uint32

const (
	// Magic is the constant little-endian magic at the start of every
	// prolog, ASCII "DWLF".
	Magic uint32 = 0x464C5744

	tagUPCK sectionTag = 0x4B435055
	tagBINA sectionTag = 0x414E4942
	tagSIGN sectionTag = 0x4E474953

	// Recognized but unsupported: the core only walks UPCK/BINA/SIGN.
	tagCOMP sectionTag = 0x504D4F43
	tagXDWL sectionTag = 0x4C574458
	tagE2PR sectionTag = 0x52503245
	tagDIFF sectionTag = 0x46464944
	tagDOTA sectionTag = 0x41544F44
	tagRAM_ sectionTag = 0x5F4D4152
	tagBOOT sectionTag = 0x544F4F42
)

func (t sectionTag) String() string {
	switch t {
	case tagUPCK:
		return "UPCK"
	case tagBINA:
		return "BINA"
	case tagSIGN:
		return "SIGN"
	case tagCOMP:
		return "COMP"
	case tagXDWL:
		return "XDWL"
	case tagE2PR:
		return "E2PR"
	case tagDIFF:
		return "DIFF"
	case tagDOTA:
		return "DOTA"
	case tagRAM_:
		return "RAM_"
	case tagBOOT:
		return "BOOT"
	default:
		return "UNKNOWN"
	}
}

// recognizedTags lists every tag the format defines, used only to give
// a clearer log message when a syntactically valid but unsupported
// section shows up.
var recognizedTags = map[sectionTag]bool{
	tagUPCK: true, tagBINA: true, tagSIGN: true,
	tagCOMP: true, tagXDWL: true, tagE2PR: true,
	tagDIFF: true, tagDOTA: true, tagRAM_: true, tagBOOT: true,
}

// PrologSize is the fixed width of every DWL section prolog.
const PrologSize = 32

// HeaderSize is the fixed width of the UPCK and BINA headers.
const HeaderSize = 128

// prolog is the decoded form of a 32-byte DWL prolog (spec §3).
type prolog struct {
	magic          uint32
	statusBitfield uint32
	crc32          uint32
	fileSize       uint32
	timestamp      [8]byte
	dataType       sectionTag
	typeVersion    uint16
	commentSize    uint16 // in 8-byte units
}

func decodeProlog(raw []byte) prolog {
	var p prolog
	p.magic = binary.LittleEndian.Uint32(raw[0:4])
	p.statusBitfield = binary.LittleEndian.Uint32(raw[4:8])
	p.crc32 = binary.LittleEndian.Uint32(raw[8:12])
	p.fileSize = binary.LittleEndian.Uint32(raw[12:16])
	copy(p.timestamp[:], raw[16:24])
	p.dataType = sectionTag(binary.LittleEndian.Uint32(raw[24:28]))
	p.typeVersion = binary.LittleEndian.Uint16(raw[28:30])
	p.commentSize = binary.LittleEndian.Uint16(raw[30:32])
	return p
}

// paddingFor returns the number of padding bytes required to align
// fileSize up to a multiple of 8, per spec §3.
func paddingFor(fileSize uint32) int {
	aligned := (fileSize + 7) &^ 7
	return int(aligned - fileSize)
}

// Valid upckType values (spec §3 "UPCK header").
const (
	upckTypeFirmware uint32 = 1
	upckTypeAMSS     uint32 = 3
)

// Package streambuf implements the Stream Buffer (SB) described in the
// package downloader spec: a bounded reassembly buffer that groups
// arbitrarily-chunked input bytes into the fixed-size units the DWL
// parser expects, except for the binary-payload subsection, which is
// handed through without copying.
//
// The shape is adapted from the teacher's internal/fifo ring buffer
// (bounded capacity, explicit read/write cursors) but the contract is
// different: instead of exposing Read/Write like a queue, Stage
// answers "do I have lenToParse contiguous bytes yet" on every call,
// because the parser only ever wants to run once it has a complete
// subsection in hand.
package streambuf

import "github.com/pkg/errors"

// CapBytes is the maximum number of bytes the staging buffer may hold
// at once (spec §3 "Reassembly buffer length <= a fixed cap").
const CapBytes = 16 * 1024

// ErrOverflow is returned when staging more bytes would exceed CapBytes.
var ErrOverflow = errors.New("stream buffer: staging capacity exceeded")

// Buffer accumulates bytes across receive_data calls until a full
// subsection is available, or passes binary-payload bytes straight
// through untouched.
type Buffer struct {
	staged []byte
	cap    int
}

// New creates a Buffer with the given capacity. Most callers should
// use NewDefault, which applies the spec's 16 KiB cap.
func New(capBytes int) *Buffer {
	return &Buffer{cap: capBytes}
}

// NewDefault creates a Buffer with the spec-mandated 16 KiB cap.
func NewDefault() *Buffer {
	return New(CapBytes)
}

// Reset drops any partially staged bytes. Used when a run is torn down
// or a fault resets parser state.
func (b *Buffer) Reset() {
	b.staged = b.staged[:0]
}

// Len reports how many bytes are currently staged.
func (b *Buffer) Len() int {
	return len(b.staged)
}

// Stage attempts to produce exactly lenToParse contiguous bytes for the
// parser out of chunk, the undelivered remainder of the host's current
// call to receive_data.
//
// If binaryMode is true (the parser is awaiting binary-payload bytes),
// Stage never copies: it returns up to remainingBinary bytes directly
// from chunk. lenToParse is ignored in this mode.
//
// Otherwise Stage either completes the staging buffer and returns a
// ready view, or consumes what is available into the staging buffer
// and reports not-ready so the caller asks the host for more bytes.
//
// consumed is always the number of bytes taken from the front of
// chunk; the caller must advance its own cursor by that amount.
func (b *Buffer) Stage(chunk []byte, lenToParse int, binaryMode bool, remainingBinary int) (view []byte, consumed int, ready bool, err error) {
	if binaryMode {
		n := len(chunk)
		if n > remainingBinary {
			n = remainingBinary
		}
		if n == 0 {
			return nil, 0, false, nil
		}
		return chunk[:n], n, true, nil
	}

	needed := lenToParse - len(b.staged)
	if needed <= 0 {
		// Already complete (e.g. lenToParse == 0, such as a zero-byte
		// comments section): nothing to stage, hand back what we have,
		// even if chunk is empty. A zero-length subsection must be able
		// to complete without waiting on more host bytes, otherwise a
		// subsection boundary landing exactly at the end of a chunk
		// would stall forever.
		view = b.staged
		return view, 0, true, nil
	}

	if len(chunk) == 0 {
		return nil, 0, false, nil
	}

	if len(b.staged)+len(chunk) < lenToParse {
		if len(b.staged)+len(chunk) > b.cap {
			return nil, 0, false, ErrOverflow
		}
		b.staged = append(b.staged, chunk...)
		return nil, len(chunk), false, nil
	}

	if len(b.staged)+needed > b.cap {
		return nil, 0, false, ErrOverflow
	}
	b.staged = append(b.staged, chunk[:needed]...)
	return b.staged, needed, true, nil
}

// Consumed clears the staging buffer after the parser has finished
// reading the view returned by Stage. It is a no-op if nothing was
// staged (the view came straight from the caller's chunk).
func (b *Buffer) Consumed() {
	b.staged = b.staged[:0]
}

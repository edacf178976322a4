// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the length-prefixed framing of §6.2: a u16
// big-endian length followed by that many bytes of packet, repeated
// across a raw byte stream whose frames may straddle transfer (or
// read) boundaries.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxFrameLen bounds a single frame's declared length, guarding against
// a corrupted or adversarial length prefix forcing an unbounded
// allocation.
const MaxFrameLen = 1 << 20

var ErrFrameTooLarge = errors.New("wire: frame exceeds MaxFrameLen")

// Reassembler accumulates bytes fed in arbitrary-sized chunks (as they
// arrive off a USB bulk transfer or a socket read) and yields complete
// frames as they become available. It keeps one growable backing
// buffer, compacting consumed bytes away rather than reallocating on
// every Feed.
type Reassembler struct {
	buf    []byte
	offset int // bytes before offset are already-extracted frames
}

// NewReassembler returns an empty Reassembler with a hint capacity.
func NewReassembler(capHint int) *Reassembler {
	if capHint <= 0 {
		capHint = 4096
	}
	return &Reassembler{buf: make([]byte, 0, capHint)}
}

// Feed appends newly-read bytes to the reassembly buffer.
func (r *Reassembler) Feed(b []byte) {
	r.compact()
	r.buf = append(r.buf, b...)
}

// Next extracts the next complete frame, if one is fully buffered.
// The returned slice aliases the Reassembler's internal buffer and is
// only valid until the next Feed or Next call; callers that need to
// retain it must copy.
func (r *Reassembler) Next() (frame []byte, ok bool, err error) {
	avail := r.buf[r.offset:]
	if len(avail) < 2 {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint16(avail)
	if int(n) > MaxFrameLen {
		return nil, false, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, n)
	}
	need := 2 + int(n)
	if len(avail) < need {
		return nil, false, nil
	}
	r.offset += need
	return avail[2:need], true, nil
}

// compact drops already-extracted bytes once they're no longer
// referenced, so a long-running stream doesn't grow the backing array
// without bound.
func (r *Reassembler) compact() {
	if r.offset == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.offset:])
	r.buf = r.buf[:n]
	r.offset = 0
}

// Encode frames a single packet for writing to the wire.
func Encode(packet []byte) ([]byte, error) {
	if len(packet) > MaxFrameLen || len(packet) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(packet))
	}
	out := make([]byte, 2+len(packet))
	binary.BigEndian.PutUint16(out, uint16(len(packet)))
	copy(out[2:], packet)
	return out, nil
}

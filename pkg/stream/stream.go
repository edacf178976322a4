// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream implements the append-only, block-backed byte
// sequence that backs every table in the capture store, plus
// DataStream[T], its specialisation to fixed-size records.
//
// It grows by linking a fresh fixed-capacity block rather than
// reallocating and copying, so readers holding a snapshot length never
// see a block move underneath them.
package stream

import (
	"fmt"
	"sync"

	"github.com/openusbtrace/usbtrace/pkg/snapshot"
)

// DefaultBlockSize is used when callers don't pick their own. Chosen to
// match a typical memory page multiple without being so small that
// book-keeping overhead dominates.
const DefaultBlockSize = 1 << 20 // 1 MiB

// Stream is a sequence of fixed-capacity blocks. One writer appends;
// any number of readers call Access concurrently. It never truncates,
// so a Snapshot taken earlier always remains valid to read against.
type Stream struct {
	mu        sync.Mutex
	blockSize int
	blocks    [][]byte
	counter   *snapshot.Counter
}

// New returns an empty Stream whose blocks hold at most blockSize bytes
// each, publishing its length through counter.
func New(counterSet *snapshot.CounterSet, name string, blockSize int) *Stream {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Stream{
		blockSize: blockSize,
		counter:   counterSet.New(name),
	}
}

// BlockSize returns the configured per-block capacity.
func (s *Stream) BlockSize() int { return s.blockSize }

// BlockCount returns the number of blocks currently allocated, for the
// on-disk manifest of §6.5 (internal/checkpoint).
func (s *Stream) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

// Len returns the live, just-appended length. Use LenAt to bound reads
// to an older Snapshot instead.
func (s *Stream) Len() uint64 { return s.counter.Load() }

// LenAt returns the stream's length as of the given snapshot.
func (s *Stream) LenAt(snap snapshot.Snapshot) uint64 { return s.counter.At(snap) }

// activeRemaining returns how many more bytes fit in the current tail
// block. Caller must hold s.mu.
func (s *Stream) activeRemaining() int {
	if len(s.blocks) == 0 {
		return 0
	}
	tail := s.blocks[len(s.blocks)-1]
	return s.blockSize - len(tail)
}

func (s *Stream) newBlock() {
	s.blocks = append(s.blocks, make([]byte, 0, s.blockSize))
}

// Append copies data into the stream, splitting across as many new
// blocks as required, and returns the stream's new total length. It is
// the only mutating operation; callers must serialise their own calls
// (single-writer discipline).
func (s *Stream) Append(data []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(data) > 0 {
		if s.activeRemaining() == 0 {
			s.newBlock()
		}
		tail := s.blocks[len(s.blocks)-1]
		room := s.blockSize - len(tail)
		n := room
		if n > len(data) {
			n = len(data)
		}
		s.blocks[len(s.blocks)-1] = append(tail, data[:n]...)
		data = data[n:]
	}

	total := s.rawLen()
	s.counter.Store(total)
	return total
}

// PadToBoundary fills the remainder of the active block with zero
// bytes if fewer than n bytes remain in it, forcing the next Append to
// start a fresh block. DataStream uses this to guarantee that no fixed
// size record straddles a block boundary.
func (s *Stream) PadToBoundary(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.activeRemaining()
	if remaining >= n || remaining == s.blockSize {
		return
	}
	if remaining > 0 {
		tail := s.blocks[len(s.blocks)-1]
		s.blocks[len(s.blocks)-1] = append(tail, make([]byte, remaining)...)
		s.counter.Store(s.rawLen())
	}
}

// rawLen computes the total length. Caller must hold s.mu.
func (s *Stream) rawLen() uint64 {
	if len(s.blocks) == 0 {
		return 0
	}
	full := uint64(len(s.blocks)-1) * uint64(s.blockSize)
	return full + uint64(len(s.blocks[len(s.blocks)-1]))
}

// Access returns a borrowed view of [start, end). It may return a
// shorter prefix when the range spans a block boundary; callers loop,
// advancing start by the length returned, until satisfied.
func (s *Stream) Access(start, end uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if end <= start {
		return nil
	}
	blockIdx := int(start / uint64(s.blockSize))
	if blockIdx >= len(s.blocks) {
		return nil
	}
	offset := int(start % uint64(s.blockSize))
	block := s.blocks[blockIdx]
	if offset >= len(block) {
		return nil
	}
	avail := len(block) - offset
	want := end - start
	if uint64(avail) > want {
		avail = int(want)
	}
	return block[offset : offset+avail]
}

// ReadAll collects [start,end) into a single contiguous slice, looping
// over Access as needed. Used where callers need owned, contiguous
// bytes (e.g. a whole packet) rather than a borrowed view.
func (s *Stream) ReadAll(start, end uint64) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("stream: invalid range [%d,%d)", start, end)
	}
	out := make([]byte, 0, end-start)
	for start < end {
		chunk := s.Access(start, end)
		if len(chunk) == 0 {
			return nil, fmt.Errorf("stream: short read at offset %d, wanted up to %d", start, end)
		}
		out = append(out, chunk...)
		start += uint64(len(chunk))
	}
	return out, nil
}

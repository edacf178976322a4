// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream

import (
	"fmt"

	"github.com/openusbtrace/usbtrace/pkg/id"
	"github.com/openusbtrace/usbtrace/pkg/snapshot"
)

// Codec converts a fixed-size record type to and from its on-stream
// byte representation. Size must be constant for all values of T.
type Codec[T any] interface {
	Size() int
	Encode(v T) []byte
	Decode(b []byte) T
}

// DataStream specialises Stream to a sequence of fixed-size records of
// type T, addressed by dense id.Id[T] values. No record is ever split
// across a block boundary: the active block is padded with zero bytes
// before a record that wouldn't fit is appended, so every block (save
// possibly the last) holds an integer number of records and Get/Range
// can compute a record's position arithmetically instead of scanning.
type DataStream[T any] struct {
	raw          *Stream
	codec        Codec[T]
	recordSize   int
	recordsPerBlock int
	count        *snapshot.Counter
}

// NewDataStream creates a DataStream backed by its own block-aligned
// byte Stream. blockSize defaults to DefaultBlockSize when <= 0.
func NewDataStream[T any](counterSet *snapshot.CounterSet, name string, blockSize int, codec Codec[T]) *DataStream[T] {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	recordSize := codec.Size()
	if recordSize <= 0 || recordSize > blockSize {
		panic(fmt.Sprintf("stream: record size %d does not fit in block size %d", recordSize, blockSize))
	}
	return &DataStream[T]{
		raw:             New(counterSet, name, blockSize),
		codec:           codec,
		recordSize:      recordSize,
		recordsPerBlock: blockSize / recordSize,
		count:           counterSet.New(name + ".count"),
	}
}

// Len returns the live number of records pushed so far.
func (d *DataStream[T]) Len() uint64 { return d.count.Load() }

// LenAt returns the number of records visible as of snap.
func (d *DataStream[T]) LenAt(snap snapshot.Snapshot) uint64 { return d.count.At(snap) }

// BlockCount returns the number of blocks allocated in the backing
// byte Stream, for the on-disk manifest of §6.5 (internal/checkpoint).
func (d *DataStream[T]) BlockCount() int { return d.raw.BlockCount() }

// ByteLen returns the backing byte Stream's live length, including any
// zero padding inserted to keep records block-aligned.
func (d *DataStream[T]) ByteLen() uint64 { return d.raw.Len() }

func (d *DataStream[T]) offset(i id.Id[T]) uint64 {
	n := uint64(i)
	blockIdx := n / uint64(d.recordsPerBlock)
	within := n % uint64(d.recordsPerBlock)
	return blockIdx*uint64(d.raw.blockSize) + within*uint64(d.recordSize)
}

// Push appends a single record and returns its newly assigned id.
func (d *DataStream[T]) Push(v T) id.Id[T] {
	d.raw.PadToBoundary(d.recordSize)
	newID := id.Id[T](d.count.Load())
	d.raw.Append(d.codec.Encode(v))
	d.count.Store(uint64(newID) + 1)
	return newID
}

// Append appends a slice of records as a contiguous run and returns
// the id.Range covering them.
func (d *DataStream[T]) Append(vs []T) id.Range[T] {
	start := id.Id[T](d.count.Load())
	for _, v := range vs {
		d.raw.PadToBoundary(d.recordSize)
		d.raw.Append(d.codec.Encode(v))
	}
	end := id.Id[T](uint64(start) + uint64(len(vs)))
	d.count.Store(uint64(end))
	return id.Range[T]{Start: start, End: end}
}

// Get returns the record for i.
func (d *DataStream[T]) Get(i id.Id[T]) (T, error) {
	var zero T
	if uint64(i) >= d.count.Load() {
		return zero, fmt.Errorf("stream: id %d out of range (len %d)", i, d.count.Load())
	}
	off := d.offset(i)
	b, err := d.raw.ReadAll(off, off+uint64(d.recordSize))
	if err != nil {
		return zero, err
	}
	return d.codec.Decode(b), nil
}

// GetRange returns every record in r, in order.
func (d *DataStream[T]) GetRange(r id.Range[T]) ([]T, error) {
	if r.Empty() {
		return nil, nil
	}
	out := make([]T, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		v, err := d.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Iter returns a lazy, finite, non-restartable iterator over r. Like
// GetRange, it reads each record with Get; nothing is cached.
func (d *DataStream[T]) Iter(r id.Range[T]) *Iterator[T] {
	return &Iterator[T]{ds: d, cur: r.Start, end: r.End}
}

// Iterator yields records one at a time via Next.
type Iterator[T any] struct {
	ds  *DataStream[T]
	cur id.Id[T]
	end id.Id[T]
}

// Next returns the next record, or ok=false once the range is exhausted.
func (it *Iterator[T]) Next() (v T, ok bool, err error) {
	if it.cur >= it.end {
		return v, false, nil
	}
	v, err = it.ds.Get(it.cur)
	it.cur++
	return v, err == nil, err
}

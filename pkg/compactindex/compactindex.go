// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package compactindex implements CompactIndex[K,V]: a monotonically
// increasing map from dense positions K to non-decreasing values V,
// run-length compressed so that the common case - a handful of long
// linear runs, such as an endpoint's transfer-index or cumulative
// data-byte counter - costs a small constant number of entries rather
// than one per key.
package compactindex

import (
	"errors"
	"sort"
	"sync"

	"github.com/openusbtrace/usbtrace/pkg/id"
)

// SequenceError is returned by Push when the next value would make the
// sequence decrease.
var SequenceError = errors.New("compactindex: value decreased")

// entry covers keys [baseKey, baseKey+runLen) with
// value(k) = baseValue + slope*(k-baseKey).
type entry struct {
	baseKey   uint64
	baseValue uint64
	slope     uint64
	runLen    uint64
}

func (e entry) valueAt(k uint64) uint64 {
	return e.baseValue + e.slope*(k-e.baseKey)
}

func (e entry) maxValue() uint64 {
	return e.valueAt(e.baseKey + e.runLen - 1)
}

// CompactIndex is a map from Id[K] (0, 1, 2, ... in push order) to
// Id[V] values that never decrease. A single writer calls Push; any
// number of readers call Get/TargetRange/BisectRangeLeft concurrently.
// mu guards the small, append-mostly entries slice - simpler than the
// original's lock-free arena and cheap enough in practice, since the
// only writer is the decoder goroutine and reads are brief.
type CompactIndex[K any, V any] struct {
	mu        sync.RWMutex
	entries   []entry
	count     uint64
	lastValue uint64
	hasLast   bool
}

// New returns an empty index.
func New[K any, V any]() *CompactIndex[K, V] {
	return &CompactIndex[K, V]{}
}

// Len returns the number of keys pushed.
func (ci *CompactIndex[K, V]) Len() uint64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.count
}

// Push appends the next value in key order. Returns SequenceError if v
// is less than the previously pushed value.
func (ci *CompactIndex[K, V]) Push(v id.Id[V]) error {
	ci.mu.Lock()
	defer ci.mu.Unlock()

	val := uint64(v)
	if ci.hasLast && val < ci.lastValue {
		return SequenceError
	}

	if len(ci.entries) == 0 {
		ci.entries = append(ci.entries, entry{baseKey: ci.count, baseValue: val, slope: 0, runLen: 1})
	} else {
		cur := &ci.entries[len(ci.entries)-1]
		switch {
		case cur.runLen == 1:
			cur.slope = val - cur.baseValue
			cur.runLen = 2
		case cur.valueAt(ci.count) == val:
			cur.runLen++
		default:
			ci.entries = append(ci.entries, entry{baseKey: ci.count, baseValue: val, slope: 0, runLen: 1})
		}
	}

	ci.lastValue = val
	ci.hasLast = true
	ci.count++
	return nil
}

// entryFor returns the index of the entry covering k.
func (ci *CompactIndex[K, V]) entryFor(k uint64) int {
	return sort.Search(len(ci.entries), func(i int) bool {
		e := ci.entries[i]
		return e.baseKey+e.runLen > k
	})
}

// Get returns the value mapped from k. k must be < Len().
func (ci *CompactIndex[K, V]) Get(k id.Id[K]) id.Id[V] {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	kk := uint64(k)
	idx := ci.entryFor(kk)
	if idx >= len(ci.entries) {
		if len(ci.entries) == 0 {
			return 0
		}
		idx = len(ci.entries) - 1
	}
	return id.Id[V](ci.entries[idx].valueAt(kk))
}

// TargetRange returns get(k)..get(k+1), or get(k)..total if k is the
// last pushed key.
func (ci *CompactIndex[K, V]) TargetRange(k id.Id[K], total id.Id[V]) id.Range[V] {
	start := ci.Get(k)
	if uint64(k)+1 >= ci.Len() {
		return id.Range[V]{Start: start, End: total}
	}
	return id.Range[V]{Start: start, End: ci.Get(k + 1)}
}

// BisectRangeLeft returns the leftmost key in [r.Start, r.End) whose
// mapped value is >= v, or r.End if none qualifies.
func (ci *CompactIndex[K, V]) BisectRangeLeft(r id.Range[K], v id.Id[V]) id.Id[K] {
	lo, hi := uint64(r.Start), uint64(r.End)
	target := uint64(v)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if ci.Get(id.Id[K](mid)).Value() >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return id.Id[K](lo)
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package snapshot implements the publishing/observation mechanism that
// lets capture readers see a consistent historical view of a growing
// capture while the decoder keeps appending to it.
//
// Every stream in the capture store registers one Counter with a
// shared CounterSet. The writer bumps a stream's Counter only after
// the corresponding bytes are durably visible in the stream, so any
// reader that observes Counter.Load() == L may read [0, L) of that
// stream without further synchronisation (Go's memory model gives
// atomic loads/stores the necessary acquire/release ordering). A
// Snapshot freezes every counter's value at one instant; composite
// views like CaptureSnapshot also bundle a `complete` flag.
package snapshot

import (
	"sync"
	"sync/atomic"
)

// Counter is a single monotonically-increasing length published by one
// writer and observed by many readers.
type Counter struct {
	idx int
	v   atomic.Uint64
}

// Store publishes a new length. Callers must only ever grow it.
func (c *Counter) Store(n uint64) { c.v.Store(n) }

// Load returns the live (most recently published) length.
func (c *Counter) Load() uint64 { return c.v.Load() }

// At returns the length as of the given snapshot.
func (c *Counter) At(s Snapshot) uint64 {
	if c == nil || c.idx >= len(s.values) {
		return 0
	}
	return s.values[c.idx]
}

// CounterSet issues and snapshots a growing set of named counters.
type CounterSet struct {
	mu       sync.Mutex
	names    []string
	counters []*Counter
}

// NewCounterSet returns an empty set.
func NewCounterSet() *CounterSet {
	return &CounterSet{}
}

// New registers and returns a fresh counter starting at zero.
func (cs *CounterSet) New(name string) *Counter {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c := &Counter{idx: len(cs.counters)}
	cs.counters = append(cs.counters, c)
	cs.names = append(cs.names, name)
	return c
}

// Snapshot captures the current value of every registered counter.
func (cs *CounterSet) Snapshot() Snapshot {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	values := make([]uint64, len(cs.counters))
	for i, c := range cs.counters {
		values[i] = c.Load()
	}
	return Snapshot{values: values}
}

// Names returns the registered counter names, in registration order.
// Used by internal/checkpoint to label a dumped manifest.
func (cs *CounterSet) Names() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, len(cs.names))
	copy(out, cs.names)
	return out
}

// Values returns the live value of every counter, in registration order.
func (cs *CounterSet) Values() []uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]uint64, len(cs.counters))
	for i, c := range cs.counters {
		out[i] = c.Load()
	}
	return out
}

// Snapshot is an immutable view of every stream's length at one moment.
type Snapshot struct {
	values []uint64
}

// Live is the zero Snapshot; At calls against it always return 0, so it
// must never be used as a stand-in for "no bound" - callers that want
// the live tail should call Counter.Load directly instead.
var Live = Snapshot{}

// CaptureSnapshot bundles a Snapshot of all of a capture's streams with
// the writer's completion flag, giving readers one coherent view of
// both "how much data" and "is the writer still appending".
type CaptureSnapshot struct {
	Snapshot
	Complete bool
}

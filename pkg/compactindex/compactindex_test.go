// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package compactindex

import (
	"errors"
	"testing"

	"github.com/openusbtrace/usbtrace/pkg/id"
)

type key struct{}
type val struct{}

func TestPushRejectsDecrease(t *testing.T) {
	ci := New[key, val]()
	if err := ci.Push(id.Id[val](5)); err != nil {
		t.Fatalf("Push(5): %v", err)
	}
	if err := ci.Push(id.Id[val](3)); !errors.Is(err, SequenceError) {
		t.Fatalf("Push(3) after 5: got %v, want SequenceError", err)
	}
}

func TestGetConstantRun(t *testing.T) {
	ci := New[key, val]()
	for i := 0; i < 5; i++ {
		if err := ci.Push(id.Id[val](42)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for k := uint64(0); k < 5; k++ {
		if got := ci.Get(id.Id[key](k)); got != 42 {
			t.Fatalf("Get(%d) = %d, want 42", k, got)
		}
	}
}

func TestGetLinearRun(t *testing.T) {
	ci := New[key, val]()
	for i := uint64(0); i < 10; i++ {
		if err := ci.Push(id.Id[val](i * 3)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for k := uint64(0); k < 10; k++ {
		if got := ci.Get(id.Id[key](k)); uint64(got) != k*3 {
			t.Fatalf("Get(%d) = %d, want %d", k, got, k*3)
		}
	}
}

func TestTargetRange(t *testing.T) {
	ci := New[key, val]()
	// Keys 0-2 map to 0, keys 3-4 map to 3, key 5 maps to 5.
	for _, v := range []uint64{0, 0, 0, 3, 3, 5} {
		if err := ci.Push(id.Id[val](v)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	total := id.Id[val](8)
	r := ci.TargetRange(id.Id[key](1), total)
	if r.Start != 0 || r.End != 0 {
		t.Fatalf("TargetRange(1) = %+v, want [0,0)", r)
	}
	r = ci.TargetRange(id.Id[key](3), total)
	if r.Start != 3 || r.End != 3 {
		t.Fatalf("TargetRange(3) = %+v, want [3,3)", r)
	}
	r = ci.TargetRange(id.Id[key](5), total)
	if r.Start != 5 || r.End != total {
		t.Fatalf("TargetRange(5) = %+v, want [5,%d)", r, total)
	}
}

func TestBisectRangeLeft(t *testing.T) {
	ci := New[key, val]()
	for _, v := range []uint64{0, 0, 2, 2, 2, 7, 7, 10} {
		if err := ci.Push(id.Id[val](v)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	full := id.Range[key]{Start: 0, End: id.Id[key](ci.Len())}

	cases := []struct {
		target uint64
		want   uint64
	}{
		{0, 0},
		{1, 2},
		{2, 2},
		{3, 5},
		{7, 5},
		{8, 7},
		{10, 7},
		{11, 8}, // not found: returns range end
	}
	for _, c := range cases {
		got := ci.BisectRangeLeft(full, id.Id[val](c.target))
		if uint64(got) != c.want {
			t.Errorf("BisectRangeLeft(%d) = %d, want %d", c.target, got, c.want)
		}
	}
}

func TestLenTracksPushes(t *testing.T) {
	ci := New[key, val]()
	for i := 0; i < 37; i++ {
		if err := ci.Push(id.Id[val](uint64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if ci.Len() != 37 {
		t.Fatalf("Len() = %d, want 37", ci.Len())
	}
}

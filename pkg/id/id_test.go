// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package id

import "testing"

type widget struct{}

func TestRangeLen(t *testing.T) {
	r := Range[widget]{Start: 3, End: 7}
	if got := r.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}
	if r.Empty() {
		t.Fatalf("Empty() = true for non-empty range")
	}
}

func TestRangeEmpty(t *testing.T) {
	for _, r := range []Range[widget]{
		{Start: 5, End: 5},
		{Start: 5, End: 3},
	} {
		if !r.Empty() {
			t.Fatalf("Empty() = false for %+v", r)
		}
		if got := r.Len(); got != 0 {
			t.Fatalf("Len() = %d, want 0 for %+v", got, r)
		}
	}
}

func TestRangeContains(t *testing.T) {
	r := Range[widget]{Start: 10, End: 20}
	cases := []struct {
		v    Id[widget]
		want bool
	}{
		{9, false},
		{10, true},
		{15, true},
		{19, true},
		{20, false},
	}
	for _, c := range cases {
		if got := r.Contains(c.v); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestIdValueAndString(t *testing.T) {
	i := Id[widget](42)
	if i.Value() != 42 {
		t.Fatalf("Value() = %d, want 42", i.Value())
	}
	if i.String() != "42" {
		t.Fatalf("String() = %q, want %q", i.String(), "42")
	}
}

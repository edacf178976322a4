// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"testing"

	"github.com/openusbtrace/usbtrace/pkg/capture"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	c := capture.New()

	var buf bytes.Buffer
	if err := Dump(&buf, c); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	entries, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("Load returned no entries for a freshly created capture")
	}

	var sawStream, sawCounter bool
	for _, e := range entries {
		switch e.Kind {
		case KindStream:
			sawStream = true
			if e.Name == "" {
				t.Errorf("stream entry with empty name: %+v", e)
			}
		case KindCounter:
			sawCounter = true
			if e.Name == "" {
				t.Errorf("counter entry with empty name: %+v", e)
			}
		default:
			t.Errorf("entry with unexpected kind %q", e.Kind)
		}
	}
	if !sawStream {
		t.Error("manifest has no stream entries")
	}
	if !sawCounter {
		t.Error("manifest has no counter entries")
	}
}

func TestDumpReflectsStreamGrowth(t *testing.T) {
	c := capture.New()
	w := c.Writer()

	before := byteLenOf(t, c, "packet_data")

	w.AppendPacket(0, []byte{0x2d, 0x00})
	w.AppendPacket(1000, make([]byte, 64))

	after := byteLenOf(t, c, "packet_data")
	if after <= before {
		t.Fatalf("packet_data byte_len = %d after appends, want > %d", after, before)
	}
}

func byteLenOf(t *testing.T, c *capture.Capture, name string) int64 {
	t.Helper()
	for _, e := range manifestFor(t, c) {
		if e.Kind == KindStream && e.Name == name {
			return e.ByteLen
		}
	}
	t.Fatalf("no stream entry named %q", name)
	return 0
}

func manifestFor(t *testing.T, c *capture.Capture) []Entry {
	t.Helper()
	var buf bytes.Buffer
	if err := Dump(&buf, c); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	entries, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return entries
}

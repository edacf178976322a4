// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"testing"
	"time"
)

func TestPcapRoundTripNormalisesFirstPacketToZero(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	saver, err := NewPcapSaver(&buf, start)
	if err != nil {
		t.Fatalf("NewPcapSaver: %v", err)
	}
	packets := []Packet{
		{TimestampNs: 0, Data: []byte{0x2D, 0x00, 0x00}},        // SOF
		{TimestampNs: 1_000_000, Data: []byte{0x69, 0x00, 0x00}}, // IN, 1ms later
	}
	for _, p := range packets {
		if err := saver.Add(p); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := saver.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loader, err := NewPcapLoader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewPcapLoader: %v", err)
	}

	var got []Packet
	for {
		pkt, ok, err := loader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, pkt)
	}

	if len(got) != 2 {
		t.Fatalf("read %d packets, want 2", len(got))
	}
	if got[0].TimestampNs != 0 {
		t.Fatalf("first packet TimestampNs = %d, want 0", got[0].TimestampNs)
	}
	// pcap's classic format only has microsecond resolution, so allow
	// for truncation to the nearest microsecond.
	if d := int64(got[1].TimestampNs) - 1_000_000; d < -1000 || d > 1000 {
		t.Fatalf("second packet TimestampNs = %d, want ~1000000", got[1].TimestampNs)
	}
	if !bytes.Equal(got[0].Data, packets[0].Data) || !bytes.Equal(got[1].Data, packets[1].Data) {
		t.Fatalf("packet data mismatch: got %v", got)
	}
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package natsfeed

import (
	"context"
	"testing"

	"github.com/openusbtrace/usbtrace/internal/backend"
	"github.com/openusbtrace/usbtrace/pkg/capture"
)

func TestScanListsConfiguredDevicesWithoutConnecting(t *testing.T) {
	f := New(Config{
		Address: "nats://example.invalid:4222",
		Subject: "usbtrace.capture.bus0",
		Serial:  "REMOTE-1",
		Desc:    "remote analyzer on bus0",
		Speeds:  []capture.Speed{capture.SpeedHigh, capture.SpeedFull},
	})

	devs, err := f.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devs) != 1 {
		t.Fatalf("Scan() returned %d devices, want 1", len(devs))
	}
	if devs[0].Serial != "REMOTE-1" || devs[0].Description != "remote analyzer on bus0" {
		t.Fatalf("Scan()[0] = %+v", devs[0])
	}
	if len(devs[0].SupportedSpeeds) != 2 {
		t.Fatalf("Scan()[0].SupportedSpeeds = %v", devs[0].SupportedSpeeds)
	}
}

func TestOpenRejectsUnknownSerial(t *testing.T) {
	f := New(Config{Serial: "KNOWN"})
	_, err := f.Open(context.Background(), backend.Device{Serial: "UNKNOWN"})
	if err == nil {
		t.Fatalf("Open(UNKNOWN) err = nil, want an error")
	}
}

func TestOpenReturnsHandleForKnownSerial(t *testing.T) {
	f := New(Config{Serial: "KNOWN", Address: "nats://example.invalid:4222"})
	h, err := f.Open(context.Background(), backend.Device{Serial: "KNOWN"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h == nil {
		t.Fatalf("Open() returned nil handle")
	}
}

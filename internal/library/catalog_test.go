// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package library

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.sqlite3")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecordAndList(t *testing.T) {
	c := openTestCatalog(t)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := c.Record(Entry{
		Path:        "captures/one.pcap",
		Serial:      "SN-1",
		Description: "first capture",
		Speed:       "High",
		StartedAt:   start,
		PacketCount: 100,
		ByteCount:   4096,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := c.Record(Entry{
		Path:      "captures/two.pcap",
		Serial:    "SN-2",
		StartedAt: start.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := c.List(Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(all))
	}
	// most recent first
	if all[0].Serial != "SN-2" {
		t.Fatalf("List()[0].Serial = %q, want SN-2", all[0].Serial)
	}

	filtered, err := c.List(Query{Serial: "SN-1"})
	if err != nil {
		t.Fatalf("List(serial): %v", err)
	}
	if len(filtered) != 1 || filtered[0].Path != "captures/one.pcap" {
		t.Fatalf("List(serial=SN-1) = %+v", filtered)
	}
}

func TestFindByPath(t *testing.T) {
	c := openTestCatalog(t)
	c.Record(Entry{Path: "captures/x.pcap", Serial: "SN-X", StartedAt: time.Now()})

	e, err := c.FindByPath("captures/x.pcap")
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if e.Serial != "SN-X" {
		t.Fatalf("FindByPath().Serial = %q, want SN-X", e.Serial)
	}

	if _, err := c.FindByPath("nope"); err == nil {
		t.Fatalf("FindByPath(nope) err = nil, want sql.ErrNoRows")
	}
}

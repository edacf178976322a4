// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package item

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/openusbtrace/usbtrace/internal/decoder"
	"github.com/openusbtrace/usbtrace/pkg/capture"
)

// --- local copies of the packet builders used by internal/decoder's
// scenario tests, kept independent so this package's tests don't
// import an internal test helper from another package. ---

func token(pid capture.PID, addr uint8, ep uint8) []byte {
	b0 := (addr & 0x7F) | ((ep & 0x01) << 7)
	b1 := (ep >> 1) & 0x07
	return []byte{byte(pid), b0, b1}
}

func data(pid capture.PID, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload)+2)
	out = append(out, byte(pid))
	out = append(out, payload...)
	out = append(out, 0, 0)
	return out
}

func handshake(pid capture.PID) []byte { return []byte{byte(pid)} }

func setupPayload(reqType, request uint8, value, index, length uint16) []byte {
	b := make([]byte, 8)
	b[0] = reqType
	b[1] = request
	binary.LittleEndian.PutUint16(b[2:], value)
	binary.LittleEndian.PutUint16(b[4:], index)
	binary.LittleEndian.PutUint16(b[6:], length)
	return b
}

func buildControlReadCapture(t *testing.T) *capture.CaptureReader {
	t.Helper()
	// Drives the real decoder through S1 (simple control read of a
	// device descriptor) so the item-source tests exercise an
	// actually-decoded capture rather than a hand-assembled one.
	c := capture.New()
	w := c.Writer()
	dec := decoder.New(w)

	var ts uint64
	feed := func(pkts ...[]byte) {
		for _, p := range pkts {
			ts += 100
			if err := dec.HandleRawPacket(ts, p); err != nil {
				t.Fatalf("HandleRawPacket: %v", err)
			}
		}
	}

	feed(
		token(capture.PIDSetup, 0, 0),
		data(capture.PIDData0, setupPayload(0x80, 0x06, 0x0100, 0, 18)),
		handshake(capture.PIDAck),

		token(capture.PIDIn, 0, 0),
		data(capture.PIDData1, make([]byte, 18)),
		handshake(capture.PIDAck),

		token(capture.PIDOut, 0, 0),
		data(capture.PIDData0, nil),
		handshake(capture.PIDAck),
	)
	if err := dec.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	return w.Reader()
}

func TestTrafficSourceRootsAndChildren(t *testing.T) {
	r := buildControlReadCapture(t)
	ts := NewTrafficSource(r)

	if got := ts.RootCount(); got != 1 {
		t.Fatalf("RootCount() = %d, want 1", got)
	}
	root, err := ts.Root(0)
	if err != nil {
		t.Fatalf("Root(0): %v", err)
	}
	if root.Kind != KindGroup {
		t.Fatalf("Root(0).Kind = %v, want KindGroup", root.Kind)
	}
	if got := ts.Status(root); got != StatusComplete {
		t.Fatalf("Status(root) = %v, want StatusComplete", got)
	}

	n, err := ts.ChildCount(root)
	if err != nil {
		t.Fatalf("ChildCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("ChildCount(root) = %d, want 3 transactions", n)
	}

	txnRef, err := ts.Child(root, 0)
	if err != nil {
		t.Fatalf("Child(root,0): %v", err)
	}
	if txnRef.Kind != KindTransaction {
		t.Fatalf("Child(root,0).Kind = %v, want KindTransaction", txnRef.Kind)
	}

	pktCount, err := ts.ChildCount(txnRef)
	if err != nil {
		t.Fatalf("ChildCount(txn): %v", err)
	}
	if pktCount != 3 {
		t.Fatalf("ChildCount(txn) = %d, want 3 packets (SETUP/DATA0/ACK)", pktCount)
	}
}

func TestTrafficSourceDescriptionsAreNonEmpty(t *testing.T) {
	r := buildControlReadCapture(t)
	ts := NewTrafficSource(r)

	root, err := ts.Root(0)
	if err != nil {
		t.Fatalf("Root(0): %v", err)
	}
	desc, err := ts.GroupDescription(root)
	if err != nil {
		t.Fatalf("GroupDescription: %v", err)
	}
	if desc == "" {
		t.Fatalf("GroupDescription() is empty")
	}
	if !strings.Contains(desc, "18") {
		t.Fatalf("GroupDescription() = %q, want it to mention the 18-byte descriptor length", desc)
	}

	txnRef, err := ts.Child(root, 0)
	if err != nil {
		t.Fatalf("Child(root,0): %v", err)
	}
	txnDesc, err := ts.TransactionDescription(txnRef)
	if err != nil {
		t.Fatalf("TransactionDescription: %v", err)
	}
	if txnDesc == "" {
		t.Fatalf("TransactionDescription() is empty")
	}

	pktRef, err := ts.Child(txnRef, 0)
	if err != nil {
		t.Fatalf("Child(txn,0): %v", err)
	}
	pktDesc, err := ts.PacketDescription(pktRef)
	if err != nil {
		t.Fatalf("PacketDescription: %v", err)
	}
	if pktDesc == "" {
		t.Fatalf("PacketDescription() is empty")
	}
}

func TestTrafficSourceConnectorsFixedWidth(t *testing.T) {
	r := buildControlReadCapture(t)
	ts := NewTrafficSource(r)

	root, err := ts.Root(0)
	if err != nil {
		t.Fatalf("Root(0): %v", err)
	}
	c1, err := ts.Connectors(root)
	if err != nil {
		t.Fatalf("Connectors(root): %v", err)
	}

	txnRef, err := ts.Child(root, 1)
	if err != nil {
		t.Fatalf("Child(root,1): %v", err)
	}
	c2, err := ts.Connectors(txnRef)
	if err != nil {
		t.Fatalf("Connectors(txn): %v", err)
	}
	if len(c1) != len(c2) {
		t.Fatalf("connector widths differ: %d vs %d, want rows of fixed width", len(c1), len(c2))
	}
}

func TestDeviceSourceRootsExcludeAddressZero(t *testing.T) {
	c := capture.New()
	w := c.Writer()
	w.DeviceByAddress(5) // create device index 1 at bus address 5

	ds := NewDeviceSource(w.Reader())
	if got := ds.RootCount(); got != 1 {
		t.Fatalf("RootCount() = %d, want 1 (address 0 excluded)", got)
	}
	root, err := ds.Root(0)
	if err != nil {
		t.Fatalf("Root(0): %v", err)
	}
	if uint64(root.Device) != 1 {
		t.Fatalf("Root(0).Device = %d, want 1", root.Device)
	}
}

func TestDeviceSourceVersionBumpsOnDescriptor(t *testing.T) {
	c := capture.New()
	w := c.Writer()
	dev := w.DeviceByAddress(9)
	ds := NewDeviceSource(w.Reader())

	root, err := ds.Root(0)
	if err != nil {
		t.Fatalf("Root(0): %v", err)
	}
	_, changed, err := ds.ItemUpdate(root)
	if err != nil {
		t.Fatalf("ItemUpdate: %v", err)
	}
	if changed {
		t.Fatalf("ItemUpdate reported a change before any descriptor arrived")
	}

	dev.SetDescriptor(capture.DeviceDescriptor{Length: 18, DescriptorType: 1})
	_, changed, err = ds.ItemUpdate(root)
	if err != nil {
		t.Fatalf("ItemUpdate: %v", err)
	}
	if !changed {
		t.Fatalf("ItemUpdate did not report a change after SetDescriptor bumped the version")
	}
}

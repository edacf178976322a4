// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// --- packet builders, mirroring USB 2.0's on-wire packet shapes ---

func token(pid capture.PID, addr uint8, ep uint8) []byte {
	b0 := (addr & 0x7F) | ((ep & 0x01) << 7)
	b1 := (ep >> 1) & 0x07
	return []byte{byte(pid), b0, b1}
}

func sof(frame uint16) []byte {
	return []byte{byte(capture.PIDSOF), byte(frame), byte(frame >> 8)}
}

func data(pid capture.PID, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload)+2)
	out = append(out, byte(pid))
	out = append(out, payload...)
	out = append(out, 0, 0) // CRC16, unchecked
	return out
}

func handshake(pid capture.PID) []byte { return []byte{byte(pid)} }

func split(complete bool, epType capture.EndpointType, hub, port uint8) []byte {
	b1 := hub & 0x7F
	if complete {
		b1 |= 0x80
	}
	et := byte(epType - 1)
	b3 := (et & 0x03) << 1
	return []byte{byte(capture.PIDSplit), b1, port & 0x7F, b3}
}

func setupPayload(reqType, request uint8, value, index, length uint16) []byte {
	b := make([]byte, 8)
	b[0] = reqType
	b[1] = request
	binary.LittleEndian.PutUint16(b[2:], value)
	binary.LittleEndian.PutUint16(b[4:], index)
	binary.LittleEndian.PutUint16(b[6:], length)
	return b
}

func malformed() []byte { return []byte{0xFF} }

type harness struct {
	t       *testing.T
	capture *capture.Capture
	writer  *capture.CaptureWriter
	dec     *Decoder
	ts      uint64
}

func newHarness(t *testing.T) *harness {
	c := capture.New()
	w := c.Writer()
	return &harness{t: t, capture: c, writer: w, dec: New(w)}
}

func (h *harness) feed(pkts ...[]byte) {
	h.t.Helper()
	for _, p := range pkts {
		h.ts += 100
		if err := h.dec.HandleRawPacket(h.ts, p); err != nil {
			h.t.Fatalf("HandleRawPacket: %v", err)
		}
	}
}

func (h *harness) finish() {
	h.t.Helper()
	if err := h.dec.Finish(); err != nil {
		h.t.Fatalf("Finish: %v", err)
	}
}

// S1 - simple control read of an 18-byte device descriptor.
func TestScenarioControlDeviceDescriptor(t *testing.T) {
	h := newHarness(t)

	desc18 := []byte{
		18, 1, // bLength, bDescriptorType
		0x00, 0x02, // bcdUSB = 0x0200
		0, 0, 0, // class/subclass/protocol
		64,         // bMaxPacketSize0
		0x34, 0x12, // idVendor
		0x78, 0x56, // idProduct
		0x00, 0x01, // bcdDevice
		0, 0, 0, // string ids
		1, // bNumConfigurations
	}

	h.feed(
		token(capture.PIDSetup, 0, 0),
		data(capture.PIDData0, setupPayload(0x80, 0x06, 0x0100, 0, 18)),
		handshake(capture.PIDAck),

		token(capture.PIDIn, 0, 0),
		data(capture.PIDData1, desc18),
		handshake(capture.PIDAck),

		token(capture.PIDOut, 0, 0),
		data(capture.PIDData0, nil),
		handshake(capture.PIDAck),
	)
	h.finish()

	r := h.writer.Reader()
	if got := r.TrafficItemCount(); got != 1 {
		t.Fatalf("TrafficItemCount() = %d, want 1", got)
	}
	if got := r.TransactionCount(); got != 3 {
		t.Fatalf("TransactionCount() = %d, want 3", got)
	}

	dev, err := r.Device(id.Id[capture.Device](0))
	if err != nil {
		t.Fatalf("Device(0): %v", err)
	}
	got, ok := dev.Descriptor()
	if !ok {
		t.Fatalf("device descriptor not recorded")
	}
	if got.Length != 18 || got.DescriptorType != 1 {
		t.Fatalf("descriptor = %+v, want length=18 type=1", got)
	}
	if got.USBVersion != 0x0200 {
		t.Fatalf("USBVersion = %#04x, want 0x0200", got.USBVersion)
	}
	if got.MaxPacketSize0 != 64 {
		t.Fatalf("MaxPacketSize0 = %d, want 64", got.MaxPacketSize0)
	}
}

// S2 - two full-size bulk IN transactions followed by a short one form
// one transfer group, ending on the short packet.
func TestScenarioShortBulkInEndsTransfer(t *testing.T) {
	h := newHarness(t)

	// No descriptor is fed, so the decoder does not know this
	// endpoint's max packet size; the first two packets are 64 bytes
	// and the third is short (8).
	h.feed(
		token(capture.PIDIn, 5, 1),
		data(capture.PIDData1, make([]byte, 64)),
		handshake(capture.PIDAck),

		token(capture.PIDIn, 5, 1),
		data(capture.PIDData0, make([]byte, 64)),
		handshake(capture.PIDAck),

		token(capture.PIDIn, 5, 1),
		data(capture.PIDData1, make([]byte, 8)),
		handshake(capture.PIDAck),
	)
	h.finish()

	r := h.writer.Reader()
	if got := r.TrafficItemCount(); got != 1 {
		t.Fatalf("TrafficItemCount() = %d, want 1", got)
	}
	entryID, err := r.TrafficItemEntry(id.Id[capture.TrafficItem](0))
	if err != nil {
		t.Fatalf("TrafficItemEntry: %v", err)
	}
	entry, err := r.TransferGroupEntry(entryID)
	if err != nil {
		t.Fatalf("TransferGroupEntry: %v", err)
	}
	rng := r.EndpointTransferRange(entry.EndpointID, id.Id[capture.EPTransfer](entry.EPTransferID))
	if rng.Len() != 3 {
		t.Fatalf("transfer spans %d transactions, want 3", rng.Len())
	}
}

// S3 - twenty NAKed IN polls, then a successful short IN, splits into a
// polling group followed by a new transfer group.
func TestScenarioNakPolling(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 20; i++ {
		h.feed(
			token(capture.PIDIn, 2, 1),
			handshake(capture.PIDNak),
		)
	}
	h.feed(
		token(capture.PIDIn, 2, 1),
		data(capture.PIDData0, make([]byte, 32)),
		handshake(capture.PIDAck),
	)
	h.finish()

	r := h.writer.Reader()
	if got := r.TrafficItemCount(); got != 2 {
		t.Fatalf("TrafficItemCount() = %d, want 2 (polling group + successful group)", got)
	}

	firstEntryID, _ := r.TrafficItemEntry(id.Id[capture.TrafficItem](0))
	firstEntry, _ := r.TransferGroupEntry(firstEntryID)
	rng := r.EndpointTransferRange(firstEntry.EndpointID, id.Id[capture.EPTransfer](firstEntry.EPTransferID))
	if rng.Len() != 20 {
		t.Fatalf("polling group spans %d transactions, want 20", rng.Len())
	}

	secondEntryID, _ := r.TrafficItemEntry(id.Id[capture.TrafficItem](1))
	secondEntry, _ := r.TransferGroupEntry(secondEntryID)
	if secondEntry.EPTransferID == firstEntry.EPTransferID {
		t.Fatalf("successful transaction wasn't split into a new transfer group")
	}
}

// S4 - hub split isochronous OUT: SSPLIT+OUT+DATA0 then CSPLIT+OUT (no
// handshake) form a single two-transaction group, with the payload
// attributed to the Complete transaction.
func TestScenarioHubSplitIsochronousOut(t *testing.T) {
	h := newHarness(t)

	payload := []byte{1, 2, 3, 4}
	h.feed(
		split(false, capture.EndpointTypeIsochronous, 3, 1),
		token(capture.PIDOut, 7, 2),
		data(capture.PIDData0, payload),

		split(true, capture.EndpointTypeIsochronous, 3, 1),
		token(capture.PIDOut, 7, 2),
	)
	h.finish()

	r := h.writer.Reader()
	if got := r.TrafficItemCount(); got != 1 {
		t.Fatalf("TrafficItemCount() = %d, want 1", got)
	}
	if got := r.TransactionCount(); got != 2 {
		t.Fatalf("TransactionCount() = %d, want 2", got)
	}

	txn2, err := r.Transaction(id.Id[capture.Transaction](1))
	if err != nil {
		t.Fatalf("Transaction(1): %v", err)
	}
	if !txn2.Split.Complete {
		t.Fatalf("second transaction is not the Complete split")
	}
	got, err := r.TransactionPayload(txn2)
	if err != nil {
		t.Fatalf("TransactionPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %v, want %v attributed to the Complete transaction", got, payload)
	}
}

// S5 - a thousand SOFs coalesce into a single framing transfer group of
// 1000 one-packet transactions.
func TestScenarioSOFCoalescing(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 1000; i++ {
		h.feed(sof(uint16(i)))
	}
	h.finish()

	r := h.writer.Reader()
	if got := r.TrafficItemCount(); got != 1 {
		t.Fatalf("TrafficItemCount() = %d, want 1", got)
	}
	if got := r.TransactionCount(); got != 1000 {
		t.Fatalf("TransactionCount() = %d, want 1000", got)
	}
	entryID, _ := r.TrafficItemEntry(id.Id[capture.TrafficItem](0))
	entry, _ := r.TransferGroupEntry(entryID)
	if entry.EndpointID != capture.EndpointFraming {
		t.Fatalf("group endpoint = %d, want FRAMING (%d)", entry.EndpointID, capture.EndpointFraming)
	}
	rng := r.EndpointTransferRange(entry.EndpointID, id.Id[capture.EPTransfer](entry.EPTransferID))
	if rng.Len() != 1000 {
		t.Fatalf("group spans %d transactions, want 1000", rng.Len())
	}
}

// S6 - a malformed packet between two valid transactions on the same
// endpoint forms its own one-packet Invalid group and does not disturb
// the surrounding groups.
func TestScenarioMalformedPacketIsolation(t *testing.T) {
	h := newHarness(t)

	h.feed(
		token(capture.PIDIn, 9, 1),
		data(capture.PIDData0, []byte{1, 2, 3}),
		handshake(capture.PIDAck),

		malformed(),

		token(capture.PIDIn, 9, 1),
		data(capture.PIDData0, []byte{4, 5, 6}),
		handshake(capture.PIDAck),
	)
	h.finish()

	r := h.writer.Reader()
	if got := r.TransactionCount(); got != 3 {
		t.Fatalf("TransactionCount() = %d, want 3", got)
	}
	malformedTxn, err := r.Transaction(id.Id[capture.Transaction](1))
	if err != nil {
		t.Fatalf("Transaction(1): %v", err)
	}
	if malformedTxn.EndpointID != capture.EndpointInvalid {
		t.Fatalf("malformed transaction endpoint = %d, want INVALID (%d)", malformedTxn.EndpointID, capture.EndpointInvalid)
	}
	if malformedTxn.Packets[1]-malformedTxn.Packets[0] != 1 {
		t.Fatalf("malformed transaction spans %d packets, want 1", malformedTxn.Packets[1]-malformedTxn.Packets[0])
	}

	// Both surrounding transactions remain on the real endpoint, not
	// the INVALID one.
	first, _ := r.Transaction(id.Id[capture.Transaction](0))
	last, _ := r.Transaction(id.Id[capture.Transaction](2))
	if first.EndpointID != last.EndpointID {
		t.Fatalf("surrounding transactions landed on different endpoints: %d vs %d", first.EndpointID, last.EndpointID)
	}
	if first.EndpointID == capture.EndpointInvalid {
		t.Fatalf("surrounding transactions misclassified as INVALID")
	}
}

// Property 1: packet round-trip.
func TestPropertyPacketRoundTrip(t *testing.T) {
	h := newHarness(t)
	pkts := [][]byte{
		token(capture.PIDIn, 1, 1),
		data(capture.PIDData0, []byte{9, 9, 9}),
		handshake(capture.PIDAck),
	}
	h.feed(pkts...)
	h.finish()

	r := h.writer.Reader()
	for i, want := range pkts {
		got, err := r.Packet(id.Id[capture.Packet](i))
		if err != nil {
			t.Fatalf("Packet(%d): %v", i, err)
		}
		if string(got) != string(want) {
			t.Fatalf("Packet(%d) = %v, want %v", i, got, want)
		}
	}
}

// Property 3: transaction cover - every packet belongs to exactly one
// transaction, and the ranges partition [0, packet_count).
func TestPropertyTransactionCover(t *testing.T) {
	h := newHarness(t)
	h.feed(
		token(capture.PIDIn, 1, 1),
		data(capture.PIDData0, []byte{1}),
		handshake(capture.PIDAck),
		malformed(),
		token(capture.PIDIn, 1, 1),
		handshake(capture.PIDNak),
	)
	h.finish()

	r := h.writer.Reader()
	n := r.TransactionCount()
	var next uint64
	for i := uint64(0); i < n; i++ {
		txn, err := r.Transaction(id.Id[capture.Transaction](i))
		if err != nil {
			t.Fatalf("Transaction(%d): %v", i, err)
		}
		if txn.Packets[0] != next {
			t.Fatalf("transaction %d starts at packet %d, want %d (no gaps/overlaps)", i, txn.Packets[0], next)
		}
		next = txn.Packets[1]
	}
	if next != r.PacketCount() {
		t.Fatalf("transactions cover up to packet %d, want %d", next, r.PacketCount())
	}
}

// Property 7: descriptor versioning.
func TestPropertyDescriptorVersioning(t *testing.T) {
	h := newHarness(t)
	dev, err := h.writer.Device(id.Id[capture.Device](0))
	if err != nil {
		t.Fatalf("Device(0): %v", err)
	}
	v0 := dev.Version()
	if v0 != dev.Version() {
		t.Fatalf("version changed with no intervening decoder activity")
	}

	h.feed(
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
	h.finish()

	if dev.Version() <= v0 {
		t.Fatalf("version did not increase after a descriptor-bearing control transfer: %d -> %d", v0, dev.Version())
	}
}

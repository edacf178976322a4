// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import "github.com/openusbtrace/usbtrace/pkg/id"

// CaptureWriter is the single mutating handle on a Capture. Only the
// decoder holds one. Every method here corresponds to one append (or,
// for DeviceData, one versioned in-place update) from §3/§4.
type CaptureWriter struct{ c *Capture }

// Reader returns a reader handle sharing this writer's Capture.
func (w *CaptureWriter) Reader() *CaptureReader { return w.c.Reader() }

// Capture exposes the underlying store, e.g. for internal/checkpoint.
func (w *CaptureWriter) Capture() *Capture { return w.c }

// AppendPacket stores a raw captured packet and its timestamp,
// returning its newly assigned PacketId and the byte offset at which
// its raw bytes begin in packet_data (so callers can compute payload
// sub-ranges without a second lookup).
func (w *CaptureWriter) AppendPacket(timestampNs uint64, data []byte) (id.Id[Packet], uint64) {
	c := w.c
	offset := c.packetData.Len()
	c.packetData.Append(data)
	pid := id.Id[Packet](c.packetIndex.Push(offset))
	c.packetTimes.Push(timestampNs)
	return pid, offset
}

// PacketCount returns how many packets have been stored.
func (w *CaptureWriter) PacketCount() uint64 { return w.c.packetIndex.Len() }

// PushTransaction appends a completed Transaction record.
func (w *CaptureWriter) PushTransaction(t Transaction) id.Id[Transaction] {
	return w.c.transactions.Push(t)
}

// PushTransferGroupEntry appends one half (start or end) of a transfer
// group's pair of entries.
func (w *CaptureWriter) PushTransferGroupEntry(rec TransferGroupEntryRecord) id.Id[TransferGroupEntry] {
	return w.c.transferGroupEntries.Push(rec)
}

// PushTrafficItem appends a new top-level item referencing a
// TransferGroupEntry (which must have IsStart=true).
func (w *CaptureWriter) PushTrafficItem(entry id.Id[TransferGroupEntry]) id.Id[TrafficItem] {
	return id.Id[TrafficItem](w.c.trafficItems.Push(uint64(entry)))
}

// EnsureEndpoint looks up (or creates) the endpoint for (addr,dir,num),
// creating its DeviceData too if the device address is new. It does
// not touch the endpoint-state vectors; those are written by
// AppendEndpointState, called separately once per transfer-group
// entry (§4.4.9).
func (w *CaptureWriter) EnsureEndpoint(key EndpointKey) (epID uint64, created bool) {
	c := w.c
	if existing, ok := c.lookupEndpoint(key); ok {
		return existing, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.endpointKeys[key]; ok {
		return existing, false
	}
	devID := c.ensureDeviceLocked(key.DeviceAddress)
	return c.newEndpointLocked(key, devID), true
}

// EndpointTraffic returns the per-endpoint sub-table for epID.
func (w *CaptureWriter) EndpointTraffic(epID uint64) *EndpointTraffic {
	return w.c.endpointTrafficFor(epID)
}

// Device returns the DeviceData for a device id.
func (w *CaptureWriter) Device(devID id.Id[Device]) (*DeviceData, error) {
	return w.c.Device(devID)
}

// DeviceByAddress returns the DeviceData for a bus address, creating
// it (and its Device entity) if this is the first reference.
func (w *CaptureWriter) DeviceByAddress(addr uint8) *DeviceData {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	devID := c.ensureDeviceLocked(addr)
	return c.devices[devID]
}

// RecordEndpointTransaction appends txnID to an endpoint's transaction
// list and returns the endpoint-local transaction id assigned to it
// (deferred indexing per §4.4.7 - callers may delay this call until
// the endpoint and transfer-boundary rules are both known).
func (w *CaptureWriter) RecordEndpointTransaction(epID uint64, txnID id.Id[Transaction]) id.Id[EPTransaction] {
	et := w.c.endpointTrafficFor(epID)
	return id.Id[EPTransaction](et.TransactionIDs.Push(uint64(txnID)))
}

// PushTransferIndexEntry records that endpoint-local transfer epTransferID
// begins at endpoint-local transaction epTransactionID.
func (w *CaptureWriter) PushTransferIndexEntry(epID uint64, epTransactionID id.Id[EPTransaction]) error {
	et := w.c.endpointTrafficFor(epID)
	return et.TransferIndex.Push(id.Id[EPTransaction](epTransactionID))
}

// PushDataIndexEntry records the cumulative successful-data byte count
// after endpoint-local transaction epTransactionID.
func (w *CaptureWriter) PushDataIndexEntry(epID uint64, cumulativeBytes uint64) error {
	et := w.c.endpointTrafficFor(epID)
	return et.DataIndex.Push(id.Id[Bytes](cumulativeBytes))
}

// PushEndOfGroup records that endpoint-local transfer epTransferID
// closed with the given top-level TrafficItem.
func (w *CaptureWriter) PushEndOfGroup(epID uint64, item id.Id[TrafficItem]) error {
	et := w.c.endpointTrafficFor(epID)
	return et.EndOfGroup.Push(id.Id[TrafficItem](item))
}

// AppendEndpointState appends one full endpoint-state vector (one byte
// per endpoint that existed at this moment), recording its (offset,
// length) in the state index (§4.4.9).
func (w *CaptureWriter) AppendEndpointState(vector []EndpointState) {
	c := w.c
	offset := c.stateData.Len()
	raw := make([]byte, len(vector))
	for i, s := range vector {
		raw[i] = byte(s)
	}
	c.stateData.Append(raw)
	c.stateIndex.Push(stateIndexRecord{Offset: offset, Length: uint64(len(vector))})
}

// Finish ends the writer's lifetime: no partial-decode rollback is
// performed (§5) - whatever was decoded remains queryable - it simply
// flips the shared `complete` flag so readers polling it observe
// termination.
func (w *CaptureWriter) Finish() {
	w.c.complete.Store(true)
}

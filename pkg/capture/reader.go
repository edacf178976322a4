// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import "github.com/openusbtrace/usbtrace/pkg/id"

// PacketCount returns the live number of stored packets.
func (r *CaptureReader) PacketCount() uint64 { return r.c.packetIndex.Len() }

// TransactionCount returns the live number of stored transactions.
func (r *CaptureReader) TransactionCount() uint64 { return r.c.transactions.Len() }

// TrafficItemCount returns the live number of top-level traffic items.
func (r *CaptureReader) TrafficItemCount() uint64 { return r.c.trafficItems.Len() }

// Packet returns the raw bytes appended for packet i (property 1,
// "packet round-trip").
func (r *CaptureReader) Packet(i id.Id[Packet]) ([]byte, error) {
	c := r.c
	n := uint64(i)
	if n >= c.packetIndex.Len() {
		return nil, IndexError("packet", n)
	}
	start, err := c.packetIndex.Get(i)
	if err != nil {
		return nil, StorageError("packet_index.get", err)
	}
	var end uint64
	if n+1 < c.packetIndex.Len() {
		end, err = c.packetIndex.Get(id.Id[Packet](n + 1))
		if err != nil {
			return nil, StorageError("packet_index.get", err)
		}
	} else {
		end = c.packetData.Len()
	}
	b, err := c.packetData.ReadAll(start, end)
	if err != nil {
		return nil, StorageError("packet_data.read", err)
	}
	return b, nil
}

// PacketTime returns packet i's capture timestamp, in nanoseconds.
func (r *CaptureReader) PacketTime(i id.Id[Packet]) (uint64, error) {
	v, err := r.c.packetTimes.Get(i)
	if err != nil {
		return 0, IndexError("packet_time", uint64(i))
	}
	return v, nil
}

// Transaction returns the stored Transaction record for i.
func (r *CaptureReader) Transaction(i id.Id[Transaction]) (Transaction, error) {
	t, err := r.c.transactions.Get(i)
	if err != nil {
		return Transaction{}, IndexError("transaction", uint64(i))
	}
	return t, nil
}

// TransactionPayload returns the payload bytes attributed to a
// transaction, if it has one.
func (r *CaptureReader) TransactionPayload(t Transaction) ([]byte, error) {
	if !t.Payload.Valid {
		return nil, nil
	}
	return r.c.packetData.ReadAll(t.Payload.Start, t.Payload.End)
}

// TransferGroupEntry returns the stored entry for i.
func (r *CaptureReader) TransferGroupEntry(i id.Id[TransferGroupEntry]) (TransferGroupEntryRecord, error) {
	e, err := r.c.transferGroupEntries.Get(i)
	if err != nil {
		return TransferGroupEntryRecord{}, IndexError("transfer_group_entry", uint64(i))
	}
	return e, nil
}

// TrafficItemEntry returns the TransferGroupEntryId referenced by
// top-level item i.
func (r *CaptureReader) TrafficItemEntry(i id.Id[TrafficItem]) (id.Id[TransferGroupEntry], error) {
	v, err := r.c.trafficItems.Get(uint64(i))
	if err != nil {
		return 0, IndexError("traffic_item", uint64(i))
	}
	return id.Id[TransferGroupEntry](v), nil
}

// Endpoint returns the stored record for an endpoint id.
func (r *CaptureReader) Endpoint(epID id.Id[Endpoint]) (EndpointRecord, error) {
	return r.c.Endpoint(epID)
}

// EndpointCount returns how many endpoints exist, including the two
// pseudo-endpoints.
func (r *CaptureReader) EndpointCount() uint64 { return r.c.EndpointCount() }

// EndpointTransactionCount returns how many transactions endpoint epID
// has seen.
func (r *CaptureReader) EndpointTransactionCount(epID uint64) uint64 {
	et := r.c.endpointTrafficFor(epID)
	if et == nil {
		return 0
	}
	return et.TransactionIDs.Len()
}

// EndpointTransaction returns the global TransactionId for an
// endpoint's i-th (endpoint-local) transaction.
func (r *CaptureReader) EndpointTransaction(epID uint64, epTxn id.Id[EPTransaction]) (id.Id[Transaction], error) {
	et := r.c.endpointTrafficFor(epID)
	if et == nil {
		return 0, IndexError("endpoint", epID)
	}
	v, err := et.TransactionIDs.Get(uint64(epTxn))
	if err != nil {
		return 0, IndexError("endpoint_transaction", uint64(epTxn))
	}
	return id.Id[Transaction](v), nil
}

// EndpointTransferRange returns the range of endpoint-local transaction
// ids belonging to endpoint-local transfer epTransfer (property 5,
// "transfer coverage").
func (r *CaptureReader) EndpointTransferRange(epID uint64, epTransfer id.Id[EPTransfer]) id.Range[EPTransaction] {
	et := r.c.endpointTrafficFor(epID)
	total := id.Id[EPTransaction](et.TransactionIDs.Len())
	return et.TransferIndex.TargetRange(epTransfer, total)
}

// EndpointDataByteCount returns the cumulative successful-data byte
// count through endpoint-local transaction epTxn.
func (r *CaptureReader) EndpointDataByteCount(epID uint64, epTxn id.Id[EPTransaction]) uint64 {
	et := r.c.endpointTrafficFor(epID)
	return et.DataIndex.Get(epTxn).Value()
}

// EndpointTransferCount returns how many endpoint-local transfers have
// been indexed for epID.
func (r *CaptureReader) EndpointTransferCount(epID uint64) uint64 {
	et := r.c.endpointTrafficFor(epID)
	if et == nil {
		return 0
	}
	return et.TransferIndex.Len()
}

// EndpointEndOfGroup returns the TrafficItem that closed endpoint-local
// transfer epTransfer, and whether it has closed yet - an open
// (Ongoing) group has no entry.
func (r *CaptureReader) EndpointEndOfGroup(epID uint64, epTransfer id.Id[EPTransfer]) (id.Id[TrafficItem], bool) {
	et := r.c.endpointTrafficFor(epID)
	if et == nil || uint64(epTransfer) >= et.EndOfGroup.Len() {
		return 0, false
	}
	return et.EndOfGroup.Get(epTransfer), true
}

// DeviceCount returns the number of devices, including the default
// bus-address-0 device.
func (r *CaptureReader) DeviceCount() uint64 { return r.c.DeviceCount() }

// Device returns the DeviceData for a device id.
func (r *CaptureReader) Device(devID id.Id[Device]) (*DeviceData, error) {
	return r.c.Device(devID)
}

// EndpointStateVectorCount returns how many endpoint-state vectors
// have been appended.
func (r *CaptureReader) EndpointStateVectorCount() uint64 { return r.c.stateIndex.Len() }

// EndpointStateVector returns the i-th endpoint-state vector (property
// 6, "endpoint-state width": its length equals the number of endpoints
// that existed when it was appended).
func (r *CaptureReader) EndpointStateVector(i uint64) ([]EndpointState, error) {
	rec, err := r.c.stateIndex.Get(i)
	if err != nil {
		return nil, IndexError("endpoint_state_index", i)
	}
	raw, err := r.c.stateData.ReadAll(rec.Offset, rec.Offset+rec.Length)
	if err != nil {
		return nil, StorageError("endpoint_state_data.read", err)
	}
	out := make([]EndpointState, len(raw))
	for i, b := range raw {
		out[i] = EndpointState(b)
	}
	return out, nil
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package capture implements the capture store: packets, packet
// times, transactions, transfer-group entries, the top-level item
// index, endpoints and their per-endpoint sub-tables, devices and
// per-device descriptor state - the schema from spec §3, built on
// pkg/stream and pkg/compactindex. A single CaptureWriter mutates it;
// any number of CaptureReader clones observe it concurrently.
package capture

import (
	"sync"
	"sync/atomic"

	"github.com/openusbtrace/usbtrace/pkg/compactindex"
	"github.com/openusbtrace/usbtrace/pkg/id"
	"github.com/openusbtrace/usbtrace/pkg/snapshot"
	"github.com/openusbtrace/usbtrace/pkg/stream"
)

// EndpointTraffic is the per-endpoint sub-table of §3: the ordered
// list of TransactionIds seen on this endpoint, the transfer-index
// (endpoint-local transfer id -> first endpoint-local transaction id),
// the data-index (endpoint-local transaction id -> cumulative
// successful-data byte count), and the index from endpoint-local
// transfer id to the TrafficItem that closed it.
type EndpointTraffic struct {
	TransactionIDs *stream.DataStream[uint64] // values are id.Id[Transaction]
	TransferIndex  *compactindex.CompactIndex[EPTransfer, EPTransaction]
	DataIndex      *compactindex.CompactIndex[EPTransaction, Bytes]
	EndOfGroup     *compactindex.CompactIndex[EPTransfer, TrafficItem]

	totalData atomic.Uint64
}

// Capture bundles every stream/index in the schema plus the bookkeeping
// (devices, endpoints) shared between the writer and every reader.
type Capture struct {
	counters *snapshot.CounterSet

	packetData  *stream.Stream
	packetIndex *stream.DataStream[uint64] // start offset of packet i
	packetTimes *stream.DataStream[uint64] // timestamp_ns of packet i

	transactions *stream.DataStream[Transaction]

	transferGroupEntries *stream.DataStream[TransferGroupEntryRecord]
	trafficItems         *stream.DataStream[uint64] // values are id.Id[TransferGroupEntry]

	endpointRecords *stream.DataStream[EndpointRecord]

	stateData  *stream.Stream
	stateIndex *stream.DataStream[stateIndexRecord]

	mu        sync.RWMutex // guards endpointTraffic/endpointKeys/devices slices & maps below
	endpointTraffic map[uint64]*EndpointTraffic
	endpointKeys    map[EndpointKey]uint64 // (addr,dir,num) -> EndpointId
	devices         []*DeviceData
	deviceByAddr    map[uint8]uint64 // bus address -> DeviceId

	complete atomic.Bool
}

// New returns an empty capture store, seeded with the two pseudo
// endpoints (INVALID, FRAMING) and the default bus-address-0 device,
// exactly as the invariants in §3 require.
func New() *Capture {
	cs := snapshot.NewCounterSet()
	c := &Capture{
		counters:             cs,
		packetData:           stream.New(cs, "packet_data", 0),
		packetIndex:          stream.NewDataStream[uint64](cs, "packet_index", 0, uint64Codec{}),
		packetTimes:          stream.NewDataStream[uint64](cs, "packet_times", 0, uint64Codec{}),
		transactions:         stream.NewDataStream[Transaction](cs, "transactions", 0, transactionCodec{}),
		transferGroupEntries: stream.NewDataStream[TransferGroupEntryRecord](cs, "transfer_group_entries", 0, transferGroupEntryCodec{}),
		trafficItems:         stream.NewDataStream[uint64](cs, "traffic_items", 0, uint64Codec{}),
		endpointRecords:      stream.NewDataStream[EndpointRecord](cs, "endpoints", 0, endpointCodec{}),
		stateData:            stream.New(cs, "endpoint_state_data", 0),
		stateIndex:           stream.NewDataStream[stateIndexRecord](cs, "endpoint_state_index", 0, stateIndexCodec{}),
		endpointTraffic:      map[uint64]*EndpointTraffic{},
		endpointKeys:         map[EndpointKey]uint64{},
		deviceByAddr:         map[uint8]uint64{},
	}
	c.createPseudoEndpoint(EndpointInvalid, DirectionOut, 0)
	c.createPseudoEndpoint(EndpointFraming, DirectionOut, 0)
	c.ensureDeviceLocked(0)
	return c
}

func (c *Capture) createPseudoEndpoint(wantID uint64, dir Direction, num uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gotID := c.newEndpointLocked(EndpointKey{DeviceAddress: 0, Direction: dir, Number: num}, 0)
	if gotID != wantID {
		panic("capture: pseudo-endpoint id allocation out of order")
	}
}

// CounterSet exposes the underlying counters, e.g. for
// internal/checkpoint to dump a manifest.
func (c *Capture) CounterSet() *snapshot.CounterSet { return c.counters }

// StreamManifest describes one underlying stream's on-disk shape, for
// the checkpoint manifest of §6.5.
type StreamManifest struct {
	Name       string
	BlockCount int
	ByteLen    uint64
}

// ManifestStreams lists every top-level and per-endpoint stream's
// block manifest, in a stable order, so a checkpoint can be rebuilt
// without re-scanning the capture's blocks.
func (c *Capture) ManifestStreams() []StreamManifest {
	out := []StreamManifest{
		{"packet_data", c.packetData.BlockCount(), c.packetData.Len()},
		{"packet_index", c.packetIndex.BlockCount(), c.packetIndex.ByteLen()},
		{"packet_times", c.packetTimes.BlockCount(), c.packetTimes.ByteLen()},
		{"transactions", c.transactions.BlockCount(), c.transactions.ByteLen()},
		{"transfer_group_entries", c.transferGroupEntries.BlockCount(), c.transferGroupEntries.ByteLen()},
		{"traffic_items", c.trafficItems.BlockCount(), c.trafficItems.ByteLen()},
		{"endpoints", c.endpointRecords.BlockCount(), c.endpointRecords.ByteLen()},
		{"endpoint_state_data", c.stateData.BlockCount(), c.stateData.Len()},
		{"endpoint_state_index", c.stateIndex.BlockCount(), c.stateIndex.ByteLen()},
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for epID, t := range c.endpointTraffic {
		out = append(out, StreamManifest{
			epStreamName(epID, "txn"), t.TransactionIDs.BlockCount(), t.TransactionIDs.ByteLen(),
		})
	}
	return out
}

// Snapshot freezes every stream's length plus the completion flag.
func (c *Capture) Snapshot() snapshot.CaptureSnapshot {
	return snapshot.CaptureSnapshot{Snapshot: c.counters.Snapshot(), Complete: c.complete.Load()}
}

// Complete reports whether Finish has been called.
func (c *Capture) Complete() bool { return c.complete.Load() }

// Writer returns the single writer handle. Calling it more than once
// is a programmer error (concurrent writers are not detected at
// runtime, per §5).
func (c *Capture) Writer() *CaptureWriter { return &CaptureWriter{c: c} }

// Reader returns a new, independently-positioned read handle. Reader
// handles are cheap to clone and share the same underlying streams.
func (c *Capture) Reader() *CaptureReader { return &CaptureReader{c: c} }

// CaptureReader is a read-only, cloneable handle. Multiple readers may
// be held concurrently with each other and with the single writer.
type CaptureReader struct{ c *Capture }

// Clone returns an independent handle over the same capture.
func (r *CaptureReader) Clone() *CaptureReader { return &CaptureReader{c: r.c} }

func (r *CaptureReader) cap() *Capture { return r.c }

// lookupEndpoint looks up an already-created endpoint id without creating one.
func (c *Capture) lookupEndpoint(key EndpointKey) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.endpointKeys[key]
	return id, ok
}

func (c *Capture) newEndpointLocked(key EndpointKey, deviceID uint64) uint64 {
	rec := EndpointRecord{DeviceID: deviceID, DeviceAddress: key.DeviceAddress, Number: key.Number, Direction: key.Direction}
	epID := uint64(c.endpointRecords.Push(rec))
	c.endpointKeys[key] = epID
	c.endpointTraffic[epID] = &EndpointTraffic{
		TransactionIDs: stream.NewDataStream[uint64](c.counters, epStreamName(epID, "txn"), 0, uint64Codec{}),
		TransferIndex:  compactindex.New[EPTransfer, EPTransaction](),
		DataIndex:      compactindex.New[EPTransaction, Bytes](),
		EndOfGroup:     compactindex.New[EPTransfer, TrafficItem](),
	}
	return epID
}

func epStreamName(epID uint64, suffix string) string {
	return "endpoint." + id.Id[Endpoint](epID).String() + "." + suffix
}

// EndpointCount returns how many endpoints (including the two pseudo
// endpoints) have been created so far.
func (c *Capture) EndpointCount() uint64 {
	return c.endpointRecords.Len()
}

// Endpoint returns the stored record for an endpoint id.
func (c *Capture) Endpoint(epID id.Id[Endpoint]) (EndpointRecord, error) {
	rec, err := c.endpointRecords.Get(epID)
	if err != nil {
		return EndpointRecord{}, IndexError("endpoint", uint64(epID))
	}
	return rec, nil
}

func (c *Capture) endpointTrafficFor(epID uint64) *EndpointTraffic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpointTraffic[epID]
}

func (c *Capture) ensureDeviceLocked(addr uint8) uint64 {
	if existing, ok := c.deviceByAddr[addr]; ok {
		return existing
	}
	devID := uint64(len(c.devices))
	c.devices = append(c.devices, &DeviceData{
		configurations:  map[uint8]Configuration{},
		endpointDetails: map[EndpointAddr]EndpointDetail{},
		strings:         map[uint8][]byte{},
	})
	c.deviceByAddr[addr] = devID
	return devID
}

// DeviceCount returns the number of devices created so far (including
// the default bus-address-0 device at index 0).
func (c *Capture) DeviceCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.devices))
}

// Device returns the DeviceData for a device id. The returned pointer
// is the live, mutable record; callers read through its own mutex via
// the accessor methods on *DeviceData.
func (c *Capture) Device(devID id.Id[Device]) (*DeviceData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := uint64(devID)
	if idx >= uint64(len(c.devices)) {
		return nil, IndexError("device", idx)
	}
	return c.devices[idx], nil
}

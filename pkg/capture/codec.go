// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import "encoding/binary"

// uint64Codec is the Codec[uint64] used for simple fixed-width tables
// (packet offsets, packet timestamps, traffic-item references, state
// vector offsets).
type uint64Codec struct{}

func (uint64Codec) Size() int { return 8 }
func (uint64Codec) Encode(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
func (uint64Codec) Decode(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

// transactionCodec encodes/decodes the fixed-width Transaction record.
type transactionCodec struct{}

const transactionSize = 58

func (transactionCodec) Size() int { return transactionSize }

func (transactionCodec) Encode(t Transaction) []byte {
	b := make([]byte, transactionSize)
	binary.BigEndian.PutUint64(b[0:8], t.Packets[0])
	binary.BigEndian.PutUint64(b[8:16], t.Packets[1])
	b[16] = byte(t.StartPID)
	b[17] = byte(t.EndPID)
	putBool(b[18:19], t.Split.Present)
	putBool(b[19:20], t.Split.Complete)
	b[20] = byte(t.Split.EndpointType)
	b[21] = t.Split.HubAddress
	b[22] = t.Split.Port
	b[23] = byte(t.Split.TokenPID)
	putBool(b[24:25], t.DataPacket.Valid)
	binary.BigEndian.PutUint64(b[25:33], t.DataPacket.Value)
	putBool(b[33:34], t.Payload.Valid)
	binary.BigEndian.PutUint64(b[34:42], t.Payload.Start)
	binary.BigEndian.PutUint64(b[42:50], t.Payload.End)
	binary.BigEndian.PutUint64(b[50:58], t.EndpointID)
	return b
}

func (transactionCodec) Decode(b []byte) Transaction {
	var t Transaction
	t.Packets[0] = binary.BigEndian.Uint64(b[0:8])
	t.Packets[1] = binary.BigEndian.Uint64(b[8:16])
	t.StartPID = PID(b[16])
	t.EndPID = PID(b[17])
	t.Split.Present = b[18] != 0
	t.Split.Complete = b[19] != 0
	t.Split.EndpointType = EndpointType(b[20])
	t.Split.HubAddress = b[21]
	t.Split.Port = b[22]
	t.Split.TokenPID = PID(b[23])
	t.DataPacket.Valid = b[24] != 0
	t.DataPacket.Value = binary.BigEndian.Uint64(b[25:33])
	t.Payload.Valid = b[33] != 0
	t.Payload.Start = binary.BigEndian.Uint64(b[34:42])
	t.Payload.End = binary.BigEndian.Uint64(b[42:50])
	t.EndpointID = binary.BigEndian.Uint64(b[50:58])
	return t
}

// transferGroupEntryCodec encodes TransferGroupEntryRecord.
type transferGroupEntryCodec struct{}

const transferGroupEntrySize = 18

func (transferGroupEntryCodec) Size() int { return transferGroupEntrySize }

func (transferGroupEntryCodec) Encode(e TransferGroupEntryRecord) []byte {
	b := make([]byte, transferGroupEntrySize)
	binary.BigEndian.PutUint64(b[0:8], e.EndpointID)
	binary.BigEndian.PutUint64(b[8:16], e.EPTransferID)
	putBool(b[16:17], e.IsStart)
	putBool(b[17:18], e.Invalid)
	return b
}

func (transferGroupEntryCodec) Decode(b []byte) TransferGroupEntryRecord {
	var e TransferGroupEntryRecord
	e.EndpointID = binary.BigEndian.Uint64(b[0:8])
	e.EPTransferID = binary.BigEndian.Uint64(b[8:16])
	e.IsStart = b[16] != 0
	e.Invalid = b[17] != 0
	return e
}

// endpointCodec encodes EndpointRecord.
type endpointCodec struct{}

const endpointRecordSize = 11

func (endpointCodec) Size() int { return endpointRecordSize }

func (endpointCodec) Encode(e EndpointRecord) []byte {
	b := make([]byte, endpointRecordSize)
	binary.BigEndian.PutUint64(b[0:8], e.DeviceID)
	b[8] = e.DeviceAddress
	b[9] = e.Number
	b[10] = byte(e.Direction)
	return b
}

func (endpointCodec) Decode(b []byte) EndpointRecord {
	var e EndpointRecord
	e.DeviceID = binary.BigEndian.Uint64(b[0:8])
	e.DeviceAddress = b[8]
	e.Number = b[9]
	e.Direction = Direction(b[10])
	return e
}

// stateIndexRecord is one (offset,length) pointer into the endpoint
// state-vector byte stream.
type stateIndexRecord struct {
	Offset uint64
	Length uint64
}

type stateIndexCodec struct{}

func (stateIndexCodec) Size() int { return 16 }
func (stateIndexCodec) Encode(r stateIndexRecord) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], r.Offset)
	binary.BigEndian.PutUint64(b[8:16], r.Length)
	return b
}
func (stateIndexCodec) Decode(b []byte) stateIndexRecord {
	return stateIndexRecord{
		Offset: binary.BigEndian.Uint64(b[0:8]),
		Length: binary.BigEndian.Uint64(b[8:16]),
	}
}

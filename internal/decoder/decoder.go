// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decoder implements the transaction/transfer state machine
// (§4.4): it consumes (timestamp_ns, bytes) packets and mutates a
// capture.CaptureWriter, recognising transactions (including the
// four-packet hub split variants), coalescing consecutive transactions
// into transfer groups per endpoint, and decoding descriptor reads in
// flight.
package decoder

import (
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Decoder holds everything the state machine needs between packets: the
// capture writer, the in-flight transaction (if any), and one
// endpointState per endpoint that has seen traffic.
type Decoder struct {
	writer *capture.CaptureWriter

	pending *pendingTransaction

	states map[uint64]*endpointState

	lastStateVector []capture.EndpointState
}

// New returns a decoder that will write into w.
func New(w *capture.CaptureWriter) *Decoder {
	return &Decoder{
		writer: w,
		states: map[uint64]*endpointState{},
	}
}

func (d *Decoder) stateFor(epID uint64) *endpointState {
	st, ok := d.states[epID]
	if !ok {
		st = &endpointState{}
		d.states[epID] = st
	}
	return st
}

// HandleRawPacket implements packet ingestion (§4.4.1): store the
// packet, then feed it through transaction classification (§4.4.2).
func (d *Decoder) HandleRawPacket(timestampNs uint64, data []byte) error {
	var firstByte byte
	if len(data) > 0 {
		firstByte = data[0]
	}
	pid := capture.ClassifyPID(firstByte)
	pktID, offset := d.writer.AppendPacket(timestampNs, data)

	var body []byte
	if len(data) > 1 {
		body = data[1:]
	}

	status := classifyTransaction(d.pending, pid, len(data))

	switch status {
	case txNew, txInvalid:
		if d.pending != nil {
			d.pending.lastStatus = txInvalid
			if err := d.closeTransaction(d.pending); err != nil {
				return err
			}
		}
		if pid == capture.PIDSplit {
			d.pending = startSplit(parseSplitFields(body), pktID)
		} else {
			d.pending = startSimple(pid, pktID)
		}
		d.pending.lastStatus = status
		d.noteDataPacket(d.pending, pid, pktID, offset, data)
		d.resolveIfPossible(d.pending, pid, body)

	case txContinue, txRetry, txDone, txFail:
		d.pending.appendPacket(pid)
		d.noteDataPacket(d.pending, pid, pktID, offset, data)
		d.resolveIfPossible(d.pending, pid, body)
		d.pending.lastStatus = status
		if status == txContinue {
			return nil
		}
		p := d.pending
		d.pending = nil
		if err := d.closeTransaction(p); err != nil {
			return err
		}
	}
	return nil
}

// noteDataPacket records a DATAx packet's payload location and, for a
// SETUP transaction's DATA0, parses the 8-byte setup fields (§4.4.3).
// offset is packet_data's byte offset for this packet, as returned by
// AppendPacket, and data is its full raw bytes (PID byte included).
func (d *Decoder) noteDataPacket(p *pendingTransaction, pid capture.PID, pktID id.Id[capture.Packet], offset uint64, data []byte) {
	if !pid.IsData() {
		return
	}
	p.dataPacket = pktID
	p.dataPacketKnown = true

	body := data[1:]
	if p.representativePID() == capture.PIDSetup {
		if len(body) >= 8 {
			p.setup = parseSetupFields(body)
			p.setupKnown = true
		}
		return
	}
	if len(body) < 2 {
		return
	}
	payload := body[:len(body)-2]
	p.payloadStart = offset + 1
	p.payloadEnd = offset + uint64(len(data)) - 2
	p.payloadKnown = true
	p.payload = append([]byte(nil), payload...)
}

// resolveIfPossible implements endpoint resolution (§4.4.5) as soon as
// the determining token is known: immediately for a Simple
// transaction's start token, or once the inner SETUP/IN/OUT token of a
// Split transaction has arrived.
func (d *Decoder) resolveIfPossible(p *pendingTransaction, pid capture.PID, body []byte) {
	if p.endpointKnown {
		return
	}
	var key capture.EndpointKey
	switch {
	case p.split.Present:
		if !p.splitTokenKnown {
			return
		}
		tok := p.split.TokenPID
		if (tok != capture.PIDSetup && tok != capture.PIDIn && tok != capture.PIDOut) || len(body) < 2 {
			key = invalidEndpointKey()
			break
		}
		key = tokenEndpointKey(tok, body)

	case pid == capture.PIDSOF:
		key = capture.EndpointKey{DeviceAddress: 0, Direction: capture.DirectionOut, Number: 1}

	case pid == capture.PIDSetup, pid == capture.PIDIn, pid == capture.PIDOut, pid == capture.PIDPing:
		if len(body) < 2 {
			key = invalidEndpointKey()
			break
		}
		key = tokenEndpointKey(pid, body)

	default:
		key = invalidEndpointKey()
	}

	epID, _ := d.writer.EnsureEndpoint(key)
	p.endpointID = epID
	p.endpointKnown = true

	if p.split.Present && key.DeviceAddress != 0 {
		if dev := d.writer.DeviceByAddress(key.DeviceAddress); dev != nil {
			addr := capture.MakeEndpointAddr(key.Number, key.Direction)
			dev.NoteSplitType(addr, p.split.EndpointType)
		}
	}
}

func invalidEndpointKey() capture.EndpointKey {
	return capture.EndpointKey{DeviceAddress: 0, Direction: capture.DirectionOut, Number: 0}
}

// tokenEndpointKey decodes a USB token packet's address/endpoint fields
// (USB 2.0 §8.4.1) and folds endpoint 0 onto a single canonical
// direction: a device's control pipe is bidirectional, so SETUP/OUT/IN
// traffic against endpoint 0 must land on one endpoint record, not
// split across an In and an Out one.
func tokenEndpointKey(tok capture.PID, body []byte) capture.EndpointKey {
	addr := body[0] & 0x7F
	num := (body[0] >> 7) | ((body[1] & 0x07) << 1)
	dir := capture.DirectionOut
	if tok == capture.PIDIn {
		dir = capture.DirectionIn
	}
	if num == 0 {
		dir = capture.DirectionOut
	}
	return capture.EndpointKey{DeviceAddress: addr, Direction: dir, Number: num}
}

// closeTransaction finalises the in-flight transaction: it pushes the
// Transaction record, indexes it against its endpoint, and runs the
// transfer-level state machine (§4.4.6).
func (d *Decoder) closeTransaction(p *pendingTransaction) error {
	if !p.endpointKnown {
		// A split whose inner token never arrived, or a transaction
		// preempted before its endpoint could be determined: attribute
		// it to the INVALID pseudo-endpoint so every packet still
		// belongs to exactly one transaction (property 3).
		p.endpointID = capture.EndpointInvalid
		p.endpointKnown = true
	}

	success, complete := outcomeOf(p.lastStatus)

	txn := capture.Transaction{
		Packets:    [2]uint64{uint64(p.firstPacket), uint64(p.firstPacket) + p.packetCount},
		StartPID:   p.startPID,
		EndPID:     p.lastPID,
		Split:      p.split,
		EndpointID: p.endpointID,
	}
	if p.dataPacketKnown {
		txn.DataPacket = capture.OptionalPacketID{Valid: true, Value: uint64(p.dataPacket)}
	}
	if p.payloadKnown {
		txn.Payload = capture.OptionalByteRange{Valid: true, Start: p.payloadStart, End: p.payloadEnd}
	}

	st := d.stateFor(p.endpointID)

	// Attribute a deferred Split-Start-OUT payload to this, the
	// matching Split-Complete transaction (§4.4.4, S4).
	payload := p.payload
	if p.split.Present && p.split.Complete && st.hasPendingPayload {
		payload = st.pendingPayload
		st.hasPendingPayload = false
		st.pendingPayload = nil
	}

	txnID := d.writer.PushTransaction(txn)
	epTxnID := d.writer.RecordEndpointTransaction(p.endpointID, txnID)

	epType, maxPkt, hasMaxPkt := d.endpointDetail(p.endpointID)

	status, effect := classifyTransfer(epType, maxPkt, hasMaxPkt, st, p.representativePID(), p.split, payload, success, complete)

	if err := d.applyTransferEffect(p.endpointID, st, effect); err != nil {
		return err
	}

	// closeTransfer (below, via applyTransferStatus) clears st.payload
	// once the group ends, and openTransfer replaces st.setup when a
	// new group starts, so the request that the transfer as a whole
	// represents must be captured before that happens.
	setup, setupKnown, reqPayload := st.setup, st.setupKnown, st.payload

	if err := d.applyTransferStatus(p.endpointID, st, p, epTxnID, status); err != nil {
		return err
	}

	if setupKnown && status == trDone && p.endpointID != capture.EndpointInvalid {
		if dev := d.deviceFor(p.endpointID); dev != nil {
			decodeControlRequest(dev, setup, reqPayload)
		}
	}

	return nil
}

// outcomeOf maps a transaction-level classification to the (success,
// complete) pair the transfer layer consumes: Done/Retry/Fail all
// close the transaction cleanly ("complete"), differing in whether the
// USB handshake was favourable; a forced close (txNew/txInvalid cutting
// an in-flight transaction short) is neither.
func outcomeOf(status txStatus) (success, complete bool) {
	switch status {
	case txDone:
		return true, true
	case txRetry, txFail:
		return false, true
	default:
		return false, false
	}
}

// endpointDetail returns what's known about an endpoint's type and
// maximum packet size (from a descriptor or a hub SPLIT header), or
// EndpointTypeUnknown/false if nothing has been learned yet.
func (d *Decoder) endpointDetail(epID uint64) (capture.EndpointType, uint16, bool) {
	if epID == capture.EndpointFraming || epID == capture.EndpointInvalid {
		return capture.EndpointTypeUnknown, 0, false
	}
	rec, err := d.writer.Capture().Endpoint(id.Id[capture.Endpoint](epID))
	if err != nil {
		return capture.EndpointTypeUnknown, 0, false
	}
	if rec.Number == 0 {
		return capture.EndpointTypeControl, 0, false
	}
	dev, err := d.writer.Device(id.Id[capture.Device](rec.DeviceID))
	if err != nil {
		return capture.EndpointTypeUnknown, 0, false
	}
	addr := capture.MakeEndpointAddr(rec.Number, rec.Direction)
	det, ok := dev.EndpointDetail(addr)
	if !ok {
		return capture.EndpointTypeUnknown, 0, false
	}
	return det.Type, det.MaxPacketSize, det.HasMaxPacket
}

func (d *Decoder) deviceFor(epID uint64) *capture.DeviceData {
	rec, err := d.writer.Capture().Endpoint(id.Id[capture.Endpoint](epID))
	if err != nil {
		return nil
	}
	dev, err := d.writer.Device(id.Id[capture.Device](rec.DeviceID))
	if err != nil {
		return nil
	}
	return dev
}

// applyTransferEffect folds a completed transaction's payload into the
// endpoint's running byte counter and the per-transaction data index
// (§3: "data-index... cumulative byte count of successful data
// transactions").
func (d *Decoder) applyTransferEffect(epID uint64, st *endpointState, effect transferEffect) error {
	switch effect.kind {
	case effectPendingData:
		st.hasPendingPayload = true
		st.pendingPayload = effect.data
	case effectIndexData:
		st.runningTotal += uint64(effect.length)
	}
	return d.writer.PushDataIndexEntry(epID, st.runningTotal)
}

// applyTransferStatus implements the transfer-group bookkeeping of
// §4.4.6/§4.4.9: opening, continuing and closing transfer groups, and
// appending a fresh endpoint-state vector on every TransferGroupEntry.
func (d *Decoder) applyTransferStatus(epID uint64, st *endpointState, p *pendingTransaction, epTxnID id.Id[capture.EPTransaction], status transferStatus) error {
	switch status {
	case trContinue, trRetry:
		st.last = p.representativePID()
		if status == trRetry {
			st.pollCount++
		}
		return nil

	case trSingle:
		if st.active {
			if err := d.closeTransfer(epID, st); err != nil {
				return err
			}
		}
		if err := d.openTransfer(epID, st, p, epTxnID, false); err != nil {
			return err
		}
		return d.closeTransfer(epID, st)

	case trNew:
		if st.active {
			if err := d.closeTransfer(epID, st); err != nil {
				return err
			}
		}
		return d.openTransfer(epID, st, p, epTxnID, false)

	case trDone:
		st.last = p.representativePID()
		return d.closeTransfer(epID, st)

	case trInvalid:
		if st.active {
			if err := d.closeTransfer(epID, st); err != nil {
				return err
			}
		}
		if err := d.openTransfer(epID, st, p, epTxnID, true); err != nil {
			return err
		}
		return d.closeTransfer(epID, st)
	}
	return nil
}

func (d *Decoder) openTransfer(epID uint64, st *endpointState, p *pendingTransaction, epTxnID id.Id[capture.EPTransaction], invalid bool) error {
	et := d.writer.EndpointTraffic(epID)
	transferID := et.TransferIndex.Len()

	entryID := d.writer.PushTransferGroupEntry(capture.TransferGroupEntryRecord{
		EndpointID:   epID,
		EPTransferID: transferID,
		IsStart:      true,
		Invalid:      invalid,
	})
	itemID := d.writer.PushTrafficItem(entryID)

	if err := d.writer.PushTransferIndexEntry(epID, epTxnID); err != nil {
		return err
	}

	st.active = true
	st.epTransferID = id.Id[capture.EPTransfer](transferID)
	st.activeItemID = itemID
	st.first = p.representativePID()
	st.last = p.representativePID()
	st.hasLast = true
	st.pollCount = 0

	// A fresh control transfer starting on SETUP stores its setup
	// fields for classifyControlTransfer to interpret the data/status
	// stages against; a split CSPLIT+SETUP continuation of an
	// already-open transfer keeps whatever setup is already stored.
	if p.representativePID() == capture.PIDSetup {
		st.setup = p.setup
		st.setupKnown = p.setupKnown
		st.payload = nil
	}

	d.pushStateVector(epID, true)
	return nil
}

func (d *Decoder) closeTransfer(epID uint64, st *endpointState) error {
	d.writer.PushTransferGroupEntry(capture.TransferGroupEntryRecord{
		EndpointID:   epID,
		EPTransferID: uint64(st.epTransferID),
		IsStart:      false,
	})
	if err := d.writer.PushEndOfGroup(epID, st.activeItemID); err != nil {
		return err
	}
	st.active = false
	st.payload = nil
	d.pushStateVector(epID, false)
	return nil
}

func (d *Decoder) pushStateVector(epID uint64, isStart bool) {
	count := d.writer.Capture().EndpointCount()
	vec := nextEndpointStateVector(d.lastStateVector, count, epID, isStart)
	d.writer.AppendEndpointState(vec)
	d.lastStateVector = vec
}

// Finish ends decoding: any in-flight transaction is force-closed, then
// the writer's complete flag is raised (§4.4.10).
func (d *Decoder) Finish() error {
	if d.pending != nil {
		p := d.pending
		d.pending = nil
		p.lastStatus = txInvalid
		if err := d.closeTransaction(p); err != nil {
			return err
		}
	}
	d.writer.Finish()
	log.Info("decoder: capture finished")
	return nil
}

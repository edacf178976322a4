// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// txStatus is the result of classifying one incoming packet against the
// transaction in progress (§4.4.2).
type txStatus int

const (
	txNew txStatus = iota
	txContinue
	txRetry
	txDone
	txFail
	txInvalid
)

// pendingTransaction accumulates one in-flight Transaction across the
// packets that make it up, until it is closed and pushed as a single
// capture.Transaction record.
type pendingTransaction struct {
	split           capture.SplitFields // split.Present distinguishes Simple from Split style
	splitTokenKnown bool

	startPID capture.PID
	lastPID  capture.PID

	firstPacket id.Id[capture.Packet]
	packetCount uint64

	endpointID    uint64
	endpointKnown bool

	epTransactionID    id.Id[capture.EPTransaction]
	epTransactionKnown bool

	setup      SetupFields
	setupKnown bool

	dataPacket      id.Id[capture.Packet]
	dataPacketKnown bool

	payloadStart, payloadEnd uint64
	payloadKnown             bool
	payload                  []byte // copy of the data packet's payload bytes, sans PID and CRC16

	lastStatus txStatus
}

// representativePID returns the PID the transfer layer compares
// against its endpoint's stored state: the lone start token for a
// Simple transaction, or the inner SETUP/IN/OUT/PING token for a Split
// one (§4.4.6 treats a split transaction exactly like the non-split
// transaction it is shadowing).
func (p *pendingTransaction) representativePID() capture.PID {
	if p.split.Present {
		return p.split.TokenPID
	}
	return p.startPID
}

// startSimple begins a new non-split transaction led by token pid.
func startSimple(pid capture.PID, pktID id.Id[capture.Packet]) *pendingTransaction {
	return &pendingTransaction{
		startPID:    pid,
		lastPID:     pid,
		firstPacket: pktID,
		packetCount: 1,
	}
}

// startSplit begins a new SPLIT-led transaction; fields are the SPLIT
// packet's own decoded content. The eventual SETUP/IN/OUT/PING token is
// recorded on the following packet via appendPacket.
func startSplit(split capture.SplitFields, pktID id.Id[capture.Packet]) *pendingTransaction {
	return &pendingTransaction{
		split:       split,
		startPID:    capture.PIDSplit,
		lastPID:     capture.PIDSplit,
		firstPacket: pktID,
		packetCount: 1,
	}
}

// appendPacket records that one more packet has become part of this
// transaction, updating lastPID and, for a split transaction whose
// token has not yet arrived, the token PID.
func (p *pendingTransaction) appendPacket(pid capture.PID) {
	p.packetCount++
	if p.split.Present && !p.splitTokenKnown && p.lastPID == capture.PIDSplit && pid.IsToken() {
		p.split.TokenPID = pid
		p.splitTokenKnown = true
	}
	p.lastPID = pid
}

// parseSplitFields decodes the 4-byte SPLIT token (USB 2.0 §8.4.2):
// byte0 PID, byte1 bits[6:0] hub address / bit7 SC, byte2 bits[6:0]
// port / bit7 S, byte3 bit0 E / bits[2:1] ET / bits[7:3] CRC5.
func parseSplitFields(body []byte) capture.SplitFields {
	if len(body) < 4 {
		return capture.SplitFields{Present: true}
	}
	et := (body[3] >> 1) & 0x03
	return capture.SplitFields{
		Present:      true,
		Complete:     body[1]&0x80 != 0,
		EndpointType: capture.EndpointType(et) + 1,
		HubAddress:   body[1] & 0x7F,
		Port:         body[2] & 0x7F,
	}
}

// isFramingStyle reports whether this transaction's start token is one
// that the decoder always closes as a single packet (§4.4.3 as
// resolved below): SOF and malformed packets never continue a previous
// transaction at this layer - consecutive runs are coalesced only at
// the transfer layer (§4.4.6), which is what makes S5 ("1000 SOF
// groups") come out as 1000 one-packet transactions forming a single
// transfer, rather than one 1000-packet transaction forming a
// single-child transfer.
func isFramingStyle(pid capture.PID) bool {
	return pid == capture.PIDSOF || pid == capture.PIDMalformed
}

// classifyTransaction implements transaction_status (§4.4.2-§4.4.4).
// state is nil when there is no transaction in progress. next is the
// PID of the incoming packet and nextLen its total byte length.
func classifyTransaction(state *pendingTransaction, next capture.PID, nextLen int) txStatus {
	if state == nil {
		switch {
		case next.IsToken(), next == capture.PIDMalformed:
			return txNew
		default:
			return txInvalid
		}
	}
	if isFramingStyle(state.startPID) {
		// A SOF or malformed packet is always exactly one packet long:
		// whatever comes next starts a fresh transaction.
		switch {
		case next.IsToken(), next == capture.PIDMalformed:
			return txNew
		default:
			return txInvalid
		}
	}
	if state.split.Present {
		return classifySplit(state, next, nextLen)
	}
	return classifySimple(state, next, nextLen)
}

// classifySimple implements the non-split rules of §4.4.3.
func classifySimple(state *pendingTransaction, next capture.PID, nextLen int) txStatus {
	first, last := state.startPID, state.lastPID
	switch {
	case next == capture.PIDSetup, next == capture.PIDIn, next == capture.PIDOut,
		next == capture.PIDPing, next == capture.PIDSplit:
		return txNew
	case next == capture.PIDSOF, next == capture.PIDMalformed:
		return txNew

	case first == capture.PIDSetup && last == capture.PIDSetup && next == capture.PIDData0 && nextLen == 11:
		return txContinue
	case first == capture.PIDSetup && last == capture.PIDData0 && next == capture.PIDAck:
		return txDone

	case last == capture.PIDIn && (next == capture.PIDNak || next == capture.PIDStall):
		return txFail
	case (last == capture.PIDIn || last == capture.PIDOut) &&
		(next == capture.PIDData0 || next == capture.PIDData1) && nextLen >= 3:
		return txContinue
	case (first == capture.PIDIn || first == capture.PIDOut) &&
		(last == capture.PIDData0 || last == capture.PIDData1) &&
		(next == capture.PIDAck || next == capture.PIDNyet):
		return txDone
	case first == capture.PIDOut && (last == capture.PIDData0 || last == capture.PIDData1) &&
		(next == capture.PIDNak || next == capture.PIDStall):
		return txFail

	case last == capture.PIDPing && next == capture.PIDAck:
		return txDone
	case last == capture.PIDPing && (next == capture.PIDNak || next == capture.PIDStall):
		return txFail

	default:
		return txInvalid
	}
}

// classifySplit implements the split-transaction rules of §4.4.4 for
// Control/Bulk/Interrupt/Isochronous endpoints.
func classifySplit(state *pendingTransaction, next capture.PID, nextLen int) txStatus {
	et := state.split.EndpointType
	complete := state.split.Complete
	last := state.lastPID
	const (
		ctl = capture.EndpointTypeControl
		blk = capture.EndpointTypeBulk
		isr = capture.EndpointTypeInterrupt
		iso = capture.EndpointTypeIsochronous
	)
	switch {
	// SSPLIT -> SETUP/OUT -> DATA0/1 -> ACK/NAK (control/bulk).
	case !complete && et == blk && last == capture.PIDSplit && next == capture.PIDOut:
		return txContinue
	case !complete && et == ctl && last == capture.PIDSplit && (next == capture.PIDSetup || next == capture.PIDOut):
		return txContinue
	case !complete && et == ctl && last == capture.PIDSetup && next == capture.PIDData0 && nextLen == 11:
		return txContinue
	case !complete && (et == blk || et == ctl) && last == capture.PIDOut &&
		(next == capture.PIDData0 || next == capture.PIDData1):
		return txContinue
	case !complete && (et == blk || et == ctl) &&
		(last == capture.PIDData0 || last == capture.PIDData1) && next == capture.PIDAck:
		return txDone
	case !complete && (et == blk || et == ctl) &&
		(last == capture.PIDData0 || last == capture.PIDData1) && next == capture.PIDNak:
		return txFail

	// CSPLIT -> SETUP/OUT -> ACK/NAK/NYET/STALL (control/bulk).
	case complete && et == blk && last == capture.PIDSplit && next == capture.PIDOut:
		return txContinue
	case complete && et == blk && last == capture.PIDOut && next == capture.PIDAck:
		return txDone
	case complete && et == blk && last == capture.PIDOut && next == capture.PIDNyet:
		return txRetry
	case complete && et == blk && last == capture.PIDOut && (next == capture.PIDNak || next == capture.PIDStall):
		return txFail
	case complete && et == ctl && last == capture.PIDSplit && (next == capture.PIDSetup || next == capture.PIDOut):
		return txContinue
	case complete && et == ctl && (last == capture.PIDSetup || last == capture.PIDOut) && next == capture.PIDAck:
		return txDone
	case complete && et == ctl && (last == capture.PIDSetup || last == capture.PIDOut) && next == capture.PIDNyet:
		return txRetry
	case complete && et == ctl && (last == capture.PIDSetup || last == capture.PIDOut) &&
		(next == capture.PIDNak || next == capture.PIDStall):
		return txFail

	// SSPLIT -> IN -> ACK/NAK (control/bulk).
	case !complete && (et == ctl || et == blk) && last == capture.PIDSplit && next == capture.PIDIn:
		return txContinue
	case !complete && (et == ctl || et == blk) && last == capture.PIDIn && next == capture.PIDAck:
		return txDone
	case !complete && (et == ctl || et == blk) && last == capture.PIDIn && next == capture.PIDNak:
		return txFail

	// CSPLIT -> IN -> DATA0/1/NAK/NYET/STALL (control/bulk).
	case complete && (et == ctl || et == blk) && last == capture.PIDSplit && next == capture.PIDIn:
		return txContinue
	case complete && (et == ctl || et == blk) && last == capture.PIDIn &&
		(next == capture.PIDData0 || next == capture.PIDData1):
		return txDone
	case complete && (et == ctl || et == blk) && last == capture.PIDIn && next == capture.PIDNyet:
		return txRetry
	case complete && (et == ctl || et == blk) && last == capture.PIDIn &&
		(next == capture.PIDNak || next == capture.PIDStall):
		return txFail

	// Interrupt: SSPLIT -> OUT -> DATA0/1.
	case !complete && et == isr && last == capture.PIDSplit && next == capture.PIDOut:
		return txContinue
	case !complete && et == isr && last == capture.PIDOut && (next == capture.PIDData0 || next == capture.PIDData1):
		return txDone
	// Interrupt: CSPLIT -> OUT -> ACK/NAK/NYET/STALL/ERR.
	case complete && et == isr && last == capture.PIDSplit && next == capture.PIDOut:
		return txContinue
	case complete && et == isr && last == capture.PIDOut && next == capture.PIDAck:
		return txDone
	case complete && et == isr && last == capture.PIDOut && next == capture.PIDNyet:
		return txRetry
	case complete && et == isr && last == capture.PIDOut &&
		(next == capture.PIDNak || next == capture.PIDStall || next == capture.PIDErr):
		return txFail
	// Interrupt: SSPLIT -> IN (complete immediately).
	case !complete && et == isr && last == capture.PIDSplit && next == capture.PIDIn:
		return txDone
	// Interrupt: CSPLIT -> IN -> DATA0/1/MDATA/NAK/NYET/STALL/ERR.
	case complete && et == isr && last == capture.PIDSplit && next == capture.PIDIn:
		return txContinue
	case complete && et == isr && last == capture.PIDIn &&
		(next == capture.PIDData0 || next == capture.PIDData1 || next == capture.PIDMData):
		return txDone
	case complete && et == isr && last == capture.PIDIn && next == capture.PIDNyet:
		return txRetry
	case complete && et == isr && last == capture.PIDIn &&
		(next == capture.PIDNak || next == capture.PIDStall || next == capture.PIDErr):
		return txFail

	// Isochronous: SSPLIT -> OUT -> DATA0.
	case !complete && et == iso && last == capture.PIDSplit && next == capture.PIDOut:
		return txContinue
	case !complete && et == iso && last == capture.PIDOut && next == capture.PIDData0:
		return txDone
	// Isochronous: SSPLIT -> IN (complete immediately).
	case !complete && et == iso && last == capture.PIDSplit && next == capture.PIDIn:
		return txDone
	// Isochronous: CSPLIT -> IN -> DATA0/MDATA/NYET/ERR.
	case complete && et == iso && last == capture.PIDSplit && next == capture.PIDIn:
		return txContinue
	case complete && et == iso && last == capture.PIDIn && (next == capture.PIDData0 || next == capture.PIDMData):
		return txDone
	case complete && et == iso && last == capture.PIDIn && next == capture.PIDNyet:
		return txRetry
	case complete && et == iso && last == capture.PIDIn && next == capture.PIDErr:
		return txFail

	default:
		return txInvalid
	}
}

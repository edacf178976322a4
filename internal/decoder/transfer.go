// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// transferStatus is the result of classifying one just-closed
// transaction against its endpoint's TransferState (§4.4.6).
type transferStatus int

const (
	trSingle transferStatus = iota
	trNew
	trContinue
	trRetry
	trDone
	trInvalid
)

// sideEffectKind distinguishes what a completed transaction's payload
// should do to the endpoint's byte-count bookkeeping.
type sideEffectKind int

const (
	effectNone sideEffectKind = iota
	effectPendingData                // cache payload for the matching SPLIT-Complete
	effectIndexData                   // record payload length into the data index now
)

type transferEffect struct {
	kind   sideEffectKind
	data   []byte
	length int
}

// endpointState is the decoder's per-endpoint bookkeeping (§4.4, the
// bullet list under "The decoder holds").
type endpointState struct {
	active       bool
	epTransferID id.Id[capture.EPTransfer]
	activeItemID id.Id[capture.TrafficItem]
	first        capture.PID
	last         capture.PID
	hasLast      bool

	// Control endpoint bookkeeping.
	setup      SetupFields
	setupKnown bool
	payload    []byte // accumulated IN/OUT data-stage payload for the in-progress control transfer

	// Non-control endpoint bookkeeping.
	lastSuccess      bool
	lastSuccessKnown bool

	// Split Start-OUT payload deferred until the matching Complete
	// (§4.4.4/S4): the data arrives with the SSPLIT+OUT transaction but
	// is attributed to the CSPLIT+OUT transaction that follows it.
	pendingPayload    []byte
	hasPendingPayload bool

	runningTotal uint64

	// pollCount counts consecutive failing attempts on a currently
	// active non-control transfer, for the "Polling N times" description.
	pollCount uint64
}

// classifyTransfer implements transfer_status (§4.4.6) for one endpoint
// whose in-flight transaction has just closed with the given style,
// success and completeness. payload is the transaction's own data
// (nil if it carried none). next is the transaction's representative
// PID: its start token, or the inner token of a split transaction.
func classifyTransfer(
	epType capture.EndpointType,
	maxPacketSize uint16,
	hasMaxPacketSize bool,
	st *endpointState,
	next capture.PID,
	split capture.SplitFields,
	payload []byte,
	success, complete bool,
) (transferStatus, transferEffect) {
	length := len(payload)
	short := hasMaxPacketSize && payload != nil && length < int(maxPacketSize)
	splitStart := split.Present && !split.Complete
	splitComplete := split.Present && split.Complete

	switch {
	case epType == capture.EndpointTypeControl:
		return classifyControlTransfer(st, next, splitStart, splitComplete, payload, length, success, complete)

	case next == capture.PIDIn || next == capture.PIDOut:
		if !st.active {
			var effect transferEffect
			if success && payload != nil {
				if splitStart && next == capture.PIDOut {
					effect = transferEffect{kind: effectPendingData, data: payload, length: length}
				} else {
					effect = transferEffect{kind: effectIndexData, data: payload, length: length}
				}
			}
			if !complete {
				return trNew, effect
			}
			st.lastSuccess = success
			st.lastSuccessKnown = true
			if success && short {
				return trSingle, effect
			}
			return trNew, effect
		}
		if (st.first == capture.PIDIn && next == capture.PIDIn) ||
			(st.first == capture.PIDOut && next == capture.PIDOut) {
			var effect transferEffect
			if success && payload != nil {
				if splitStart && next == capture.PIDOut {
					effect = transferEffect{kind: effectPendingData, data: payload, length: length}
				} else if complete {
					effect = transferEffect{kind: effectIndexData, data: payload, length: length}
				}
			}
			if !complete {
				return trRetry, effect
			}
			successChanged := !st.lastSuccessKnown || success != st.lastSuccess
			st.lastSuccess = success
			st.lastSuccessKnown = true
			switch {
			case successChanged:
				if success && short {
					return trSingle, effect
				}
				return trNew, effect
			case success:
				if short {
					return trDone, effect
				}
				return trContinue, effect
			default:
				return trRetry, effect
			}
		}
		return trInvalid, transferEffect{}

	case st.active && st.first == capture.PIDOut && next == capture.PIDPing:
		return trRetry, transferEffect{}

	case next == capture.PIDSOF:
		if !st.active {
			return trNew, transferEffect{}
		}
		return trContinue, transferEffect{}

	default:
		return trInvalid, transferEffect{}
	}
}

// classifyControlTransfer implements the Control-endpoint arm of
// §4.4.6: SETUP starts a transfer, then data-stage/status-stage
// transactions are interpreted against the stored setup fields.
func classifyControlTransfer(
	st *endpointState,
	next capture.PID,
	splitStart, splitComplete bool,
	payload []byte, length int,
	success, complete bool,
) (transferStatus, transferEffect) {
	if next == capture.PIDSetup {
		if !splitComplete {
			return trNew, transferEffect{}
		}
		return trContinue, transferEffect{}
	}
	if !st.active || !st.hasLast {
		return trInvalid, transferEffect{}
	}
	if !st.setupKnown {
		return trInvalid, transferEffect{}
	}
	fields := st.setup
	withData := fields.Length != 0
	dirIn := fields.directionIn()
	last := st.last

	isDataStage := (dirIn && last == capture.PIDSetup && next == capture.PIDIn) ||
		(!dirIn && last == capture.PIDSetup && next == capture.PIDOut) ||
		(dirIn && last == capture.PIDIn && next == capture.PIDIn) ||
		(!dirIn && last == capture.PIDOut && next == capture.PIDOut)
	if withData && isDataStage {
		var effect transferEffect
		if success && payload != nil {
			if splitStart && next == capture.PIDOut {
				effect = transferEffect{kind: effectPendingData, data: payload, length: length}
			} else {
				st.payload = append(st.payload, payload...)
				effect = transferEffect{kind: effectIndexData, data: payload, length: length}
			}
		}
		if success {
			return trContinue, effect
		}
		return trRetry, effect
	}

	isStatusStage := (dirIn && !withData && last == capture.PIDSetup && next == capture.PIDOut) ||
		(!dirIn && !withData && last == capture.PIDSetup && next == capture.PIDIn) ||
		(dirIn && withData && last == capture.PIDIn && next == capture.PIDOut) ||
		(!dirIn && withData && last == capture.PIDOut && next == capture.PIDIn)
	if isStatusStage {
		if success && complete {
			return trDone, transferEffect{}
		}
		return trRetry, transferEffect{}
	}

	isPingOK := (!dirIn && withData && (last == capture.PIDSetup || last == capture.PIDOut) && next == capture.PIDPing) ||
		(dirIn && !withData && last == capture.PIDSetup && next == capture.PIDPing) ||
		(dirIn && withData && last == capture.PIDIn && next == capture.PIDPing)
	if isPingOK {
		return trRetry, transferEffect{}
	}

	return trInvalid, transferEffect{}
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import "github.com/openusbtrace/usbtrace/pkg/capture"

// nextEndpointStateVector implements §4.4.9: given the previous
// per-endpoint state vector, the endpoint that this TransferGroupEntry
// belongs to, and whether the entry is a start or an end, produce the
// next vector (one entry per endpoint that exists so far).
func nextEndpointStateVector(prev []capture.EndpointState, endpointCount uint64, epID uint64, isStart bool) []capture.EndpointState {
	next := make([]capture.EndpointState, endpointCount)
	for i := range next {
		var p capture.EndpointState
		if uint64(i) < uint64(len(prev)) {
			p = prev[i]
		}
		if uint64(i) != epID {
			next[i] = advanceIdleEndpointState(p)
			continue
		}
		if isStart {
			next[i] = capture.StateStarting
		} else {
			next[i] = capture.StateEnding
		}
	}
	return next
}

// advanceIdleEndpointState decides what an endpoint not targeted by
// this entry transitions to: a Starting endpoint becomes Ongoing (its
// transfer is now mid-flight), an Ending endpoint settles back to
// Idle, and Idle/Ongoing endpoints are unaffected.
func advanceIdleEndpointState(p capture.EndpointState) capture.EndpointState {
	switch p {
	case capture.StateStarting:
		return capture.StateOngoing
	case capture.StateEnding:
		return capture.StateIdle
	default:
		return p
	}
}

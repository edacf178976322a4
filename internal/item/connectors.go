// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package item

import (
	"strings"

	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// Connectors renders ref's tree-connector column string (§4.5): one
// glyph per endpoint known at the time of ref's nearest enclosing
// transfer group, drawn from the endpoint-state vector appended
// alongside that group's TransferGroupEntry. TransferGroupEntry ids
// and endpoint-state-vector indices correspond 1:1 (one vector is
// appended per entry, in the same order), so the enclosing group's
// entry id doubles as the vector index.
func (s *TrafficSource) Connectors(ref TrafficRef) (string, error) {
	entryID, err := s.reader.TrafficItemEntry(ref.GroupItemID)
	if err != nil {
		return "", err
	}
	vector, err := s.reader.EndpointStateVector(uint64(entryID))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for col, st := range vector {
		switch {
		case uint64(col) == ref.GroupEndpointID:
			b.WriteRune(s.ownColumnGlyph(ref))
		case st == capture.StateIdle:
			b.WriteRune(' ')
		default:
			b.WriteRune('│')
		}
	}
	return b.String(), nil
}

// ownColumnGlyph picks the glyph for ref's own endpoint column: a
// group row shows its start/end role, a transaction or packet row
// shows whether it is the last sibling under its group.
func (s *TrafficSource) ownColumnGlyph(ref TrafficRef) rune {
	switch ref.Kind {
	case KindGroup:
		if s.Status(ref) == StatusComplete {
			return '└'
		}
		return '○'
	default:
		if ref.LastInGroup {
			return '└'
		}
		return '├'
	}
}

// GroupExtended reports whether the next transfer group on ref's
// endpoint continues directly from ref without an intervening Idle
// gap: the endpoint was already Ongoing, rather than Idle, the moment
// before that next group's start entry. A UI uses this to suppress
// the closing `└` it already drew for ref once a continuation
// arrives (§4.5).
func (s *TrafficSource) GroupExtended(ref TrafficRef) (bool, error) {
	if ref.Kind != KindGroup {
		return false, capture.ProtocolError("GroupExtended called on a non-group item")
	}
	nextTransfer := id.Id[capture.EPTransfer](uint64(ref.EPTransferID) + 1)
	if uint64(nextTransfer) >= s.reader.EndpointTransferCount(ref.GroupEndpointID) {
		return false, nil
	}
	nextEntryID, ok := s.findGroupStartEntry(ref.GroupEndpointID, nextTransfer)
	if !ok || nextEntryID == 0 {
		return false, nil
	}
	prevVector, err := s.reader.EndpointStateVector(uint64(nextEntryID) - 1)
	if err != nil {
		return false, err
	}
	if ref.GroupEndpointID >= uint64(len(prevVector)) {
		return false, nil
	}
	return prevVector[ref.GroupEndpointID] == capture.StateOngoing, nil
}

// findGroupStartEntry locates the TransferGroupEntry id that opened
// endpoint-local transfer epTransfer on epID, by scanning the item
// index for the group whose EPTransferID matches. Transfer groups are
// comparatively few relative to transactions, so a linear scan from
// the end is cheap in practice; a dedicated reverse index would only
// be worth adding if profiling showed otherwise.
func (s *TrafficSource) findGroupStartEntry(epID uint64, epTransfer id.Id[capture.EPTransfer]) (id.Id[capture.TransferGroupEntry], bool) {
	n := s.reader.TrafficItemCount()
	for i := n; i > 0; i-- {
		itemID := id.Id[capture.TrafficItem](i - 1)
		entryID, err := s.reader.TrafficItemEntry(itemID)
		if err != nil {
			continue
		}
		entry, err := s.reader.TransferGroupEntry(entryID)
		if err != nil {
			continue
		}
		if entry.EndpointID == epID && entry.EPTransferID == uint64(epTransfer) && entry.IsStart {
			return entryID, true
		}
	}
	return 0, false
}

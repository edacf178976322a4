// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package item implements the read-side traversal of §4.5: the Traffic
// tree (transfer groups -> transactions -> packets) and the Device tree
// (device -> configurations -> interfaces -> endpoints -> descriptor
// fields), both built against a live or snapshotted
// capture.CaptureReader, plus the one-line descriptions and tree
// connector strings a UI renders each row with.
package item

import (
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// TrafficKind discriminates the three row shapes of the Traffic tree.
type TrafficKind int

const (
	KindGroup TrafficKind = iota
	KindTransaction
	KindPacket
)

// TrafficRef identifies one row of the Traffic tree. It is a small
// value type, cheap to pass and re-derive; it is not a live handle, so
// callers re-resolve it against the reader whenever they need fresh
// data (cf. the device tree's Version-based staleness check).
type TrafficRef struct {
	Kind TrafficKind

	// Valid for every kind: the endpoint this row's enclosing group
	// belongs to, and that group's top-level TrafficItem/entry id -
	// used by Connectors to find "the nearest enclosing transfer
	// group"'s endpoint-state vector.
	GroupEndpointID uint64
	GroupItemID     id.Id[capture.TrafficItem]

	// KindGroup: EPTransferID identifies the group within its endpoint.
	EPTransferID id.Id[capture.EPTransfer]

	// KindTransaction: the endpoint-local and capture-global ids, plus
	// this transaction's position among its group's siblings (for
	// connector rendering's "last row" check).
	EPTransactionID id.Id[capture.EPTransaction]
	TransactionID   id.Id[capture.Transaction]
	LastInGroup     bool

	// KindPacket: the owning transaction (duplicated from above for
	// clarity) and the packet id.
	PacketID  id.Id[capture.Packet]
	LastInTxn bool
}

// GroupStatus is a transfer group's completion state (§4.5: "A group's
// child count is Ongoing if the endpoint's end-index does not yet
// contain that group, otherwise Complete").
type GroupStatus int

const (
	StatusOngoing GroupStatus = iota
	StatusComplete
)

// TrafficSource implements the Traffic view of §4.5 against one reader.
type TrafficSource struct {
	reader *capture.CaptureReader
}

// NewTrafficSource returns a Traffic view over r.
func NewTrafficSource(r *capture.CaptureReader) *TrafficSource {
	return &TrafficSource{reader: r}
}

// RootCount returns how many top-level transfer groups exist.
func (s *TrafficSource) RootCount() uint64 {
	return s.reader.TrafficItemCount()
}

// Root returns the i-th top-level transfer group.
func (s *TrafficSource) Root(i uint64) (TrafficRef, error) {
	itemID := id.Id[capture.TrafficItem](i)
	entryID, err := s.reader.TrafficItemEntry(itemID)
	if err != nil {
		return TrafficRef{}, err
	}
	entry, err := s.reader.TransferGroupEntry(entryID)
	if err != nil {
		return TrafficRef{}, err
	}
	return TrafficRef{
		Kind:            KindGroup,
		GroupEndpointID: entry.EndpointID,
		GroupItemID:     itemID,
		EPTransferID:    id.Id[capture.EPTransfer](entry.EPTransferID),
	}, nil
}

// Status reports a group's completion state (only meaningful for
// KindGroup refs).
func (s *TrafficSource) Status(ref TrafficRef) GroupStatus {
	if _, ok := s.reader.EndpointEndOfGroup(ref.GroupEndpointID, ref.EPTransferID); ok {
		return StatusComplete
	}
	return StatusOngoing
}

// Invalid reports whether ref's group was marked Invalid at decode
// time (§4.4.6's fallback path, or the INVALID pseudo-endpoint).
func (s *TrafficSource) Invalid(ref TrafficRef) bool {
	entryID, err := s.reader.TrafficItemEntry(ref.GroupItemID)
	if err != nil {
		return false
	}
	entry, err := s.reader.TransferGroupEntry(entryID)
	if err != nil {
		return false
	}
	return entry.Invalid || ref.GroupEndpointID == capture.EndpointInvalid
}

// ChildCount returns how many children ref has.
func (s *TrafficSource) ChildCount(ref TrafficRef) (uint64, error) {
	switch ref.Kind {
	case KindGroup:
		return s.reader.EndpointTransferRange(ref.GroupEndpointID, ref.EPTransferID).Len(), nil
	case KindTransaction:
		txn, err := s.reader.Transaction(ref.TransactionID)
		if err != nil {
			return 0, err
		}
		return txn.Packets[1] - txn.Packets[0], nil
	default:
		return 0, nil
	}
}

// Child returns ref's i-th child.
func (s *TrafficSource) Child(ref TrafficRef, i uint64) (TrafficRef, error) {
	switch ref.Kind {
	case KindGroup:
		return s.transactionChild(ref, i)
	case KindTransaction:
		return s.packetChild(ref, i)
	default:
		return TrafficRef{}, capture.IndexError("traffic_item_child", i)
	}
}

func (s *TrafficSource) transactionChild(ref TrafficRef, i uint64) (TrafficRef, error) {
	total := id.Id[capture.EPTransaction](s.reader.EndpointTransactionCount(ref.GroupEndpointID))
	rng := s.reader.EndpointTransferRange(ref.GroupEndpointID, ref.EPTransferID)
	if i >= rng.Len() {
		return TrafficRef{}, capture.IndexError("transfer_child", i)
	}
	epTxn := id.Id[capture.EPTransaction](uint64(rng.Start) + i)
	txnID, err := s.reader.EndpointTransaction(ref.GroupEndpointID, epTxn)
	if err != nil {
		return TrafficRef{}, err
	}
	return TrafficRef{
		Kind:            KindTransaction,
		GroupEndpointID: ref.GroupEndpointID,
		GroupItemID:     ref.GroupItemID,
		EPTransferID:    ref.EPTransferID,
		EPTransactionID: epTxn,
		TransactionID:   txnID,
		LastInGroup:     i+1 == rng.Len() || uint64(epTxn)+1 == uint64(total),
	}, nil
}

func (s *TrafficSource) packetChild(ref TrafficRef, i uint64) (TrafficRef, error) {
	txn, err := s.reader.Transaction(ref.TransactionID)
	if err != nil {
		return TrafficRef{}, err
	}
	count := txn.Packets[1] - txn.Packets[0]
	if i >= count {
		return TrafficRef{}, capture.IndexError("transaction_child", i)
	}
	return TrafficRef{
		Kind:            KindPacket,
		GroupEndpointID: ref.GroupEndpointID,
		GroupItemID:     ref.GroupItemID,
		EPTransferID:    ref.EPTransferID,
		EPTransactionID: ref.EPTransactionID,
		TransactionID:   ref.TransactionID,
		PacketID:        id.Id[capture.Packet](txn.Packets[0] + i),
		LastInTxn:       i+1 == count,
	}, nil
}

// Transactions returns every transaction ref belonging to group ref, in
// order - a convenience used by description rendering, which needs to
// inspect the whole group at once (total bytes, polling detection).
func (s *TrafficSource) Transactions(ref TrafficRef) ([]TrafficRef, error) {
	n, err := s.ChildCount(ref)
	if err != nil {
		return nil, err
	}
	out := make([]TrafficRef, 0, n)
	for i := uint64(0); i < n; i++ {
		child, err := s.Child(ref, i)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// Reader exposes the underlying reader, e.g. for internal/queryapi.
func (s *TrafficSource) Reader() *capture.CaptureReader { return s.reader }

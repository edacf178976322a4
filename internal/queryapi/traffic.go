// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queryapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openusbtrace/usbtrace/internal/filter"
	"github.com/openusbtrace/usbtrace/internal/item"
)

// trafficItemDTO is the wire shape of one Traffic-tree row: an opaque
// ref token (used to fetch its children/description/connectors) plus
// enough to render it without a second round trip.
type trafficItemDTO struct {
	Ref         string `json:"ref"`
	Kind        string `json:"kind"`
	ChildCount  uint64 `json:"childCount"`
	Description string `json:"description,omitempty"`
	Connectors  string `json:"connectors,omitempty"`
	Ongoing     bool   `json:"ongoing,omitempty"`
}

func encodeRef(ref item.TrafficRef) string {
	b, _ := json.Marshal(ref)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeRef(tok string) (item.TrafficRef, error) {
	var ref item.TrafficRef
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return ref, err
	}
	err = json.Unmarshal(b, &ref)
	return ref, err
}

func (s *Server) describe(ref item.TrafficRef) trafficItemDTO {
	dto := trafficItemDTO{Ref: encodeRef(ref)}
	switch ref.Kind {
	case item.KindGroup:
		dto.Kind = "group"
		dto.Ongoing = s.traffic.Status(ref) == item.StatusOngoing
		dto.Description, _ = s.traffic.GroupDescription(ref)
	case item.KindTransaction:
		dto.Kind = "transaction"
		dto.Description, _ = s.traffic.TransactionDescription(ref)
	case item.KindPacket:
		dto.Kind = "packet"
		dto.Description, _ = s.traffic.PacketDescription(ref)
	}
	dto.ChildCount, _ = s.traffic.ChildCount(ref)
	dto.Connectors, _ = s.traffic.Connectors(ref)
	return dto
}

// GET /traffic/roots - every visible top-level transfer group, with
// the active filter (if any) applied.
func (s *Server) trafficRoots(rw http.ResponseWriter, r *http.Request) {
	const route = "traffic.roots"
	n := s.traffic.RootCount()
	out := make([]trafficItemDTO, 0, n)
	for i := uint64(0); i < n; i++ {
		ref, err := s.traffic.Root(i)
		if err != nil {
			writeError(rw, route, http.StatusInternalServerError, err)
			return
		}
		if s.filter != nil {
			if it, ferr := filter.Describe(s.traffic, ref); ferr == nil {
				if hide, herr := s.filter.Hides(it); herr == nil && hide {
					continue
				}
			}
		}
		out = append(out, s.describe(ref))
	}
	writeJSON(rw, route, out)
}

// GET /traffic/{group}/children - {group} is a root index (uint64);
// its direct children (transactions, or packets for a transaction
// row identified via ?ref=).
func (s *Server) trafficChildren(rw http.ResponseWriter, r *http.Request) {
	const route = "traffic.children"
	ref, err := s.resolveTrafficRef(r)
	if err != nil {
		writeError(rw, route, http.StatusBadRequest, err)
		return
	}
	n, err := s.traffic.ChildCount(ref)
	if err != nil {
		writeError(rw, route, http.StatusInternalServerError, err)
		return
	}
	out := make([]trafficItemDTO, 0, n)
	for i := uint64(0); i < n; i++ {
		child, err := s.traffic.Child(ref, i)
		if err != nil {
			writeError(rw, route, http.StatusInternalServerError, err)
			return
		}
		out = append(out, s.describe(child))
	}
	writeJSON(rw, route, out)
}

func (s *Server) trafficDescription(rw http.ResponseWriter, r *http.Request) {
	const route = "traffic.description"
	ref, err := s.resolveTrafficRef(r)
	if err != nil {
		writeError(rw, route, http.StatusBadRequest, err)
		return
	}
	writeJSON(rw, route, s.describe(ref))
}

func (s *Server) trafficConnectors(rw http.ResponseWriter, r *http.Request) {
	const route = "traffic.connectors"
	ref, err := s.resolveTrafficRef(r)
	if err != nil {
		writeError(rw, route, http.StatusBadRequest, err)
		return
	}
	conn, err := s.traffic.Connectors(ref)
	if err != nil {
		writeError(rw, route, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, route, map[string]string{"connectors": conn})
}

// resolveTrafficRef accepts either a {group} root index path segment
// or a ?ref= token identifying a non-root row, the latter taking
// precedence when present.
func (s *Server) resolveTrafficRef(r *http.Request) (item.TrafficRef, error) {
	if tok := r.URL.Query().Get("ref"); tok != "" {
		return decodeRef(tok)
	}
	i, err := parseUint(mux.Vars(r)["group"])
	if err != nil {
		return item.TrafficRef{}, err
	}
	return s.traffic.Root(i)
}

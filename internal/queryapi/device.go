// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queryapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openusbtrace/usbtrace/internal/item"
)

type deviceItemDTO struct {
	Ref         string `json:"ref"`
	Kind        string `json:"kind"`
	ChildCount  uint64 `json:"childCount"`
	Description string `json:"description,omitempty"`
}

var deviceKindNames = map[item.DeviceKind]string{
	item.KindDevice:              "device",
	item.KindDeviceDescriptor:    "deviceDescriptor",
	item.KindConfig:              "config",
	item.KindConfigDescriptor:    "configDescriptor",
	item.KindInterface:           "interface",
	item.KindInterfaceDescriptor: "interfaceDescriptor",
	item.KindEndpointDescriptor:  "endpointDescriptor",
	item.KindField:               "field",
}

func encodeDeviceRef(ref item.DeviceRef) string {
	b, _ := json.Marshal(ref)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeDeviceRef(tok string) (item.DeviceRef, error) {
	var ref item.DeviceRef
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return ref, err
	}
	err = json.Unmarshal(b, &ref)
	return ref, err
}

func (s *Server) describeDevice(ref item.DeviceRef) deviceItemDTO {
	dto := deviceItemDTO{Ref: encodeDeviceRef(ref), Kind: deviceKindNames[ref.Kind]}
	dto.ChildCount, _ = s.device.ChildCount(ref)
	if ref.Kind == item.KindField {
		dto.Description, _ = s.device.FieldDescription(ref)
	} else {
		dto.Description, _ = s.device.NodeDescription(ref)
	}
	return dto
}

// GET /devices/roots - every device observed so far, excluding the
// default bus-address-0 device (§4.5).
func (s *Server) deviceRoots(rw http.ResponseWriter, r *http.Request) {
	const route = "devices.roots"
	n := s.device.RootCount()
	out := make([]deviceItemDTO, 0, n)
	for i := uint64(0); i < n; i++ {
		ref, err := s.device.Root(i)
		if err != nil {
			writeError(rw, route, http.StatusInternalServerError, err)
			return
		}
		out = append(out, s.describeDevice(ref))
	}
	writeJSON(rw, route, out)
}

func (s *Server) deviceChildren(rw http.ResponseWriter, r *http.Request) {
	const route = "devices.children"
	ref, err := s.resolveDeviceRef(r)
	if err != nil {
		writeError(rw, route, http.StatusBadRequest, err)
		return
	}
	n, err := s.device.ChildCount(ref)
	if err != nil {
		writeError(rw, route, http.StatusInternalServerError, err)
		return
	}
	out := make([]deviceItemDTO, 0, n)
	for i := uint64(0); i < n; i++ {
		child, err := s.device.Child(ref, i)
		if err != nil {
			writeError(rw, route, http.StatusInternalServerError, err)
			return
		}
		out = append(out, s.describeDevice(child))
	}
	writeJSON(rw, route, out)
}

func (s *Server) deviceDescription(rw http.ResponseWriter, r *http.Request) {
	const route = "devices.description"
	ref, err := s.resolveDeviceRef(r)
	if err != nil {
		writeError(rw, route, http.StatusBadRequest, err)
		return
	}
	updated, changed, err := s.device.ItemUpdate(ref)
	if err != nil {
		writeError(rw, route, http.StatusInternalServerError, err)
		return
	}
	if changed {
		ref = updated
	}
	writeJSON(rw, route, s.describeDevice(ref))
}

func (s *Server) resolveDeviceRef(r *http.Request) (item.DeviceRef, error) {
	if tok := r.URL.Query().Get("ref"); tok != "" {
		return decodeDeviceRef(tok)
	}
	i, err := parseUint(mux.Vars(r)["device"])
	if err != nil {
		return item.DeviceRef{}, err
	}
	return s.device.Root(i)
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queryapi exposes exactly the item/item_children/
// description/connectors contract of §1 over HTTP: this is the "thin
// adapter" the GTK UI sits behind, so the core's read contract is
// exercised over the wire as well as in-process. Built on
// github.com/gorilla/mux with github.com/gorilla/handlers for
// request logging.
package queryapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openusbtrace/usbtrace/internal/filter"
	"github.com/openusbtrace/usbtrace/internal/item"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "usbtrace_queryapi_requests_total",
	Help: "HTTP requests served by the query API, by route and status class.",
}, []string{"route", "status"})

// Server exposes a CaptureReader's Traffic and Device views over
// HTTP. Filter, if non-nil, hides top-level Traffic items the way
// internal/filter describes.
type Server struct {
	reader  *capture.CaptureReader
	filter  *filter.Filter
	traffic *item.TrafficSource
	device  *item.DeviceSource
}

// New builds a Server over reader. Install a filter afterwards with
// SetFilter; a Server starts unfiltered.
func New(reader *capture.CaptureReader) *Server {
	return &Server{
		reader:  reader,
		traffic: item.NewTrafficSource(reader),
		device:  item.NewDeviceSource(reader),
	}
}

// SetFilter installs (or, with nil, removes) the active Traffic
// filter.
func (s *Server) SetFilter(f *filter.Filter) { s.filter = f }

// Handler returns the mux router wrapped in gorilla/handlers' combined
// request logger, ready to be passed to http.ListenAndServe or mounted
// under a prefix.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/traffic/roots", s.trafficRoots).Methods(http.MethodGet)
	r.HandleFunc("/traffic/{group}/children", s.trafficChildren).Methods(http.MethodGet)
	r.HandleFunc("/traffic/{group}/description", s.trafficDescription).Methods(http.MethodGet)
	r.HandleFunc("/traffic/{group}/connectors", s.trafficConnectors).Methods(http.MethodGet)
	r.HandleFunc("/devices/roots", s.deviceRoots).Methods(http.MethodGet)
	r.HandleFunc("/devices/{device}/children", s.deviceChildren).Methods(http.MethodGet)
	r.HandleFunc("/devices/{device}/description", s.deviceDescription).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	return handlers.CombinedLoggingHandler(logWriter{}, r)
}

// logWriter adapts pkg/log to the io.Writer gorilla/handlers wants
// for its combined-log-format output.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Infof("queryapi: %s", p)
	return len(p), nil
}

func writeJSON(rw http.ResponseWriter, route string, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		requestsTotal.WithLabelValues(route, "error").Inc()
		return
	}
	requestsTotal.WithLabelValues(route, "ok").Inc()
}

func writeError(rw http.ResponseWriter, route string, status int, err error) {
	http.Error(rw, err.Error(), status)
	requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

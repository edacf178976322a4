// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package export is an optional, supplementary metrics-output path:
// per-endpoint transaction/transfer/byte counters encoded as InfluxDB
// line protocol, for feeding an external time-series store. It is not
// a required external collaborator - nothing in §6 depends on it - and
// it never mutates the capture, only reads it.
//
// Built on github.com/influxdata/line-protocol/v2's Encoder.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// WriteEndpointStats encodes one line-protocol row per real endpoint
// (the INVALID and FRAMING pseudo-endpoints are skipped) observed in
// reader, timestamped at as, to w.
func WriteEndpointStats(w io.Writer, reader *capture.CaptureReader, as time.Time) error {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)

	n := reader.EndpointCount()
	for i := uint64(capture.EndpointFraming + 1); i < n; i++ {
		epID := id.Id[capture.Endpoint](i)
		ep, err := reader.Endpoint(epID)
		if err != nil {
			return fmt.Errorf("export: endpoint %d: %w", i, err)
		}

		txnCount := reader.EndpointTransactionCount(i)
		var bytes uint64
		if txnCount > 0 {
			bytes = reader.EndpointDataByteCount(i, id.Id[capture.EPTransaction](txnCount-1))
		}

		enc.StartLine("usbtrace_endpoint")
		enc.AddTag([]byte("device"), fmt.Appendf(nil, "%d", ep.DeviceAddress))
		enc.AddTag([]byte("endpoint"), fmt.Appendf(nil, "%d", ep.Number))
		enc.AddTag([]byte("direction"), []byte(ep.Direction.String()))
		enc.AddField([]byte("transactions"), lineprotocol.UintValue(txnCount))
		enc.AddField([]byte("transfers"), lineprotocol.UintValue(reader.EndpointTransferCount(i)))
		enc.AddField([]byte("bytes"), lineprotocol.UintValue(bytes))
		enc.EndLine(as)
		if err := enc.Err(); err != nil {
			return fmt.Errorf("export: encode endpoint %d: %w", i, err)
		}
	}

	_, err := w.Write(enc.Bytes())
	return err
}

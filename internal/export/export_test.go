// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package export_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openusbtrace/usbtrace/internal/decoder"
	"github.com/openusbtrace/usbtrace/internal/export"
	"github.com/openusbtrace/usbtrace/pkg/capture"
)

func TestWriteEndpointStats(t *testing.T) {
	c := capture.New()
	w := c.Writer()
	d := decoder.New(w)

	ts := uint64(0)
	feed := func(pkts ...[]byte) {
		for _, p := range pkts {
			ts += 100
			require.NoError(t, d.HandleRawPacket(ts, p))
		}
	}
	token := func(pid capture.PID, addr, ep uint8) []byte {
		return []byte{byte(pid), (addr & 0x7F) | ((ep & 0x01) << 7), (ep >> 1) & 0x07}
	}
	data := func(pid capture.PID, payload []byte) []byte {
		out := append([]byte{byte(pid)}, payload...)
		return append(out, 0, 0)
	}

	feed(
		token(capture.PIDIn, 1, 1),
		data(capture.PIDData0, []byte{1, 2, 3, 4}),
		[]byte{byte(capture.PIDAck)},
	)
	require.NoError(t, d.Finish())

	var buf bytes.Buffer
	require.NoError(t, export.WriteEndpointStats(&buf, w.Reader(), time.Unix(0, 1000)))
	require.Contains(t, buf.String(), "usbtrace_endpoint")
	require.Contains(t, buf.String(), "device=1")
	require.Contains(t, buf.String(), "bytes=4")
}

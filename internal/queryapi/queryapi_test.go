// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queryapi_test

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openusbtrace/usbtrace/internal/decoder"
	"github.com/openusbtrace/usbtrace/internal/filter"
	"github.com/openusbtrace/usbtrace/internal/queryapi"
	"github.com/openusbtrace/usbtrace/pkg/capture"
)

func setupPayload(reqType, request uint8, value, index, length uint16) []byte {
	b := make([]byte, 8)
	b[0] = reqType
	b[1] = request
	binary.LittleEndian.PutUint16(b[2:], value)
	binary.LittleEndian.PutUint16(b[4:], index)
	binary.LittleEndian.PutUint16(b[6:], length)
	return b
}

func token(pid capture.PID, addr, ep uint8) []byte {
	b0 := (addr & 0x7F) | ((ep & 0x01) << 7)
	b1 := (ep >> 1) & 0x07
	return []byte{byte(pid), b0, b1}
}

func data(pid capture.PID, payload []byte) []byte {
	out := append([]byte{byte(pid)}, payload...)
	return append(out, 0, 0)
}

func handshake(pid capture.PID) []byte { return []byte{byte(pid)} }

func buildCapture(t *testing.T) *capture.CaptureReader {
	t.Helper()
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
	feed(
		token(capture.PIDSetup, 0, 0),
		data(capture.PIDData0, setupPayload(0x80, 0x06, 0x0100, 0, 8)),
		handshake(capture.PIDAck),
		token(capture.PIDIn, 0, 0),
		data(capture.PIDData1, []byte{8, 1, 0, 2, 0, 0, 0, 64}),
		handshake(capture.PIDAck),
		token(capture.PIDOut, 0, 0),
		data(capture.PIDData0, nil),
		handshake(capture.PIDAck),
	)
	require.NoError(t, d.Finish())
	return w.Reader()
}

func TestTrafficRootsServesDecodedCapture(t *testing.T) {
	srv := httptest.NewServer(queryapi.New(buildCapture(t)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/traffic/roots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var roots []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roots))
	require.Len(t, roots, 1)
	require.Equal(t, "group", roots[0]["kind"])
}

func TestTrafficFilterHidesFramingGroups(t *testing.T) {
	s := queryapi.New(buildCapture(t))
	f, err := filter.Compile("Framing")
	require.NoError(t, err)
	s.SetFilter(f)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/traffic/roots")
	require.NoError(t, err)
	defer resp.Body.Close()

	var roots []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roots))
	require.Len(t, roots, 1) // the one control group is not Framing, so it stays
}

func TestDeviceRootsAndMetrics(t *testing.T) {
	srv := httptest.NewServer(queryapi.New(buildCapture(t)).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/devices/roots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	require.Equal(t, http.StatusOK, metrics.StatusCode)
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint writes and reads the manifest that lets a saved
// capture be reopened without re-scanning every block (spec §6.5): one
// Avro object-container file recording each stream's block count and
// byte length plus a snapshot of the capture's CounterSet. The
// manifest is purely an acceleration structure - deleting it only
// costs a full rescan on the next open, it is never authoritative.
//
// Written as a goavro.NewOCFWriter with deflate compression. The
// manifest has a fixed shape, so the schema is a literal instead of
// something built up field by field.
package checkpoint

import (
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	"github.com/openusbtrace/usbtrace/pkg/capture"
)

const manifestSchema = `{
	"type": "record",
	"name": "ManifestEntry",
	"fields": [
		{"name": "kind", "type": "string"},
		{"name": "name", "type": "string"},
		{"name": "block_count", "type": "long", "default": 0},
		{"name": "byte_len", "type": "long", "default": 0},
		{"name": "value", "type": "long", "default": 0}
	]
}`

// Entry is one record of the manifest: either a stream's block
// manifest (Kind == KindStream) or one CounterSet value (Kind ==
// KindCounter).
type Entry struct {
	Kind       string
	Name       string
	BlockCount int64
	ByteLen    int64
	Value      int64
}

// The two kinds of manifest entry.
const (
	KindStream  = "stream"
	KindCounter = "counter"
)

// Dump writes a manifest for c to w: one entry per underlying stream
// plus one per live CounterSet value, so Load can rebuild both without
// the caller re-scanning the capture's blocks.
func Dump(w io.Writer, c *capture.Capture) error {
	codec, err := goavro.NewCodec(manifestSchema)
	if err != nil {
		return fmt.Errorf("checkpoint: schema: %w", err)
	}
	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: OCF writer: %w", err)
	}

	var records []map[string]any
	for _, s := range c.ManifestStreams() {
		records = append(records, map[string]any{
			"kind":        KindStream,
			"name":        s.Name,
			"block_count": int64(s.BlockCount),
			"byte_len":    int64(s.ByteLen),
			"value":       int64(0),
		})
	}

	names := c.CounterSet().Names()
	values := c.CounterSet().Values()
	for i, name := range names {
		records = append(records, map[string]any{
			"kind":        KindCounter,
			"name":        name,
			"block_count": int64(0),
			"byte_len":    int64(0),
			"value":       int64(values[i]),
		})
	}

	if err := writer.Append(records); err != nil {
		return fmt.Errorf("checkpoint: append: %w", err)
	}
	return nil
}

// Load reads a manifest previously written by Dump. The caller decides
// what to do with stale or missing manifests; Load itself performs no
// validation against a live capture.
func Load(r io.Reader) ([]Entry, error) {
	reader, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: OCF reader: %w", err)
	}

	var out []Entry
	for reader.Scan() {
		rec, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read record: %w", err)
		}
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("checkpoint: unexpected record type %T", rec)
		}
		out = append(out, Entry{
			Kind:       m["kind"].(string),
			Name:       m["name"].(string),
			BlockCount: m["block_count"].(int64),
			ByteLen:    m["byte_len"].(int64),
			Value:      m["value"].(int64),
		})
	}
	return out, nil
}

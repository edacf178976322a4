// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": true,
	"properties": {
		"listen-addr": {"type": "string"},
		"metrics-addr": {"type": "string"},
		"gops": {"type": "boolean"},
		"log-level": {"type": "string", "enum": ["debug", "info", "notice", "warn", "err", "crit"]},
		"log-date": {"type": "boolean"},
		"library": {"type": "string"},
		"filter": {"type": "string"},
		"output": {
			"type": "object",
			"properties": {
				"kind": {"type": "string", "enum": ["file", "s3"]},
				"path": {"type": "string"},
				"bucket": {"type": "string"},
				"region": {"type": "string"}
			}
		},
		"nats": {
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"subject": {"type": "string"}
			}
		}
	}
}`

// Validate checks r (a JSON document) against the configuration
// schema before it is decoded into Go structs.
func Validate(r io.Reader) error {
	sch, err := jsonschema.CompileString("config.schema.json", configSchema)
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: validate: %w", err)
	}
	return nil
}

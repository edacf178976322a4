// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the single JSON configuration
// file usbtrace is started with, merged with `.env` values and
// command-line flags: decode with unknown fields rejected, validate
// against an embedded JSON Schema before the values are trusted
// anywhere else in the program.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Config is the full set of program options; every field has a zero
// value that makes sense for `usbtrace capture` run with no config
// file at all.
type Config struct {
	// ListenAddr is where internal/queryapi listens, e.g. ":8089".
	// Empty disables the HTTP query surface.
	ListenAddr string `json:"listen-addr"`

	// MetricsAddr is accepted and validated but not read by any
	// command; Prometheus metrics are served only at /metrics on the
	// query API's ListenAddr.
	MetricsAddr string `json:"metrics-addr"`

	// Gops enables the github.com/google/gops/agent diagnostics
	// endpoint (`--gops`).
	Gops bool `json:"gops"`

	// LogLevel is one of debug/info/notice/warn/err/crit.
	LogLevel string `json:"log-level"`

	// LogDate toggles stdlib date/time stamps on log output.
	LogDate bool `json:"log-date"`

	// Output names the default destination for `-o` when it is not
	// overridden on the command line: kind "file" or "s3". Stdout is
	// selected only with `-o -`.
	Output OutputConfig `json:"output"`

	// Library is the path to the saved-capture SQLite catalog. Empty
	// disables cataloging.
	Library string `json:"library"`

	// Filter is an expr-lang expression (internal/filter) applied to
	// every top-level Traffic item; empty means no filtering.
	Filter string `json:"filter"`

	// NATS names a remote capture agent's server URL and subject; the
	// natsfeed backend is configured only when both are set.
	NATS NATSConfig `json:"nats"`
}

// OutputConfig configures the default `-o` destination.
type OutputConfig struct {
	Kind   string `json:"kind"` // "file", "s3"
	Path   string `json:"path"`
	Bucket string `json:"bucket"`
	Region string `json:"region"`
}

// NATSConfig configures internal/backend/natsfeed.
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		ListenAddr: ":8089",
		LogLevel:   "info",
		Output: OutputConfig{
			Kind: "file",
			Path: "./capture.pcapng",
		},
		Library: "./var/captures.db",
	}
}

// Load reads .env (if present) into the process environment, then
// reads and validates the JSON config file at path, falling back to
// Default() if path does not exist. An explicitly-named file that
// cannot be parsed or fails schema validation is a fatal error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("config: loading .env: %v", err)
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		return Config{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

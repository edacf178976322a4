// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diag wires an opt-in github.com/google/gops/agent endpoint
// for inspecting a long-running headless capture process (goroutine
// dumps, heap profiles, GC stats).
package diag

import (
	"github.com/google/gops/agent"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Listen starts the gops agent if enabled is true. It is a no-op
// otherwise, so callers can pass the config flag straight through.
func Listen(enabled bool) error {
	if !enabled {
		return nil
	}
	if err := agent.Listen(agent.Options{}); err != nil {
		return err
	}
	log.Info("diag: gops agent listening")
	return nil
}

// Close stops the gops agent, if it was started.
func Close() { agent.Close() }

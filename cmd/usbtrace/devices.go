// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/openusbtrace/usbtrace/internal/backend"
	"github.com/openusbtrace/usbtrace/internal/backend/natsfeed"
	"github.com/openusbtrace/usbtrace/pkg/capture"
)

// runDevices implements `usbtrace devices`: list detected analyzer
// devices with serial, usability and supported speeds (§6.4). Actual
// hardware backends (Cynthion, ice40-usbtrace) are out of scope
// (§1); the only Backend wired here is natsfeed, reachable when the
// config names a remote capture agent.
func runDevices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	cfg, _, err := loadProgram(fs, args)
	if err != nil {
		return err
	}

	var backends []backend.Backend
	if cfg.NATS.URL != "" && cfg.NATS.Subject != "" {
		backends = append(backends, natsfeed.New(natsfeed.Config{
			Address: cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Serial:  "nats:" + cfg.NATS.Subject,
			Desc:    fmt.Sprintf("remote agent on %s", cfg.NATS.URL),
			Speeds:  []backend.Speed{capture.SpeedAuto, capture.SpeedHigh},
		}))
	}

	ctx, cancel := withSignals()
	defer cancel()

	if len(backends) == 0 {
		fmt.Println("no backends configured (set nats.url/nats.subject in the config file)")
		return nil
	}

	for _, b := range backends {
		devs, err := b.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for _, d := range devs {
			speeds := make([]string, len(d.SupportedSpeeds))
			for i, s := range d.SupportedSpeeds {
				speeds[i] = s.String()
			}
			fmt.Printf("%s\t%s\t[%s]\n", d.Serial, d.Description, strings.Join(speeds, ","))
		}
	}
	return nil
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command usbtrace is the headless, non-UI path of §6.4: it drives a
// hardware backend or reads a capture file, decodes USB 2.0 traffic
// through internal/decoder, and either saves the result to a pcap/
// pcap-ng file or serves it over internal/queryapi. Startup order is
// .env, then config, then gops, then the service itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openusbtrace/usbtrace/internal/config"
	"github.com/openusbtrace/usbtrace/internal/diag"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "capture":
		err = runCapture(args)
	case "devices":
		err = runDevices(args)
	case "captures":
		err = runCaptures(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "usbtrace: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usbtrace - USB 2.0 protocol analyzer

Usage:
  usbtrace capture [-d <serial|auto>] [-s <Low|Full|High|Auto>] [-o <file|'-'>]
  usbtrace devices
  usbtrace captures list [--serial S] [--since T]
  usbtrace captures open <id|path>`)
}

// loadProgram parses the shared flags (-config, -gops, -logdate,
// -loglevel) from args, returning the remaining positional args.
func loadProgram(fs *flag.FlagSet, args []string) (config.Config, []string, error) {
	flagConfigFile := fs.String("config", "./usbtrace.json", "configuration file")
	flagGops := fs.Bool("gops", false, "enable the gops diagnostics agent")
	flagLogDate := fs.Bool("logdate", false, "include date/time in log output")
	flagLogLevel := fs.String("loglevel", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.Load(*flagConfigFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("usbtrace: config: %w", err)
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagGops {
		cfg.Gops = true
	}
	if *flagLogDate {
		cfg.LogDate = true
	}

	log.SetLevel(cfg.LogLevel)
	log.SetDateTime(cfg.LogDate)
	if err := diag.Listen(cfg.Gops); err != nil {
		return config.Config{}, nil, fmt.Errorf("usbtrace: gops: %w", err)
	}
	return cfg, fs.Args(), nil
}

// withSignals returns a context cancelled on SIGINT/SIGTERM, the way
// a capture is stopped per §5 ("A capture is stopped by signalling
// its upstream source").
func withSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/openusbtrace/usbtrace/internal/decoder"
	"github.com/openusbtrace/usbtrace/internal/file"
	"github.com/openusbtrace/usbtrace/internal/library"
	"github.com/openusbtrace/usbtrace/internal/queryapi"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

// runCaptures implements `usbtrace captures list|open`, the
// internal/library catalog CLI surface (SPEC_FULL §6.4).
func runCaptures(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: usbtrace captures list|open ...")
	}
	switch args[0] {
	case "list":
		return runCapturesList(args[1:])
	case "open":
		return runCapturesOpen(args[1:])
	default:
		return fmt.Errorf("usbtrace captures: unknown subcommand %q", args[0])
	}
}

func runCapturesList(args []string) error {
	fs := flag.NewFlagSet("captures list", flag.ExitOnError)
	flagSerial := fs.String("serial", "", "filter by device serial")
	flagSince := fs.String("since", "", "filter by start time, RFC3339")
	cfg, _, err := loadProgram(fs, args)
	if err != nil {
		return err
	}

	cat, err := library.Open(cfg.Library)
	if err != nil {
		return fmt.Errorf("captures list: %w", err)
	}
	defer cat.Close()

	q := library.Query{Serial: *flagSerial}
	if *flagSince != "" {
		q.Since, err = time.Parse(time.RFC3339, *flagSince)
		if err != nil {
			return fmt.Errorf("captures list: --since: %w", err)
		}
	}

	entries, err := cat.List(q)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s\t%s\t%s\t%d pkts\t%d bytes\n", e.ID, e.Path, e.Serial, e.StartedAt.Format(time.RFC3339), e.PacketCount, e.ByteCount)
	}
	return nil
}

func runCapturesOpen(args []string) error {
	fs := flag.NewFlagSet("captures open", flag.ExitOnError)
	cfg, rest, err := loadProgram(fs, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: usbtrace captures open <id|path>")
	}
	path := rest[0]

	cat, err := library.Open(cfg.Library)
	if err != nil {
		return fmt.Errorf("captures open: %w", err)
	}
	defer cat.Close()

	if entry, err := cat.FindByPath(path); err == nil && entry != nil {
		path = entry.Path
	} else if n, perr := strconv.ParseInt(path, 10, 64); perr == nil {
		if entries, lerr := cat.List(library.Query{}); lerr == nil {
			for _, e := range entries {
				if e.ID == n {
					path = e.Path
				}
			}
		}
	}

	reader, err := loadCaptureFile(path)
	if err != nil {
		return fmt.Errorf("captures open %s: %w", path, err)
	}

	if cfg.ListenAddr == "" {
		log.Info("captures open: no listen-addr configured; decoded capture will not be served")
		return nil
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: queryapi.New(reader).Handler()}
	log.Infof("captures open: serving %s on %s", path, cfg.ListenAddr)
	ctx, cancel := withSignals()
	defer cancel()

	if mnt, err := startLibraryMaintenance(cfg.Library); err != nil {
		log.Warnf("captures open: library maintenance: %v", err)
	} else {
		defer mnt.Close()
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loadCaptureFile re-decodes a saved pcap/pcap-ng file into a fresh
// in-memory Capture, since the core store has no on-disk "open
// read-only" path beyond the §6.5 block layout. Any checkpoint
// manifest saved beside the file is not read.
func loadCaptureFile(path string) (*capture.CaptureReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	loader, err := openLoader(br)
	if err != nil {
		return nil, err
	}

	c := capture.New()
	writer := c.Writer()
	dec := decoder.New(writer)
	for {
		pkt, ok, err := loader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := dec.HandleRawPacket(pkt.TimestampNs, pkt.Data); err != nil {
			return nil, err
		}
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return writer.Reader(), nil
}

// openLoader sniffs the file's magic number to pick between pcap and
// pcap-ng, so `captures open` works on files saved either way.
func openLoader(br *bufio.Reader) (file.Loader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	const ngMagic = "\x0a\x0d\x0d\x0a"
	if string(magic) == ngMagic {
		return file.NewPcapNgLoader(br)
	}
	return file.NewPcapLoader(br)
}

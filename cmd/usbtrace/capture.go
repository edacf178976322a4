// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/openusbtrace/usbtrace/internal/backend"
	"github.com/openusbtrace/usbtrace/internal/backend/natsfeed"
	"github.com/openusbtrace/usbtrace/internal/checkpoint"
	"github.com/openusbtrace/usbtrace/internal/config"
	"github.com/openusbtrace/usbtrace/internal/decoder"
	"github.com/openusbtrace/usbtrace/internal/export"
	"github.com/openusbtrace/usbtrace/internal/file"
	"github.com/openusbtrace/usbtrace/internal/filter"
	"github.com/openusbtrace/usbtrace/internal/library"
	"github.com/openusbtrace/usbtrace/internal/queryapi"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

func idPacket(i uint64) id.Id[capture.Packet] { return id.Id[capture.Packet](i) }

// runCapture implements `usbtrace capture` (§6.4): open an analyzer
// device, decode its packet stream into a Capture, and save the
// result to a pcap/pcap-ng file (or stdout) when the capture stops.
func runCapture(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	flagDevice := fs.String("d", "auto", "device `serial` to open, or 'auto' for the first available")
	flagSpeed := fs.String("s", "Auto", "capture `speed`: Low, Full, High or Auto")
	flagOutput := fs.String("o", "", "output `file` ('-' for stdout); overrides the configured default")
	flagDuration := fs.Duration("duration", 0, "stop automatically after this long (0 = run until signalled)")
	flagRateHz := fs.Float64("rate", 0, "cap the decoder's packet intake rate, in packets/sec (0 = unlimited)")
	cfg, _, err := loadProgram(fs, args)
	if err != nil {
		return err
	}

	speed, err := parseSpeed(*flagSpeed)
	if err != nil {
		return err
	}

	b, err := selectBackend(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := withSignals()
	defer cancel()
	if *flagDuration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *flagDuration)
		defer timeoutCancel()
	}

	dev, err := resolveDevice(ctx, b, *flagDevice)
	if err != nil {
		return err
	}

	handle, err := b.Open(ctx, dev)
	if err != nil {
		return fmt.Errorf("open %s: %w", dev.Serial, err)
	}
	defer handle.Close()

	c := capture.New()
	writer := c.Writer()
	dec := decoder.New(writer)

	var f *filter.Filter
	if cfg.Filter != "" {
		f, err = filter.Compile(cfg.Filter)
		if err != nil {
			return err
		}
	}

	var queryapiSrv *http.Server
	if cfg.ListenAddr != "" {
		s := queryapi.New(writer.Reader())
		s.SetFilter(f)
		queryapiSrv = &http.Server{Addr: cfg.ListenAddr, Handler: s.Handler()}
		go func() {
			log.Infof("capture: query API listening on %s", cfg.ListenAddr)
			if err := queryapiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("capture: query API: %v", err)
			}
		}()
		defer queryapiSrv.Close()

		if cfg.Library != "" {
			if mnt, err := startLibraryMaintenance(cfg.Library); err != nil {
				log.Warnf("capture: library maintenance: %v", err)
			} else {
				defer mnt.Close()
			}
		}
	}

	var limiter backend.RateLimiter
	if *flagRateHz > 0 {
		limiter = rate.NewLimiter(rate.Limit(*flagRateHz), 1)
	}

	stream, stop, err := handle.Start(speed, func(err error) {
		if err != nil {
			log.Errorf("capture: device stream ended: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	go func() {
		<-ctx.Done()
		stop.Stop()
	}()

	startedAt := time.Now()
	drainErr := backend.Drain(ctx, stream, limiter, func(pkt backend.Packet) error {
		return dec.HandleRawPacket(pkt.TimestampNs, pkt.Data)
	})
	if drainErr != nil && drainErr != context.Canceled && drainErr != context.DeadlineExceeded {
		log.Errorf("capture: %v", drainErr)
	}
	if err := dec.Finish(); err != nil {
		return fmt.Errorf("finish: %w", err)
	}

	outName := *flagOutput
	if outName == "" {
		outName = cfg.Output.Path
	}
	if outName == "" {
		return nil
	}
	if err := saveCapture(ctx, cfg, writer.Reader(), outName, startedAt); err != nil {
		return err
	}
	if outName != "-" {
		if err := writeEndpointStatsSidecar(writer.Reader(), outName); err != nil {
			log.Warnf("capture: endpoint stats export: %v", err)
		}
		if err := checkpointManifest(c, outName+".manifest.avro"); err != nil {
			log.Warnf("capture: checkpoint manifest: %v", err)
		}
	}
	return nil
}

// writeEndpointStatsSidecar writes a "<capture>.lp" line-protocol file
// of per-endpoint transfer counts/bytes alongside the saved capture,
// for feeding an external time-series store (internal/export).
func writeEndpointStatsSidecar(reader *capture.CaptureReader, capturePath string) error {
	f, err := os.Create(capturePath + ".lp")
	if err != nil {
		return err
	}
	defer f.Close()
	return export.WriteEndpointStats(f, reader, time.Now())
}

// startLibraryMaintenance opens the catalog and starts its periodic
// stale-entry prune on a 10 minute interval, for the lifetime of a
// query-serving capture process.
func startLibraryMaintenance(path string) (*library.Maintenance, error) {
	cat, err := library.Open(path)
	if err != nil {
		return nil, err
	}
	return library.StartMaintenance(cat, 10*time.Minute)
}

func parseSpeed(s string) (capture.Speed, error) {
	switch strings.ToLower(s) {
	case "low":
		return capture.SpeedLow, nil
	case "full":
		return capture.SpeedFull, nil
	case "high":
		return capture.SpeedHigh, nil
	case "auto", "":
		return capture.SpeedAuto, nil
	default:
		return 0, fmt.Errorf("invalid speed %q", s)
	}
}

func selectBackend(cfg config.Config) (backend.Backend, error) {
	if cfg.NATS.URL != "" && cfg.NATS.Subject != "" {
		return natsfeed.New(natsfeed.Config{
			Address: cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Serial:  "nats:" + cfg.NATS.Subject,
			Desc:    fmt.Sprintf("remote agent on %s", cfg.NATS.URL),
			Speeds:  []capture.Speed{capture.SpeedAuto, capture.SpeedHigh},
		}), nil
	}
	return nil, fmt.Errorf("no backend configured: set nats.url/nats.subject (hardware analyzer backends are out of scope; see §1)")
}

func resolveDevice(ctx context.Context, b backend.Backend, serial string) (backend.Device, error) {
	devs, err := b.Scan(ctx)
	if err != nil {
		return backend.Device{}, err
	}
	if len(devs) == 0 {
		return backend.Device{}, fmt.Errorf("no devices found")
	}
	if serial == "auto" || serial == "" {
		return devs[0], nil
	}
	for _, d := range devs {
		if d.Serial == serial {
			return d, nil
		}
	}
	return backend.Device{}, fmt.Errorf("no device with serial %q", serial)
}

func destinationFor(ctx context.Context, cfg config.Config, outName string) (file.Destination, string, error) {
	if outName == "-" {
		return file.StdoutDestination{Writer: os.Stdout}, "capture.pcapng", nil
	}
	switch cfg.Output.Kind {
	case "s3":
		dest, err := file.NewS3Destination(ctx, file.S3Config{
			Bucket: cfg.Output.Bucket,
			Region: cfg.Output.Region,
		})
		return dest, outName, err
	default:
		return file.LocalDestination{Root: "."}, outName, nil
	}
}

func saveCapture(ctx context.Context, cfg config.Config, reader *capture.CaptureReader, outName string, startedAt time.Time) error {
	dest, name, err := destinationFor(ctx, cfg, outName)
	if err != nil {
		return err
	}
	w, err := dest.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer w.Close()

	bw := bufio.NewWriter(w)
	saver, err := file.NewPcapNgSaver(bw, startedAt)
	if err != nil {
		return fmt.Errorf("pcap-ng writer: %w", err)
	}
	n := reader.PacketCount()
	for i := uint64(0); i < n; i++ {
		data, err := reader.Packet(idPacket(i))
		if err != nil {
			return err
		}
		ts, err := reader.PacketTime(idPacket(i))
		if err != nil {
			return err
		}
		if err := saver.Add(file.Packet{TimestampNs: ts, Data: data}); err != nil {
			return err
		}
	}
	if err := saver.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	log.Infof("capture: saved %d packets to %s", n, name)

	if cfg.Library != "" {
		if err := recordInCatalog(cfg, reader, name, startedAt); err != nil {
			log.Warnf("capture: library: %v", err)
		}
	}
	return nil
}

func recordInCatalog(cfg config.Config, reader *capture.CaptureReader, path string, startedAt time.Time) error {
	cat, err := library.Open(cfg.Library)
	if err != nil {
		return err
	}
	defer cat.Close()

	var byteCount int64
	n := reader.PacketCount()
	for i := uint64(0); i < n; i++ {
		data, err := reader.Packet(idPacket(i))
		if err == nil {
			byteCount += int64(len(data))
		}
	}

	_, err = cat.Record(library.Entry{
		Path:        path,
		StartedAt:   startedAt,
		PacketCount: int64(n),
		ByteCount:   byteCount,
	})
	return err
}

// checkpointManifest writes the acceleration manifest (§6.5) next to
// a saved capture. `captures open` does not read it; it always
// re-decodes the capture file.
func checkpointManifest(c *capture.Capture, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return checkpoint.Dump(f, c)
}

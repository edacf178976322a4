// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsfeed is a backend.Backend that reads wire-framed packets
// published to a NATS subject by a remote capture agent, so a capture
// can run against a bus analyzer attached to a different host than the
// decoder.
package natsfeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openusbtrace/usbtrace/internal/backend"
	"github.com/openusbtrace/usbtrace/internal/backend/wire"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Config names the NATS connection and subject carrying a single
// remote device's packet stream. One Config names one backend.Device.
type Config struct {
	Address string
	Subject string
	Serial  string
	Desc    string
	Speeds  []capture.Speed
}

// Feed connects to one or more remote agents, each identified by a
// Config, and exposes them through the backend.Backend contract.
type Feed struct {
	configs []Config
}

// New builds a Feed over the given remote agent configurations. No
// network connection is made until Start is called on a Handle
// returned by Open.
func New(configs ...Config) *Feed { return &Feed{configs: configs} }

var _ backend.Backend = (*Feed)(nil)

// Scan returns the configured devices without contacting NATS; remote
// agents are assumed reachable until Start proves otherwise.
func (f *Feed) Scan(ctx context.Context) ([]backend.Device, error) {
	devs := make([]backend.Device, 0, len(f.configs))
	for _, c := range f.configs {
		devs = append(devs, backend.Device{
			Serial:          c.Serial,
			Description:     c.Desc,
			SupportedSpeeds: c.Speeds,
		})
	}
	return devs, nil
}

// Open looks up the device's configuration and returns a Handle that
// connects to its NATS server and subscribes to its subject once
// Start is called. Open itself makes no network connection.
func (f *Feed) Open(ctx context.Context, dev backend.Device) (backend.Handle, error) {
	for _, c := range f.configs {
		if c.Serial == dev.Serial {
			return &Handle{cfg: c}, nil
		}
	}
	return nil, fmt.Errorf("natsfeed: no configured device with serial %q", dev.Serial)
}

// Handle is a backend.Handle backed by one NATS subscription.
type Handle struct {
	cfg  Config
	conn *nats.Conn
}

var _ backend.Handle = (*Handle)(nil)

func (h *Handle) Start(speed backend.Speed, onResult func(error)) (backend.PacketStream, backend.StopHandle, error) {
	conn, err := nats.Connect(h.cfg.Address,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("natsfeed: disconnected from %s: %v", h.cfg.Address, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("natsfeed: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("natsfeed: connect to %s: %w", h.cfg.Address, err)
	}
	h.conn = conn

	st := &stream{
		packets: make(chan backend.Packet, 256),
		done:    make(chan struct{}),
	}

	reasm := wire.NewReassembler(4096)
	var mu sync.Mutex
	var clockSeq uint64

	sub, err := conn.Subscribe(h.cfg.Subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		reasm.Feed(msg.Data)
		for {
			frame, ok, ferr := reasm.Next()
			if ferr != nil {
				log.Errorf("natsfeed: discarding malformed frame from %s: %v", h.cfg.Subject, ferr)
				return
			}
			if !ok {
				return
			}
			clockSeq++
			pkt := backend.Packet{TimestampNs: clockSeq, Data: append([]byte(nil), frame...)}
			select {
			case st.packets <- pkt:
			case <-st.done:
			}
		}
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("natsfeed: subscribe to %s: %w", h.cfg.Subject, err)
	}
	st.sub = sub
	st.conn = conn

	go func() {
		<-st.done
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("natsfeed: unsubscribe from %s: %v", h.cfg.Subject, err)
		}
		close(st.packets)
		if onResult != nil {
			onResult(nil)
		}
	}()

	return st, st, nil
}

func (h *Handle) Close() error {
	if h.conn != nil {
		h.conn.Close()
	}
	return nil
}

type stream struct {
	packets chan backend.Packet
	done    chan struct{}
	once    sync.Once
	sub     *nats.Subscription
	conn    *nats.Conn
}

var _ backend.PacketStream = (*stream)(nil)
var _ backend.StopHandle = (*stream)(nil)

func (s *stream) Next(ctx context.Context) (backend.Packet, bool, error) {
	select {
	case pkt, ok := <-s.packets:
		return pkt, ok, nil
	case <-ctx.Done():
		return backend.Packet{}, false, ctx.Err()
	}
}

func (s *stream) Stop() {
	s.once.Do(func() { close(s.done) })
}

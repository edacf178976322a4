// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"context"
	"io"
	"runtime/debug"
	"sync"

	"github.com/openusbtrace/usbtrace/internal/backend"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/log"
)

// timestamper assigns a timestamp to a frame read off the wire; a
// length-prefixed backend's frames carry no timestamp of their own
// (§6.2), so the caller supplies one, ordinarily a free-running
// counter or the host clock.
type timestamper func() uint64

// Device is a Handle over an already-open, already-negotiated
// io.ReadWriteCloser speaking the §6.2 length-prefixed framing.
type Device struct {
	Conn  io.ReadWriteCloser
	Clock timestamper // nil uses a monotonically increasing counter
}

var _ backend.Handle = (*Device)(nil)

// Start launches a goroutine that reads frames off d.Conn, reassembles
// them, and feeds them to the returned PacketStream. Failures are
// reported through a callback rather than letting a goroutine panic
// take down the process.
func (d *Device) Start(speed backend.Speed, onResult func(error)) (backend.PacketStream, backend.StopHandle, error) {
	ps := &stream{
		packets: make(chan backend.Packet, 64),
		done:    make(chan struct{}),
	}
	clock := d.Clock
	if clock == nil {
		var n uint64
		clock = func() uint64 { n++; return n }
	}

	go func() {
		var resultErr error
		defer func() {
			if r := recover(); r != nil {
				resultErr = &capture.WorkerPanic{Value: r, Stack: debug.Stack()}
				log.Errorf("wire backend: capture goroutine panicked: %v", r)
			}
			close(ps.packets)
			if onResult != nil {
				onResult(resultErr)
			}
		}()
		resultErr = d.pump(ps, clock)
	}()

	return ps, ps, nil
}

func (d *Device) pump(ps *stream, clock timestamper) error {
	r := NewReassembler(4096)
	buf := make([]byte, 4096)
	for {
		select {
		case <-ps.done:
			return nil
		default:
		}

		n, err := d.Conn.Read(buf)
		if n > 0 {
			r.Feed(buf[:n])
			for {
				frame, ok, ferr := r.Next()
				if ferr != nil {
					return ferr
				}
				if !ok {
					break
				}
				pkt := backend.Packet{TimestampNs: clock(), Data: append([]byte(nil), frame...)}
				select {
				case ps.packets <- pkt:
				case <-ps.done:
					return nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Close closes the underlying connection.
func (d *Device) Close() error { return d.Conn.Close() }

type stream struct {
	packets chan backend.Packet
	done    chan struct{}
	once    sync.Once
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

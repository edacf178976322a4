// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend defines the hardware analyzer contract (§6.2):
// enumerate devices, open one, and stream captured packets from it.
// Concrete backends (wire framing over a raw byte stream, a NATS-fed
// remote agent) live in subpackages; this package only fixes the
// interfaces core/internal/decoder is driven through.
package backend

import (
	"context"

	"github.com/openusbtrace/usbtrace/pkg/capture"
)

// Speed re-exports the capture package's speed enum so backend
// implementations don't need to import capture just for this type.
type Speed = capture.Speed

// Packet is one raw captured packet and the timestamp it arrived at.
type Packet struct {
	TimestampNs uint64
	Data        []byte
}

// Device describes one analyzer device a backend can open.
type Device struct {
	Serial          string
	Description     string
	SupportedSpeeds []Speed
}

// Handle is an opened analyzer device, ready to start streaming.
type Handle interface {
	// Start begins capture at the given speed. onResult is invoked
	// exactly once, when the capture goroutine stops (with nil on a
	// graceful StopHandle.Stop, or the error that ended it -
	// including a *capture.WorkerPanic if the goroutine panicked).
	Start(speed Speed, onResult func(error)) (PacketStream, StopHandle, error)

	// Close releases the device. Safe to call after Start.
	Close() error
}

// PacketStream yields packets in arrival order until the backend
// closes it (Next returns ok=false) or an error terminates it.
type PacketStream interface {
	Next(ctx context.Context) (Packet, bool, error)
}

// StopHandle requests graceful termination of a running capture.
// Stop does not block until the stream drains; callers observe that
// through PacketStream.Next returning ok=false or the Start
// onResult callback firing.
type StopHandle interface {
	Stop()
}

// Backend is implemented by every concrete analyzer adapter.
type Backend interface {
	Scan(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, dev Device) (Handle, error)
}

// Drain pumps every packet from a PacketStream into sink (ordinarily
// decoder.Decoder.HandleRawPacket) until the stream ends or sink
// returns an error, applying the given rate limit so a fast hardware
// backend cannot out-run a slower decoder. A nil limiter disables
// pacing. A select-free pull loop, since PacketStream is itself a
// pull interface, not a channel.
func Drain(ctx context.Context, ps PacketStream, limiter RateLimiter, sink func(Packet) error) error {
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		pkt, ok, err := ps.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := sink(pkt); err != nil {
			return err
		}
	}
}

// RateLimiter is the subset of *rate.Limiter that Drain needs, so
// callers can pass golang.org/x/time/rate's Limiter directly without
// this package importing it just to name the type in Drain's
// signature.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

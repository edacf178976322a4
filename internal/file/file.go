// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package file implements the pcap/pcap-ng reader and writer adapters
// of §6.3 and the alternate `-o` destinations of §6.4: the core
// capture store never depends on a specific on-disk format, so every
// concrete format lives here, one adapter per backing format or
// destination.
package file

import "io"

// Packet is one packet loaded from (or to be saved to) a capture
// file, with its timestamp already normalised to nanoseconds since
// the first packet in the file.
type Packet struct {
	TimestampNs uint64
	Data        []byte
}

// Loader reads packets from a capture file in arrival order.
type Loader interface {
	// Next returns the next packet, or ok=false once the file is
	// exhausted.
	Next() (Packet, bool, error)
}

// Saver writes packets to a capture file in the order they're added.
type Saver interface {
	Add(pkt Packet) error
	Close() error
}

// Destination is an alternate target for `-o`: local disk, an
// in-process pipe (`-o -`), or an object store. It hands back a
// plain io.WriteCloser so any Saver can be layered on top of it.
type Destination interface {
	Create(name string) (io.WriteCloser, error)
}

// Source mirrors Destination for read paths. `captures open` does not
// use it; it opens the capture file with os.Open.
type Source interface {
	Open(name string) (io.ReadCloser, error)
}

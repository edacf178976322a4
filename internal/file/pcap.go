// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package file

import (
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// linkTypeRaw is DLT_RAW (101): packet bytes are stored exactly as
// captured, with no link-layer framing added. usbtrace's pcap files
// hold raw PID+body USB packets, not a host-specific USB capture
// encapsulation, so the generic raw link type is the honest choice.
const linkTypeRaw = gopacket.LinkType(101)

// PcapLoader reads packets from a classic pcap file (§6.3): the first
// packet's combined seconds/fractional-second timestamp becomes time
// 0, and every later timestamp is expressed as nanoseconds since it.
type PcapLoader struct {
	r         *pcapgo.Reader
	startTime *time.Time
}

// NewPcapLoader wraps r as a pcap loader. r should usually be a
// *bufio.Reader for non-trivial files; pcap-ng files should use
// NewPcapNgLoader instead.
func NewPcapLoader(r io.Reader) (*PcapLoader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &PcapLoader{r: pr}, nil
}

var _ Loader = (*PcapLoader)(nil)

func (l *PcapLoader) Next() (Packet, bool, error) {
	data, ci, err := l.r.ReadPacketData()
	if err == io.EOF {
		return Packet{}, false, nil
	}
	if err != nil {
		return Packet{}, false, err
	}
	if l.startTime == nil {
		t := ci.Timestamp
		l.startTime = &t
		return Packet{TimestampNs: 0, Data: data}, true, nil
	}
	return Packet{TimestampNs: uint64(ci.Timestamp.Sub(*l.startTime).Nanoseconds()), Data: data}, true, nil
}

// PcapSaver writes packets back out in order, reconstructing absolute
// timestamps from the nanosecond-since-start values it's given.
type PcapSaver struct {
	w     *pcapgo.Writer
	start time.Time
}

// NewPcapSaver writes a pcap file header to w and returns a Saver.
// start is the wall-clock time corresponding to TimestampNs==0.
func NewPcapSaver(w io.Writer, start time.Time) (*PcapSaver, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, linkTypeRaw); err != nil {
		return nil, err
	}
	return &PcapSaver{w: pw, start: start}, nil
}

var _ Saver = (*PcapSaver)(nil)

func (s *PcapSaver) Add(pkt Packet) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     s.start.Add(time.Duration(pkt.TimestampNs)),
		CaptureLength: len(pkt.Data),
		Length:        len(pkt.Data),
	}
	return s.w.WritePacket(ci, pkt.Data)
}

func (s *PcapSaver) Close() error { return nil }

// PcapNgLoader reads packets from a pcap-ng file; pcap-ng stores
// nanosecond timestamps natively so no fractional-unit conversion is
// needed beyond the same first-packet-is-time-0 normalisation as
// classic pcap.
type PcapNgLoader struct {
	r         *pcapgo.NgReader
	startTime *time.Time
}

func NewPcapNgLoader(r io.Reader) (*PcapNgLoader, error) {
	nr, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, err
	}
	return &PcapNgLoader{r: nr}, nil
}

var _ Loader = (*PcapNgLoader)(nil)

func (l *PcapNgLoader) Next() (Packet, bool, error) {
	data, ci, err := l.r.ReadPacketData()
	if err == io.EOF {
		return Packet{}, false, nil
	}
	if err != nil {
		return Packet{}, false, err
	}
	if l.startTime == nil {
		t := ci.Timestamp
		l.startTime = &t
		return Packet{TimestampNs: 0, Data: data}, true, nil
	}
	return Packet{TimestampNs: uint64(ci.Timestamp.Sub(*l.startTime).Nanoseconds()), Data: data}, true, nil
}

// PcapNgSaver writes packets to a pcap-ng file.
type PcapNgSaver struct {
	w     *pcapgo.NgWriter
	start time.Time
}

func NewPcapNgSaver(w io.Writer, start time.Time) (*PcapNgSaver, error) {
	nw, err := pcapgo.NewNgWriter(w, linkTypeRaw)
	if err != nil {
		return nil, err
	}
	return &PcapNgSaver{w: nw, start: start}, nil
}

var _ Saver = (*PcapNgSaver)(nil)

func (s *PcapNgSaver) Add(pkt Packet) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     s.start.Add(time.Duration(pkt.TimestampNs)),
		CaptureLength: len(pkt.Data),
		Length:        len(pkt.Data),
	}
	return s.w.WritePacket(ci, pkt.Data)
}

func (s *PcapNgSaver) Close() error { return s.w.Flush() }

// stepReader forces every Read to return at most one byte, so a
// loader built on it advances deterministically one input byte at a
// time - the "1-byte step mode" of §6.3, used by test replays that
// need to observe the reassembly/parsing state after every single
// byte rather than after whatever chunk size the OS handed back.
type stepReader struct{ r io.Reader }

// StepMode wraps r so reads from it proceed one byte at a time.
func StepMode(r io.Reader) io.Reader { return &stepReader{r: r} }

func (s *stepReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.r.Read(p[:1])
}

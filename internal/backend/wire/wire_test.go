// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode([]byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	r := NewReassembler(0)
	r.Feed(frame)
	got, ok, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatalf("Next() ok = false, want true")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Next() = %q, want hello", got)
	}
}

func TestReassemblerStraddlesFeedCalls(t *testing.T) {
	frame, _ := Encode([]byte("split-packet"))
	r := NewReassembler(0)

	r.Feed(frame[:3])
	if _, ok, _ := r.Next(); ok {
		t.Fatalf("Next() ok = true on a partial frame")
	}
	r.Feed(frame[3:])
	got, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %q, %v, %v", got, ok, err)
	}
	if !bytes.Equal(got, []byte("split-packet")) {
		t.Fatalf("Next() = %q, want split-packet", got)
	}
}

func TestReassemblerMultipleFramesInOneFeed(t *testing.T) {
	f1, _ := Encode([]byte("one"))
	f2, _ := Encode([]byte("two"))
	r := NewReassembler(0)
	r.Feed(append(append([]byte{}, f1...), f2...))

	var got [][]byte
	for {
		frame, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, append([]byte{}, frame...))
	}
	if len(got) != 2 || !bytes.Equal(got[0], []byte("one")) || !bytes.Equal(got[1], []byte("two")) {
		t.Fatalf("got %q, want [one two]", got)
	}
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	r := NewReassembler(0)
	r.Feed([]byte{0xFF, 0xFF}) // declares 65535 bytes, under MaxFrameLen: not an error by itself
	if _, _, err := r.Next(); err != nil {
		t.Fatalf("65535-byte length prefix rejected unexpectedly: %v", err)
	}

	_, err := Encode(make([]byte, MaxFrameLen+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Encode() err = %v, want ErrFrameTooLarge", err)
	}
}

func TestCompactKeepsBufferBounded(t *testing.T) {
	r := NewReassembler(8)
	for i := 0; i < 1000; i++ {
		frame, _ := Encode([]byte{byte(i)})
		r.Feed(frame)
		if _, ok, err := r.Next(); err != nil || !ok {
			t.Fatalf("Next() at i=%d: ok=%v err=%v", i, ok, err)
		}
	}
	if cap(r.buf) > 4096 {
		t.Fatalf("backing buffer grew unbounded: cap=%d", cap(r.buf))
	}
}

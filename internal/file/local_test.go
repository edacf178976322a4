// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package file

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalDestinationCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	d := LocalDestination{Root: root}

	w, err := d.Create(filepath.Join("session1", "capture.pcap"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "session1", "capture.pcap"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("file contents = %q, want hello", got)
	}
}

func TestLocalDestinationOpenRoundTrips(t *testing.T) {
	root := t.TempDir()
	d := LocalDestination{Root: root}

	w, _ := d.Create("x.pcap")
	w.Write([]byte("payload"))
	w.Close()

	r, err := d.Open("x.pcap")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("read %q, want payload", got)
	}
}

func TestStdoutDestinationIgnoresCloseOfUnderlyingWriter(t *testing.T) {
	var buf bytes.Buffer
	d := StdoutDestination{Writer: &buf}
	w, err := d.Create("ignored-name")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Write([]byte("abc"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.String() != "abc" {
		t.Fatalf("buf = %q, want abc", buf.String())
	}
}

func TestStepModeReadsOneByteAtATime(t *testing.T) {
	src := bytes.NewReader([]byte("abcdef"))
	r := StepMode(src)
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 {
		t.Fatalf("Read() returned %d bytes, want 1 (step mode)", n)
	}
}

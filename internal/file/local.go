// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package file

import (
	"io"
	"os"
	"path/filepath"
)

// LocalDestination writes capture files under a root directory,
// creating parent directories as needed: filepath.Join against a
// configured root, directories created lazily on first write.
type LocalDestination struct {
	Root string
}

var _ Destination = LocalDestination{}
var _ Source = LocalDestination{}

func (d LocalDestination) Create(name string) (io.WriteCloser, error) {
	path := filepath.Join(d.Root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (d LocalDestination) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.Root, name))
}

// StdoutDestination implements `-o -`: a single write-only stream that
// cannot be reopened for reading and ignores the requested name (a
// headless capture always has exactly one active output file).
type StdoutDestination struct {
	Writer io.Writer
}

var _ Destination = StdoutDestination{}

func (d StdoutDestination) Create(name string) (io.WriteCloser, error) {
	return nopCloser{d.Writer}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import (
	"errors"
	"fmt"
)

// The closed set of error kinds from §7. Callers distinguish them with
// errors.Is/errors.As rather than string matching.
var (
	// ErrIndexing is an out-of-range id or an empty packet where one
	// was required. Never fatal to the capture, only to the query.
	ErrIndexing = errors.New("capture: indexing error")

	// ErrStorage is an append or read failure against the byte
	// stream. Fatal to the writer; readers receive it and stop.
	ErrStorage = errors.New("capture: storage error")

	// ErrDescriptorMissing is returned when a device's descriptor is
	// queried before it has been observed.
	ErrDescriptorMissing = errors.New("capture: descriptor not yet observed")

	// ErrProtocolParse marks an impossible state transition given the
	// stored transaction style. Should be unreachable if the decoder
	// is correct; surfaced rather than corrupting storage.
	ErrProtocolParse = errors.New("capture: protocol parse error")
)

// WorkerPanic wraps a recovered panic from the capture goroutine,
// reported through the backend's on_result callback per §7.
type WorkerPanic struct {
	Value any
	Stack []byte
}

func (w *WorkerPanic) Error() string {
	return fmt.Sprintf("capture: worker panicked: %v", w.Value)
}

// IndexError annotates ErrIndexing with the offending id/kind.
func IndexError(kind string, value uint64) error {
	return fmt.Errorf("%w: %s id %d out of range", ErrIndexing, kind, value)
}

// StorageError annotates ErrStorage with the failed operation.
func StorageError(op string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, cause)
}

// ProtocolError annotates ErrProtocolParse with a description of the
// impossible transition observed.
func ProtocolError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolParse, fmt.Sprintf(format, args...))
}

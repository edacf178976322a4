// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openusbtrace/usbtrace/internal/filter"
)

func TestCompileRejectsBadExpression(t *testing.T) {
	_, err := filter.Compile("this is not valid expr syntax {{{")
	require.Error(t, err)
}

func TestNilFilterNeverHides(t *testing.T) {
	var f *filter.Filter
	hide, err := f.Hides(filter.Item{Framing: true})
	require.NoError(t, err)
	require.False(t, hide)
}

func TestHidesFramingGroups(t *testing.T) {
	f, err := filter.Compile("Framing")
	require.NoError(t, err)

	hide, err := f.Hides(filter.Item{Framing: true})
	require.NoError(t, err)
	require.True(t, hide)

	hide, err = f.Hides(filter.Item{Framing: false, EndpointType: "Bulk"})
	require.NoError(t, err)
	require.False(t, hide)
}

func TestHidesPollingGroups(t *testing.T) {
	f, err := filter.Compile(`Polling && EndpointType == "Interrupt"`)
	require.NoError(t, err)

	hide, err := f.Hides(filter.Item{Polling: true, EndpointType: "Interrupt"})
	require.NoError(t, err)
	require.True(t, hide)
}

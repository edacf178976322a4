// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filter is a supplementary feature absent from the core
// item-source contract but present in the original implementation's
// src/filter.rs and src/filter/{mod,and,nak,sof}.rs: a predicate that
// hides selected top-level Traffic items ("hide SOF groups", "hide
// NAK-only polling groups", arbitrary boolean combinations).
//
// Rather than a hand-rolled boolean-tree filter type, the predicate is
// a github.com/expr-lang/expr expression evaluated against a small,
// flat view of each item's decoded fields. With no filter installed,
// item_source behaves exactly as in §4.5 - filtering only ever removes
// top-level rows, it never changes what is stored.
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/openusbtrace/usbtrace/internal/item"
	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// Item is the flat view of one top-level Traffic row an expr
// expression is evaluated against.
type Item struct {
	EndpointID   uint64
	DeviceAddr   uint8
	EndpointNum  uint8
	Direction    string
	EndpointType string
	Framing      bool
	Invalid      bool
	Polling      bool
	Description  string
}

// Filter is a compiled expr-lang predicate over Item.
type Filter struct {
	program *vm.Program
	source  string
}

// Compile parses and type-checks expression src (e.g.
// `EndpointType == "Isochronous"` or `!Framing && !Invalid`) against
// the Item environment. A Filter whose expression evaluates to true
// hides the item.
func Compile(src string) (*Filter, error) {
	program, err := expr.Compile(src, expr.Env(Item{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", src, err)
	}
	return &Filter{program: program, source: src}, nil
}

// String returns the filter's source expression.
func (f *Filter) String() string { return f.source }

// Hides evaluates the compiled expression against it and reports
// whether the item should be hidden. A nil *Filter never hides
// anything, so callers can leave filtering off by passing a nil
// receiver.
func (f *Filter) Hides(it Item) (bool, error) {
	if f == nil {
		return false, nil
	}
	out, err := expr.Run(f.program, it)
	if err != nil {
		return false, fmt.Errorf("filter: evaluate: %w", err)
	}
	hide, _ := out.(bool)
	return hide, nil
}

// Describe builds the Item view for a top-level Traffic ref, reusing
// the item package's own description/endpoint-type logic so the
// filter sees exactly what the UI would render.
func Describe(src *item.TrafficSource, ref item.TrafficRef) (Item, error) {
	if ref.Kind != item.KindGroup {
		return Item{}, fmt.Errorf("filter: Describe called on non-group item")
	}
	reader := src.Reader()
	it := Item{
		EndpointID: ref.GroupEndpointID,
		Framing:    ref.GroupEndpointID == capture.EndpointFraming,
		Invalid:    src.Invalid(ref),
	}
	if ref.GroupEndpointID != capture.EndpointInvalid && ref.GroupEndpointID != capture.EndpointFraming {
		ep, err := reader.Endpoint(id.Id[capture.Endpoint](ref.GroupEndpointID))
		if err == nil {
			it.DeviceAddr = ep.DeviceAddress
			it.EndpointNum = ep.Number
			it.Direction = ep.Direction.String()
		}
	}
	desc, err := src.GroupDescription(ref)
	if err != nil {
		return Item{}, err
	}
	it.Description = desc
	it.Polling = strings.HasPrefix(desc, "Polling ")
	it.EndpointType = endpointTypeOf(desc, it)
	return it, nil
}

func endpointTypeOf(desc string, it Item) string {
	switch {
	case it.Framing:
		return "Framing"
	case it.Invalid:
		return "Invalid"
	case strings.Contains(desc, "Control transfer"), strings.HasPrefix(desc, "Getting "), strings.HasPrefix(desc, "Setting "):
		return "Control"
	case strings.HasPrefix(desc, "Bulk "), it.Polling && strings.Contains(desc, " for bulk "):
		return "Bulk"
	case strings.HasPrefix(desc, "Interrupt "), it.Polling && strings.Contains(desc, " for interrupt "):
		return "Interrupt"
	case strings.HasPrefix(desc, "Isochronous "), it.Polling && strings.Contains(desc, " for isochronous "):
		return "Isochronous"
	default:
		return "Unknown"
	}
}

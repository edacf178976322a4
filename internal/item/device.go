// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package item

import (
	"sort"

	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

// DeviceKind discriminates the row shapes of the Device tree.
type DeviceKind int

const (
	KindDevice DeviceKind = iota
	KindDeviceDescriptor
	KindConfig
	KindConfigDescriptor
	KindInterface
	KindInterfaceDescriptor
	KindEndpointDescriptor
	KindField
)

// DeviceRef identifies one row of the Device tree. Version caches the
// DeviceData.Version() observed when this ref was built, so ItemUpdate
// can tell a caller their cached row is stale without re-walking the
// whole tree (§4.5: "item_update returns a new value if the device's
// version has advanced since the cached item was built").
type DeviceRef struct {
	Kind    DeviceKind
	Device  id.Id[capture.Device]
	Version uint64

	ConfigValue uint8
	IfaceIndex  int
	EPIndex     int
	FieldIndex  int

	// FieldKindHint is set only on KindField refs, to the descriptor
	// kind (KindDeviceDescriptor/KindConfigDescriptor/...) they were
	// built from, disambiguating which fields FieldDescription renders
	// (ConfigValue/IfaceIndex/EPIndex alone can't: 0 is a valid value
	// for each).
	FieldKindHint DeviceKind
}

// DeviceSource implements the Device view of §4.5 against one reader.
type DeviceSource struct {
	reader *capture.CaptureReader
}

// NewDeviceSource returns a Device view over r.
func NewDeviceSource(r *capture.CaptureReader) *DeviceSource {
	return &DeviceSource{reader: r}
}

// RootCount returns how many devices are shown (every device except
// the bus-address-0 default, per §4.5).
func (s *DeviceSource) RootCount() uint64 {
	n := s.reader.DeviceCount()
	if n == 0 {
		return 0
	}
	return n - 1
}

// Root returns the i-th visible device (device index i+1).
func (s *DeviceSource) Root(i uint64) (DeviceRef, error) {
	devID := id.Id[capture.Device](i + 1)
	dev, err := s.reader.Device(devID)
	if err != nil {
		return DeviceRef{}, err
	}
	return DeviceRef{Kind: KindDevice, Device: devID, Version: dev.Version()}, nil
}

// ItemUpdate re-resolves ref against the current reader state,
// returning ok=false if nothing has changed since ref.Version.
func (s *DeviceSource) ItemUpdate(ref DeviceRef) (DeviceRef, bool, error) {
	dev, err := s.reader.Device(ref.Device)
	if err != nil {
		return DeviceRef{}, false, err
	}
	v := dev.Version()
	if v == ref.Version {
		return ref, false, nil
	}
	ref.Version = v
	return ref, true, nil
}

func (s *DeviceSource) sortedConfigValues(devID id.Id[capture.Device]) ([]uint8, error) {
	dev, err := s.reader.Device(devID)
	if err != nil {
		return nil, err
	}
	cfgs := dev.Configurations()
	values := make([]uint8, 0, len(cfgs))
	for v := range cfgs {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values, nil
}

// ChildCount returns how many children ref has.
func (s *DeviceSource) ChildCount(ref DeviceRef) (uint64, error) {
	switch ref.Kind {
	case KindDevice:
		values, err := s.sortedConfigValues(ref.Device)
		if err != nil {
			return 0, err
		}
		return uint64(1 + len(values)), nil // descriptor node + one per configuration
	case KindConfig:
		cfg, err := s.config(ref)
		if err != nil {
			return 0, err
		}
		return uint64(1 + len(cfg.Interfaces)), nil // descriptor node + interfaces
	case KindInterface:
		cfg, err := s.config(ref)
		if err != nil {
			return 0, err
		}
		return uint64(1 + len(cfg.Interfaces[ref.IfaceIndex].Endpoints)), nil
	case KindDeviceDescriptor:
		return deviceDescriptorFieldCount, nil
	case KindConfigDescriptor:
		return configDescriptorFieldCount, nil
	case KindInterfaceDescriptor:
		return interfaceDescriptorFieldCount, nil
	case KindEndpointDescriptor:
		return endpointDescriptorFieldCount, nil
	default:
		return 0, nil
	}
}

func (s *DeviceSource) config(ref DeviceRef) (capture.Configuration, error) {
	dev, err := s.reader.Device(ref.Device)
	if err != nil {
		return capture.Configuration{}, err
	}
	cfg, ok := dev.Configuration(ref.ConfigValue)
	if !ok {
		return capture.Configuration{}, capture.ErrDescriptorMissing
	}
	return cfg, nil
}

// Child returns ref's i-th child.
func (s *DeviceSource) Child(ref DeviceRef, i uint64) (DeviceRef, error) {
	dev, err := s.reader.Device(ref.Device)
	if err != nil {
		return DeviceRef{}, err
	}
	v := dev.Version()

	switch ref.Kind {
	case KindDevice:
		if i == 0 {
			return DeviceRef{Kind: KindDeviceDescriptor, Device: ref.Device, Version: v}, nil
		}
		values, err := s.sortedConfigValues(ref.Device)
		if err != nil {
			return DeviceRef{}, err
		}
		idx := i - 1
		if idx >= uint64(len(values)) {
			return DeviceRef{}, capture.IndexError("device_child", i)
		}
		return DeviceRef{Kind: KindConfig, Device: ref.Device, Version: v, ConfigValue: values[idx]}, nil

	case KindConfig:
		if i == 0 {
			return DeviceRef{Kind: KindConfigDescriptor, Device: ref.Device, Version: v, ConfigValue: ref.ConfigValue}, nil
		}
		cfg, err := s.config(ref)
		if err != nil {
			return DeviceRef{}, err
		}
		idx := int(i - 1)
		if idx >= len(cfg.Interfaces) {
			return DeviceRef{}, capture.IndexError("config_child", i)
		}
		return DeviceRef{Kind: KindInterface, Device: ref.Device, Version: v, ConfigValue: ref.ConfigValue, IfaceIndex: idx}, nil

	case KindInterface:
		if i == 0 {
			return DeviceRef{Kind: KindInterfaceDescriptor, Device: ref.Device, Version: v, ConfigValue: ref.ConfigValue, IfaceIndex: ref.IfaceIndex}, nil
		}
		cfg, err := s.config(ref)
		if err != nil {
			return DeviceRef{}, err
		}
		idx := int(i - 1)
		if idx >= len(cfg.Interfaces[ref.IfaceIndex].Endpoints) {
			return DeviceRef{}, capture.IndexError("interface_child", i)
		}
		return DeviceRef{Kind: KindEndpointDescriptor, Device: ref.Device, Version: v, ConfigValue: ref.ConfigValue, IfaceIndex: ref.IfaceIndex, EPIndex: idx}, nil

	case KindDeviceDescriptor, KindConfigDescriptor, KindInterfaceDescriptor, KindEndpointDescriptor:
		return DeviceRef{
			Kind: KindField, Device: ref.Device, Version: v,
			ConfigValue: ref.ConfigValue, IfaceIndex: ref.IfaceIndex, EPIndex: ref.EPIndex,
			FieldIndex: int(i), FieldKindHint: ref.Kind,
		}, nil

	default:
		return DeviceRef{}, capture.IndexError("device_child", i)
	}
}

// Reader exposes the underlying reader, e.g. for internal/queryapi.
func (s *DeviceSource) Reader() *capture.CaptureReader { return s.reader }

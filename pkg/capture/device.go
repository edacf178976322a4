// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package capture

import "sync"

// DeviceData is the one place the store is not strictly append-only:
// it is a versioned value mutated in place by the decoder under its
// exclusive write access, behind a mutex, with a monotonically
// increasing Version that readers compare against their cached copy
// to detect staleness (§3 invariants, §9 design notes).
type DeviceData struct {
	mu sync.RWMutex

	descriptor      *DeviceDescriptor
	configurations  map[uint8]Configuration
	currentConfig   *uint8
	endpointDetails map[EndpointAddr]EndpointDetail
	strings         map[uint8][]byte
	version         uint64
}

// Version returns the current version counter.
func (d *DeviceData) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Descriptor returns the device descriptor, or ok=false if none has
// been observed yet (ErrDescriptorMissing territory for callers that
// want an error instead).
func (d *DeviceData) Descriptor() (DeviceDescriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.descriptor == nil {
		return DeviceDescriptor{}, false
	}
	return *d.descriptor, true
}

// SetDescriptor stores a newly decoded device descriptor and bumps
// Version.
func (d *DeviceData) SetDescriptor(desc DeviceDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.descriptor = &desc
	d.version++
}

// Configuration returns the configuration keyed by its ConfigurationValue.
func (d *DeviceData) Configuration(value uint8) (Configuration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.configurations[value]
	return cfg, ok
}

// Configurations returns every known configuration keyed by its value.
func (d *DeviceData) Configurations() map[uint8]Configuration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uint8]Configuration, len(d.configurations))
	for k, v := range d.configurations {
		out[k] = v
	}
	return out
}

// SetConfiguration replaces any previous configuration keyed by
// cfg.Descriptor.ConfigurationValue, rebuilds EndpointDetails from it
// if it is the currently-selected configuration, and bumps Version.
// Per §4.4.8/§9, prior configurations are preserved by their own key;
// only the selected one feeds EndpointDetails.
func (d *DeviceData) SetConfiguration(cfg Configuration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configurations[cfg.Descriptor.ConfigurationValue] = cfg
	if d.currentConfig != nil && *d.currentConfig == cfg.Descriptor.ConfigurationValue {
		d.rebuildEndpointDetailsLocked()
	}
	d.version++
}

// SetCurrentConfig records the active configuration number (from a
// SetConfiguration control request) and rebuilds EndpointDetails from
// it if already known.
func (d *DeviceData) SetCurrentConfig(value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentConfig = &value
	d.rebuildEndpointDetailsLocked()
	d.version++
}

// CurrentConfig returns the active configuration number, if any.
func (d *DeviceData) CurrentConfig() (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.currentConfig == nil {
		return 0, false
	}
	return *d.currentConfig, true
}

// rebuildEndpointDetailsLocked replaces EndpointDetails wholesale from
// the currently-selected configuration's endpoint descriptors. Entries
// set from a real descriptor are never silently downgraded elsewhere
// (§9), but a rebuild here always reflects the newly selected config.
func (d *DeviceData) rebuildEndpointDetailsLocked() {
	if d.currentConfig == nil {
		return
	}
	cfg, ok := d.configurations[*d.currentConfig]
	if !ok {
		return
	}
	details := map[EndpointAddr]EndpointDetail{}
	for _, iface := range cfg.Interfaces {
		for _, ep := range iface.Endpoints {
			addr := EndpointAddr(ep.EndpointAddress)
			details[addr] = EndpointDetail{
				Type:           EndpointType(ep.Attributes&0x03) + 1, // bmAttributes 0..3 (Control..Interrupt), shifted past EndpointTypeUnknown
				MaxPacketSize:  ep.MaxPacketSize & 0x07FF,
				HasMaxPacket:   true,
				FromDescriptor: true,
			}
		}
	}
	d.endpointDetails = details
}

// EndpointDetail returns what is known about an endpoint address:
// either from a parsed descriptor, or - failing that - from a hub
// SPLIT header, whichever was recorded. ok is false if nothing is
// known yet.
func (d *DeviceData) EndpointDetail(addr EndpointAddr) (EndpointDetail, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	det, ok := d.endpointDetails[addr]
	return det, ok
}

// NoteSplitType records the endpoint type declared by a hub SPLIT
// header. Per §9, this is authoritative only when no descriptor has
// already supplied a type for this address - a descriptor-sourced
// entry is never overwritten by hub metadata.
func (d *DeviceData) NoteSplitType(addr EndpointAddr, epType EndpointType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.endpointDetails[addr]; ok && existing.FromDescriptor {
		return
	}
	d.endpointDetails[addr] = EndpointDetail{Type: epType}
}

// SetString stores a UTF-16LE string descriptor payload (stripped of
// its 2-byte bLength/bDescriptorType header) under its string id.
func (d *DeviceData) SetString(id uint8, utf16le []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(utf16le))
	copy(cp, utf16le)
	d.strings[id] = cp
	d.version++
}

// String returns the stored UTF-16LE payload for a string id.
func (d *DeviceData) String(id uint8) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.strings[id]
	return s, ok
}

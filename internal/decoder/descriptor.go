// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"encoding/binary"

	"github.com/openusbtrace/usbtrace/pkg/capture"
)

const (
	deviceDescriptorLen = 18
	configDescriptorLen = 9
	interfaceDescLen    = 9
	endpointDescLen     = 7
)

// decodeControlRequest applies the completed control transfer's effect
// on device state (§4.4.8). dev is the device the transfer ran
// against; fields and payload are the SETUP fields and the
// accumulated data-stage payload.
func decodeControlRequest(dev *capture.DeviceData, fields SetupFields, payload []byte) {
	if !fields.isStandardDeviceRequest() {
		return
	}
	switch fields.Request {
	case reqGetDescriptor:
		decodeGetDescriptor(dev, fields, payload)
	case reqSetConfiguration:
		dev.SetCurrentConfig(uint8(fields.Value))
	}
}

func decodeGetDescriptor(dev *capture.DeviceData, fields SetupFields, payload []byte) {
	descType := uint8(fields.Value >> 8)
	switch descType {
	case descTypeDevice:
		if len(payload) != deviceDescriptorLen {
			return
		}
		dev.SetDescriptor(parseDeviceDescriptor(payload))
	case descTypeConfiguration:
		if len(payload) < configDescriptorLen {
			return
		}
		cfg, ok := parseConfiguration(payload)
		if ok {
			dev.SetConfiguration(cfg)
		}
	case descTypeString:
		if len(payload) < 2 {
			return
		}
		dev.SetString(uint8(fields.Value), payload[2:])
	}
}

func parseDeviceDescriptor(b []byte) capture.DeviceDescriptor {
	return capture.DeviceDescriptor{
		Length:            b[0],
		DescriptorType:    b[1],
		USBVersion:        binary.LittleEndian.Uint16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:10]),
		ProductID:         binary.LittleEndian.Uint16(b[10:12]),
		DeviceVersion:     binary.LittleEndian.Uint16(b[12:14]),
		ManufacturerStrID: b[14],
		ProductStrID:      b[15],
		SerialStrID:       b[16],
		NumConfigurations: b[17],
	}
}

// parseConfiguration walks the configuration descriptor header plus
// the variable-length sequence of interface/endpoint descriptors that
// follows it, per §4.4.8: each record is a 1-byte length, 1-byte type,
// and is skipped if its declared length doesn't match the expected
// fixed length for its type.
func parseConfiguration(b []byte) (capture.Configuration, bool) {
	hdr := capture.ConfigDescriptor{
		Length:             b[0],
		DescriptorType:     b[1],
		TotalLength:        binary.LittleEndian.Uint16(b[2:4]),
		NumInterfaces:      b[4],
		ConfigurationValue: b[5],
		ConfigurationStrID: b[6],
		Attributes:         b[7],
		MaxPower:           b[8],
	}
	cfg := capture.Configuration{Descriptor: hdr}

	rest := b[configDescriptorLen:]
	var current *capture.InterfaceConfig
	for len(rest) >= 2 {
		length := int(rest[0])
		descType := rest[1]
		if length < 2 || length > len(rest) {
			break
		}
		record := rest[:length]
		switch descType {
		case descTypeInterface:
			if length != interfaceDescLen {
				break
			}
			cfg.Interfaces = append(cfg.Interfaces, capture.InterfaceConfig{
				Descriptor: capture.InterfaceDescriptor{
					Length:            record[0],
					DescriptorType:    record[1],
					InterfaceNumber:   record[2],
					AlternateSetting:  record[3],
					NumEndpoints:      record[4],
					InterfaceClass:    record[5],
					InterfaceSubClass: record[6],
					InterfaceProtocol: record[7],
					InterfaceStrID:    record[8],
				},
			})
			current = &cfg.Interfaces[len(cfg.Interfaces)-1]
		case descTypeEndpoint:
			if length != endpointDescLen || current == nil {
				break
			}
			current.Endpoints = append(current.Endpoints, capture.EndpointDescriptor{
				Length:          record[0],
				DescriptorType:  record[1],
				EndpointAddress: record[2],
				Attributes:      record[3],
				MaxPacketSize:   binary.LittleEndian.Uint16(record[4:6]),
				Interval:        record[6],
			})
		}
		rest = rest[length:]
	}
	return cfg, true
}

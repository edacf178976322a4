// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package item

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/openusbtrace/usbtrace/pkg/capture"
	"github.com/openusbtrace/usbtrace/pkg/id"
)

const hexdumpMaxBytes = 100

func hexdump(b []byte) string {
	if len(b) > hexdumpMaxBytes {
		b = b[:hexdumpMaxBytes]
	}
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

// --- Traffic descriptions (§4.5) ---

// setupFields is the item package's own minimal view of a SETUP data
// stage, independent of internal/decoder's (unexported) copy: the item
// source only ever reads a transaction's stored payload bytes back,
// never the decoder's in-flight bookkeeping.
type setupFields struct {
	requestType uint8
	request     uint8
	value       uint16
	index       uint16
	length      uint16
}

func parseSetupPayload(b []byte) (setupFields, bool) {
	if len(b) < 8 {
		return setupFields{}, false
	}
	return setupFields{
		requestType: b[0],
		request:     b[1],
		value:       binary.LittleEndian.Uint16(b[2:4]),
		index:       binary.LittleEndian.Uint16(b[4:6]),
		length:      binary.LittleEndian.Uint16(b[6:8]),
	}, true
}

const (
	reqGetDescriptor    = 0x06
	reqSetConfiguration = 0x09
	descTypeDevice      = 1
	descTypeConfig      = 2
	descTypeString      = 3
)

// controlRequestDescription renders a control transfer's request in
// the style of §4.5: direction, recipient, request, and length
// actual-vs-requested; a GetDescriptor/String response is further
// decoded from UTF-16LE.
func controlRequestDescription(fields setupFields, requestPayload []byte) string {
	dirIn := fields.requestType&0x80 != 0
	switch fields.request {
	case reqGetDescriptor:
		descType := fields.value >> 8
		descIndex := fields.value & 0xFF
		switch descType {
		case descTypeDevice:
			return fmt.Sprintf("Getting device descriptor #%d, reading %d bytes", descIndex, fields.length)
		case descTypeConfig:
			return fmt.Sprintf("Getting configuration descriptor #%d, reading %d bytes", descIndex, fields.length)
		case descTypeString:
			s := ""
			if len(requestPayload) > 2 {
				s = decodeUTF16LE(requestPayload[2:])
			}
			if s != "" {
				return fmt.Sprintf("Getting string descriptor #%d, reading %d bytes: %q", descIndex, fields.length, s)
			}
			return fmt.Sprintf("Getting string descriptor #%d, reading %d bytes", descIndex, fields.length)
		default:
			return fmt.Sprintf("Getting descriptor type %d #%d, reading %d bytes", descType, descIndex, fields.length)
		}
	case reqSetConfiguration:
		return fmt.Sprintf("Setting configuration to %d", fields.value&0xFF)
	default:
		dir := "Out"
		if dirIn {
			dir = "In"
		}
		return fmt.Sprintf("%s control transfer: request 0x%02x value 0x%04x index 0x%04x length %d",
			dir, fields.request, fields.value, fields.index, fields.length)
	}
}

func decodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i : 2*i+2])
	}
	return string(utf16.Decode(units))
}

// GroupDescription renders a transfer group's one-line summary.
func (s *TrafficSource) GroupDescription(ref TrafficRef) (string, error) {
	if ref.Kind != KindGroup {
		return "", capture.ProtocolError("GroupDescription called on non-group item")
	}
	if s.Invalid(ref) {
		return "Invalid", nil
	}
	if ref.GroupEndpointID == capture.EndpointFraming {
		n, err := s.ChildCount(ref)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d SOF groups", n), nil
	}

	txns, err := s.Transactions(ref)
	if err != nil {
		return "", err
	}
	ep, err := s.reader.Endpoint(id.Id[capture.Endpoint](ref.GroupEndpointID))
	if err != nil {
		return "", err
	}
	epType, _, _ := s.endpointType(ep)

	allFailed := len(txns) > 0
	var totalBytes uint64
	var lastPayload []byte
	var firstSetup (setupFields)
	var haveSetup bool
	for i, t := range txns {
		txn, err := s.reader.Transaction(t.TransactionID)
		if err != nil {
			return "", err
		}
		if transactionSucceeded(txn) {
			allFailed = false
		}
		payload, _ := s.reader.TransactionPayload(txn)
		if len(payload) > 0 {
			totalBytes += uint64(len(payload))
			lastPayload = payload
		}
		if i == 0 && epType == capture.EndpointTypeControl && txn.StartPID == capture.PIDSetup ||
			(txn.Split.Present && txn.Split.TokenPID == capture.PIDSetup && i == 0) {
			setupBytes := payload
			if !txn.Payload.Valid && txn.DataPacket.Valid {
				// A SETUP transaction has no stored payload range; its
				// setup bytes sit between the DATA0 PID byte and CRC16.
				if pkt, perr := s.reader.Packet(id.Id[capture.Packet](txn.DataPacket.Value)); perr == nil && len(pkt) >= 3 {
					setupBytes = pkt[1 : len(pkt)-2]
				}
			}
			if f, ok := parseSetupPayload(setupBytes); ok {
				firstSetup = f
				haveSetup = true
			}
		}
	}

	addr := fmt.Sprintf("%d.%d", ep.DeviceAddress, ep.Number)
	dir := ep.Direction.String()

	if epType == capture.EndpointTypeControl {
		if haveSetup {
			return controlRequestDescription(firstSetup, lastPayload), nil
		}
		return fmt.Sprintf("Control transfer on device %d", ep.DeviceAddress), nil
	}

	if allFailed && len(txns) > 1 {
		return fmt.Sprintf("Polling %d times for %s transfer on endpoint %s %s",
			len(txns), strings.ToLower(epType.String()), addr, dir), nil
	}

	return fmt.Sprintf("%s transfer of %d bytes on endpoint %s %s: %s",
		epType.String(), totalBytes, addr, dir, hexdump(lastPayload)), nil
}

// TransactionDescription renders a transaction's one-line summary:
// "<PID> transaction, <end-PID>" with an optional payload prefix.
func (s *TrafficSource) TransactionDescription(ref TrafficRef) (string, error) {
	if ref.Kind != KindTransaction {
		return "", capture.ProtocolError("TransactionDescription called on non-transaction item")
	}
	txn, err := s.reader.Transaction(ref.TransactionID)
	if err != nil {
		return "", err
	}
	start := txn.StartPID.String()
	if txn.Split.Present {
		role := "Start"
		if txn.Split.Complete {
			role = "Complete"
		}
		start = fmt.Sprintf("SPLIT(%s,%s)+%s", role, txn.Split.EndpointType, txn.Split.TokenPID)
	}
	desc := fmt.Sprintf("%s transaction, %s", start, txn.EndPID)
	payload, _ := s.reader.TransactionPayload(txn)
	if len(payload) > 0 {
		desc = fmt.Sprintf("%s (%d bytes): %s", desc, len(payload), hexdump(payload))
	}
	return desc, nil
}

// PacketDescription renders a packet's PID plus its decoded fields.
func (s *TrafficSource) PacketDescription(ref TrafficRef) (string, error) {
	if ref.Kind != KindPacket {
		return "", capture.ProtocolError("PacketDescription called on non-packet item")
	}
	raw, err := s.reader.Packet(ref.PacketID)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "Malformed (empty)", nil
	}
	pid := capture.ClassifyPID(raw[0])
	body := raw[1:]

	switch {
	case pid == capture.PIDSOF:
		if len(body) >= 2 {
			frame := (uint16(body[0]) | uint16(body[1])<<8) & 0x07FF
			return fmt.Sprintf("SOF frame=%d", frame), nil
		}
		return "SOF", nil

	case pid.IsToken() && pid != capture.PIDSplit:
		if len(body) >= 2 {
			addr := body[0] & 0x7F
			num := (body[0] >> 7) | ((body[1] & 0x07) << 1)
			return fmt.Sprintf("%s addr=%d ep=%d", pid, addr, num), nil
		}
		return pid.String(), nil

	case pid == capture.PIDSplit:
		if len(body) >= 4 {
			sc := "Start"
			if body[1]&0x80 != 0 {
				sc = "Complete"
			}
			hub := body[1] & 0x7F
			port := body[2] & 0x7F
			et := capture.EndpointType(((body[3]>>1)&0x03)+1).String()
			return fmt.Sprintf("SPLIT %s hub=%d port=%d type=%s", sc, hub, port, et), nil
		}
		return "SPLIT", nil

	case pid.IsData():
		n := len(body) - 2
		if n < 0 {
			n = 0
		}
		return fmt.Sprintf("%s (%d bytes)", pid, n), nil

	default:
		return pid.String(), nil
	}
}

// endpointType returns an endpoint's known transfer type, defaulting
// endpoint 0 to Control without requiring a descriptor.
func (s *TrafficSource) endpointType(ep capture.EndpointRecord) (capture.EndpointType, uint16, bool) {
	if ep.Number == 0 {
		return capture.EndpointTypeControl, 0, false
	}
	dev, err := s.reader.Device(id.Id[capture.Device](ep.DeviceID))
	if err != nil {
		return capture.EndpointTypeUnknown, 0, false
	}
	addr := capture.MakeEndpointAddr(ep.Number, ep.Direction)
	det, ok := dev.EndpointDetail(addr)
	if !ok {
		return capture.EndpointTypeUnknown, 0, false
	}
	return det.Type, det.MaxPacketSize, det.HasMaxPacket
}

func transactionSucceeded(t capture.Transaction) bool {
	switch t.EndPID {
	case capture.PIDAck, capture.PIDNyet, capture.PIDData0, capture.PIDData1, capture.PIDData2, capture.PIDMData:
		return true
	default:
		return false
	}
}

// --- Device tree descriptions (§4.5) ---

// Field counts for each descriptor kind's KindField children, in the
// order rendered by FieldDescription below.
const (
	deviceDescriptorFieldCount    = 11
	configDescriptorFieldCount    = 6
	interfaceDescriptorFieldCount = 6
	endpointDescriptorFieldCount  = 4
)

// GroupDescription-equivalent for the device tree: NodeDescription
// renders a non-field row's one-line label.
func (s *DeviceSource) NodeDescription(ref DeviceRef) (string, error) {
	dev, err := s.reader.Device(ref.Device)
	if err != nil {
		return "", err
	}
	switch ref.Kind {
	case KindDevice:
		if desc, ok := dev.Descriptor(); ok {
			return fmt.Sprintf("Device %d (vid=0x%04x pid=0x%04x)", ref.Device, desc.VendorID, desc.ProductID), nil
		}
		return fmt.Sprintf("Device %d", ref.Device), nil
	case KindDeviceDescriptor:
		return "Device descriptor", nil
	case KindConfig:
		return fmt.Sprintf("Configuration %d", ref.ConfigValue), nil
	case KindConfigDescriptor:
		return "Configuration descriptor", nil
	case KindInterface:
		cfg, err := s.config(ref)
		if err != nil {
			return "", err
		}
		iface := cfg.Interfaces[ref.IfaceIndex].Descriptor
		return fmt.Sprintf("Interface %d, alternate setting %d", iface.InterfaceNumber, iface.AlternateSetting), nil
	case KindInterfaceDescriptor:
		return "Interface descriptor", nil
	case KindEndpointDescriptor:
		cfg, err := s.config(ref)
		if err != nil {
			return "", err
		}
		ep := cfg.Interfaces[ref.IfaceIndex].Endpoints[ref.EPIndex]
		addr := capture.EndpointAddr(ep.EndpointAddress)
		return fmt.Sprintf("Endpoint %d %s descriptor", addr.Number(), addr.Direction()), nil
	default:
		return "", capture.ProtocolError("NodeDescription called on a field item")
	}
}

// FieldDescription renders one "name: value" line of a descriptor
// node, in the order ChildCount/Child hand out FieldIndex values.
func (s *DeviceSource) FieldDescription(ref DeviceRef) (string, error) {
	if ref.Kind != KindField {
		return "", capture.ProtocolError("FieldDescription called on a non-field item")
	}
	dev, err := s.reader.Device(ref.Device)
	if err != nil {
		return "", err
	}

	switch ref.FieldKindHint {
	case KindEndpointDescriptor:
		cfg, err := s.config(ref)
		if err != nil {
			return "", err
		}
		return endpointDescriptorField(cfg.Interfaces[ref.IfaceIndex].Endpoints[ref.EPIndex], ref.FieldIndex)
	case KindInterfaceDescriptor:
		cfg, err := s.config(ref)
		if err != nil {
			return "", err
		}
		return interfaceDescriptorField(cfg.Interfaces[ref.IfaceIndex].Descriptor, ref.FieldIndex)
	case KindConfigDescriptor:
		cfg, err := s.config(ref)
		if err != nil {
			return "", err
		}
		return configDescriptorField(cfg.Descriptor, ref.FieldIndex)
	default:
		desc, ok := dev.Descriptor()
		if !ok {
			return "", capture.ErrDescriptorMissing
		}
		return deviceDescriptorField(dev, desc, ref.FieldIndex)
	}
}

func deviceDescriptorField(dev *capture.DeviceData, d capture.DeviceDescriptor, i int) (string, error) {
	switch i {
	case 0:
		return fmt.Sprintf("bLength: %d", d.Length), nil
	case 1:
		return fmt.Sprintf("bDescriptorType: %d", d.DescriptorType), nil
	case 2:
		return fmt.Sprintf("bcdUSB: %d.%02d", d.USBVersion>>8, d.USBVersion&0xFF), nil
	case 3:
		return fmt.Sprintf("bDeviceClass: %d", d.DeviceClass), nil
	case 4:
		return fmt.Sprintf("bDeviceSubClass: %d", d.DeviceSubClass), nil
	case 5:
		return fmt.Sprintf("bDeviceProtocol: %d", d.DeviceProtocol), nil
	case 6:
		return fmt.Sprintf("bMaxPacketSize0: %d", d.MaxPacketSize0), nil
	case 7:
		return fmt.Sprintf("idVendor: 0x%04x", d.VendorID), nil
	case 8:
		return fmt.Sprintf("idProduct: 0x%04x", d.ProductID), nil
	case 9:
		return fmt.Sprintf("bcdDevice: %d.%02d", d.DeviceVersion>>8, d.DeviceVersion&0xFF), nil
	case 10:
		return fmt.Sprintf("bNumConfigurations: %d", d.NumConfigurations), nil
	default:
		return "", capture.IndexError("device_descriptor_field", uint64(i))
	}
}

func configDescriptorField(d capture.ConfigDescriptor, i int) (string, error) {
	switch i {
	case 0:
		return fmt.Sprintf("bLength: %d", d.Length), nil
	case 1:
		return fmt.Sprintf("bDescriptorType: %d", d.DescriptorType), nil
	case 2:
		return fmt.Sprintf("wTotalLength: %d", d.TotalLength), nil
	case 3:
		return fmt.Sprintf("bNumInterfaces: %d", d.NumInterfaces), nil
	case 4:
		return fmt.Sprintf("bConfigurationValue: %d", d.ConfigurationValue), nil
	case 5:
		return fmt.Sprintf("bmAttributes: 0x%02x, bMaxPower: %dmA", d.Attributes, int(d.MaxPower)*2), nil
	default:
		return "", capture.IndexError("config_descriptor_field", uint64(i))
	}
}

func interfaceDescriptorField(d capture.InterfaceDescriptor, i int) (string, error) {
	switch i {
	case 0:
		return fmt.Sprintf("bInterfaceNumber: %d", d.InterfaceNumber), nil
	case 1:
		return fmt.Sprintf("bAlternateSetting: %d", d.AlternateSetting), nil
	case 2:
		return fmt.Sprintf("bNumEndpoints: %d", d.NumEndpoints), nil
	case 3:
		return fmt.Sprintf("bInterfaceClass: %d", d.InterfaceClass), nil
	case 4:
		return fmt.Sprintf("bInterfaceSubClass: %d", d.InterfaceSubClass), nil
	case 5:
		return fmt.Sprintf("bInterfaceProtocol: %d", d.InterfaceProtocol), nil
	default:
		return "", capture.IndexError("interface_descriptor_field", uint64(i))
	}
}

func endpointDescriptorField(d capture.EndpointDescriptor, i int) (string, error) {
	addr := capture.EndpointAddr(d.EndpointAddress)
	switch i {
	case 0:
		return fmt.Sprintf("bEndpointAddress: %d %s", addr.Number(), addr.Direction()), nil
	case 1:
		return fmt.Sprintf("bmAttributes: 0x%02x (%s)", d.Attributes, capture.EndpointType(d.Attributes&0x03+1)), nil
	case 2:
		return fmt.Sprintf("wMaxPacketSize: %d", d.MaxPacketSize&0x07FF), nil
	case 3:
		return fmt.Sprintf("bInterval: %d", d.Interval), nil
	default:
		return "", capture.IndexError("endpoint_descriptor_field", uint64(i))
	}
}

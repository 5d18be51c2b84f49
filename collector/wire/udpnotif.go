// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"fmt"
)

// MediaType is the encoding of a UDP-notif payload.
type MediaType uint8

// Known media types.
const (
	MediaTypeReserved MediaType = 0
	MediaTypeJSON     MediaType = 1
	MediaTypeXML      MediaType = 2
	MediaTypeCBOR     MediaType = 3
)

func (m MediaType) String() string {
	switch m {
	case MediaTypeJSON:
		return "yang-data+json"
	case MediaTypeXML:
		return "yang-data+xml"
	case MediaTypeCBOR:
		return "yang-data+cbor"
	}
	return fmt.Sprintf("media-type-%d", uint8(m))
}

const (
	udpNotifVersion        = 1
	udpNotifHeaderLength   = 12
	udpNotifSegmentOption  = 1
	udpNotifSegmentLength  = 4
	udpNotifMaxSegmentNum  = 0x7fff
	udpNotifMinOptionBytes = 2
)

// Segment is the content of the segmentation option.
type Segment struct {
	Number uint16
	Last   bool
}

// NotificationOption is an option other than segmentation, kept raw.
type NotificationOption struct {
	Type  uint8
	Value []byte
}

// Notification is a UDP-notif message (draft-ietf-netconf-udp-notif).
type Notification struct {
	Version             uint8
	Private             bool
	MediaType           MediaType
	ObservationDomainID uint32
	MessageID           uint32
	Segment             *Segment
	Options             []NotificationOption
	Payload             []byte
}

// DecodeNotification decodes a UDP-notif message. The payload
// references the original buffer.
func DecodeNotification(b []byte) (Notification, error) {
	if len(b) < udpNotifHeaderLength {
		return Notification{}, truncated(UnitMessage, 0, "UDP-notif header needs %d bytes, got %d",
			udpNotifHeaderLength, len(b))
	}
	n := Notification{
		Version:             b[0] >> 5,
		Private:             b[0]&0x10 != 0,
		MediaType:           MediaType(b[0] & 0x0f),
		ObservationDomainID: binary.BigEndian.Uint32(b[4:]),
		MessageID:           binary.BigEndian.Uint32(b[8:]),
	}
	if n.Version != udpNotifVersion {
		return Notification{}, malformed(UnitMessage, 0, "unsupported UDP-notif version %d", n.Version)
	}
	headerLength := int(b[1])
	messageLength := int(binary.BigEndian.Uint16(b[2:]))
	if headerLength < udpNotifHeaderLength || messageLength < headerLength {
		return Notification{}, malformed(UnitMessage, 1,
			"header length %d, message length %d", headerLength, messageLength)
	}
	if messageLength > len(b) {
		return Notification{}, truncated(UnitMessage, 2,
			"declared length %d, got %d bytes", messageLength, len(b))
	}
	offset := udpNotifHeaderLength
	for offset < headerLength {
		if headerLength-offset < udpNotifMinOptionBytes {
			return Notification{}, truncated(UnitMessage, offset, "incomplete option")
		}
		optionType := b[offset]
		optionLength := int(b[offset+1])
		if optionLength < udpNotifMinOptionBytes || offset+optionLength > headerLength {
			return Notification{}, malformed(UnitMessage, offset, "invalid option length %d", optionLength)
		}
		value := b[offset+2 : offset+optionLength]
		if optionType == udpNotifSegmentOption {
			if optionLength != udpNotifSegmentLength {
				return Notification{}, malformed(UnitMessage, offset,
					"segmentation option length %d", optionLength)
			}
			v := binary.BigEndian.Uint16(value)
			n.Segment = &Segment{Number: v >> 1, Last: v&1 != 0}
		} else {
			n.Options = append(n.Options, NotificationOption{Type: optionType, Value: value})
		}
		offset += optionLength
	}
	n.Payload = b[headerLength:messageLength]
	return n, nil
}

// EncodeNotification encodes a UDP-notif message.
func EncodeNotification(n Notification) ([]byte, error) {
	headerLength := udpNotifHeaderLength
	if n.Segment != nil {
		if n.Segment.Number > udpNotifMaxSegmentNum {
			return nil, fmt.Errorf("segment number %d too large", n.Segment.Number)
		}
		headerLength += udpNotifSegmentLength
	}
	for _, o := range n.Options {
		if len(o.Value) > 0xff-udpNotifMinOptionBytes {
			return nil, fmt.Errorf("option %d too long", o.Type)
		}
		headerLength += udpNotifMinOptionBytes + len(o.Value)
	}
	if headerLength > 0xff {
		return nil, fmt.Errorf("header too long (%d bytes)", headerLength)
	}
	if headerLength+len(n.Payload) > 0xffff {
		return nil, fmt.Errorf("message too long (%d bytes)", headerLength+len(n.Payload))
	}
	version := n.Version
	if version == 0 {
		version = udpNotifVersion
	}
	first := version<<5 | uint8(n.MediaType&0x0f)
	if n.Private {
		first |= 0x10
	}
	out := make([]byte, 0, headerLength+len(n.Payload))
	out = append(out, first, uint8(headerLength))
	out = binary.BigEndian.AppendUint16(out, uint16(headerLength+len(n.Payload)))
	out = binary.BigEndian.AppendUint32(out, n.ObservationDomainID)
	out = binary.BigEndian.AppendUint32(out, n.MessageID)
	if n.Segment != nil {
		v := n.Segment.Number << 1
		if n.Segment.Last {
			v |= 1
		}
		out = append(out, udpNotifSegmentOption, udpNotifSegmentLength)
		out = binary.BigEndian.AppendUint16(out, v)
	}
	for _, o := range n.Options {
		out = append(out, o.Type, uint8(udpNotifMinOptionBytes+len(o.Value)))
		out = append(out, o.Value...)
	}
	return append(out, n.Payload...), nil
}

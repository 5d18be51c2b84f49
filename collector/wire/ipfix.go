// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	ipfixHeaderLength         = 16
	setHeaderLength           = 4
	ipfixTemplateSetID        = 2
	ipfixOptionsTemplateSetID = 3
	minDataSetID              = 256
	enterpriseBit             = 0x8000
)

func decodeIPFIX(payload []byte) (Message, error) {
	if len(payload) < ipfixHeaderLength {
		return Message{}, truncated(UnitMessage, 0, "IPFIX header needs %d bytes, got %d",
			ipfixHeaderLength, len(payload))
	}
	msg := Message{
		Version:             binary.BigEndian.Uint16(payload[0:]),
		Length:              binary.BigEndian.Uint16(payload[2:]),
		ExportTime:          binary.BigEndian.Uint32(payload[4:]),
		SequenceNumber:      binary.BigEndian.Uint32(payload[8:]),
		ObservationDomainID: binary.BigEndian.Uint32(payload[12:]),
	}
	length := int(msg.Length)
	if length < ipfixHeaderLength {
		return Message{}, malformed(UnitMessage, 2, "declared length %d shorter than header", length)
	}
	if length > len(payload) {
		return Message{}, truncated(UnitMessage, 2, "declared length %d, got %d bytes", length, len(payload))
	}
	msg.Sets = decodeSets(payload[:length], ipfixHeaderLength, func(id uint16, body []byte, offset int) Set {
		switch {
		case id == ipfixTemplateSetID:
			templates, err := decodeIPFIXTemplates(body, offset, false)
			return Set{ID: id, Kind: TemplateSet, Templates: templates, Err: err}
		case id == ipfixOptionsTemplateSetID:
			templates, err := decodeIPFIXTemplates(body, offset, true)
			return Set{ID: id, Kind: OptionsTemplateSet, Templates: templates, Err: err}
		case id >= minDataSetID:
			return Set{ID: id, Kind: DataSet, Data: body}
		}
		return Set{ID: id, Kind: UnknownSet}
	})
	return msg, nil
}

// decodeSets iterates over the sets of a message. A set whose header is
// invalid stops the iteration as the next set cannot be located.
func decodeSets(payload []byte, offset int, decodeSet func(id uint16, body []byte, offset int) Set) []Set {
	sets := []Set{}
	for offset < len(payload) {
		if len(payload)-offset < setHeaderLength {
			sets = append(sets, Set{Err: truncated(UnitSet, offset, "incomplete set header")})
			break
		}
		id := binary.BigEndian.Uint16(payload[offset:])
		length := int(binary.BigEndian.Uint16(payload[offset+2:]))
		if length < setHeaderLength {
			sets = append(sets, Set{ID: id, Err: malformed(UnitSet, offset, "set length %d too short", length)})
			break
		}
		if offset+length > len(payload) {
			sets = append(sets, Set{ID: id, Err: truncated(UnitSet, offset,
				"set length %d, %d bytes left", length, len(payload)-offset)})
			break
		}
		body := payload[offset+setHeaderLength : offset+length : offset+length]
		sets = append(sets, decodeSet(id, body, offset+setHeaderLength))
		offset += length
	}
	return sets
}

// decodeIPFIXTemplates decodes template records or options template
// records. Trailing bytes too short for a record header are padding.
func decodeIPFIXTemplates(body []byte, base int, options bool) ([]TemplateRecord, error) {
	templates := []TemplateRecord{}
	offset := 0
	headerLength := 4
	if options {
		headerLength = 6
	}
	for len(body)-offset >= 4 && !allZero(body[offset:]) {
		id := binary.BigEndian.Uint16(body[offset:])
		fieldCount := int(binary.BigEndian.Uint16(body[offset+2:]))
		if fieldCount == 0 {
			// Withdrawal. ID may be the set ID to withdraw all templates.
			if id < minDataSetID && id != ipfixTemplateSetID && id != ipfixOptionsTemplateSetID {
				return templates, malformed(UnitSet, base+offset, "invalid withdrawn template ID %d", id)
			}
			templates = append(templates, TemplateRecord{ID: id})
			offset += 4
			continue
		}
		if len(body)-offset < headerLength {
			return templates, truncated(UnitSet, base+offset, "incomplete options template header")
		}
		if id < minDataSetID {
			return templates, malformed(UnitSet, base+offset, "invalid template ID %d", id)
		}
		scopeCount := 0
		if options {
			scopeCount = int(binary.BigEndian.Uint16(body[offset+4:]))
			if scopeCount == 0 || scopeCount > fieldCount {
				return templates, malformed(UnitSet, base+offset,
					"invalid scope field count %d for %d fields", scopeCount, fieldCount)
			}
		}
		offset += headerLength
		fields := make([]FieldSpecifier, fieldCount)
		for i := range fields {
			if len(body)-offset < 4 {
				return templates, truncated(UnitSet, base+offset, "template %d: missing field %d", id, i)
			}
			f := FieldSpecifier{
				ID:     binary.BigEndian.Uint16(body[offset:]),
				Length: binary.BigEndian.Uint16(body[offset+2:]),
			}
			offset += 4
			if f.ID&enterpriseBit != 0 {
				if len(body)-offset < 4 {
					return templates, truncated(UnitSet, base+offset,
						"template %d: missing enterprise number for field %d", id, i)
				}
				f.ID &^= enterpriseBit
				f.EnterpriseID = binary.BigEndian.Uint32(body[offset:])
				offset += 4
			}
			fields[i] = f
		}
		template := TemplateRecord{ID: id, Fields: fields[scopeCount:]}
		if scopeCount > 0 {
			template.ScopeFields = fields[:scopeCount]
		}
		if template.MinRecordLength() == 0 {
			return templates, malformed(UnitSet, base+offset, "template %d has zero-length records", id)
		}
		templates = append(templates, template)
	}
	return templates, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func encodeIPFIX(msg Message) ([]byte, error) {
	out := make([]byte, ipfixHeaderLength, 1500)
	binary.BigEndian.PutUint16(out[0:], VersionIPFIX)
	binary.BigEndian.PutUint32(out[4:], msg.ExportTime)
	binary.BigEndian.PutUint32(out[8:], msg.SequenceNumber)
	binary.BigEndian.PutUint32(out[12:], msg.ObservationDomainID)
	for _, set := range msg.Sets {
		start := len(out)
		out = binary.BigEndian.AppendUint16(out, set.ID)
		out = append(out, 0, 0)
		switch set.Kind {
		case TemplateSet, OptionsTemplateSet:
			for _, t := range set.Templates {
				out = appendIPFIXTemplate(out, t)
			}
		case DataSet:
			if set.ID < minDataSetID {
				return nil, fmt.Errorf("invalid data set ID %d", set.ID)
			}
			out = append(out, set.Data...)
		default:
			return nil, fmt.Errorf("cannot encode %s set", set.Kind)
		}
		if len(out)-start > 0xffff {
			return nil, fmt.Errorf("set %d too long", set.ID)
		}
		binary.BigEndian.PutUint16(out[start+2:], uint16(len(out)-start))
	}
	if len(out) > 0xffff {
		return nil, fmt.Errorf("message too long (%d bytes)", len(out))
	}
	binary.BigEndian.PutUint16(out[2:], uint16(len(out)))
	return out, nil
}

func appendIPFIXTemplate(out []byte, t TemplateRecord) []byte {
	out = binary.BigEndian.AppendUint16(out, t.ID)
	out = binary.BigEndian.AppendUint16(out, uint16(t.FieldCount()))
	if t.IsWithdrawal() {
		return out
	}
	if t.IsOptions() {
		out = binary.BigEndian.AppendUint16(out, uint16(len(t.ScopeFields)))
	}
	for _, fields := range [][]FieldSpecifier{t.ScopeFields, t.Fields} {
		for _, f := range fields {
			if f.EnterpriseID != 0 {
				out = binary.BigEndian.AppendUint16(out, f.ID|enterpriseBit)
				out = binary.BigEndian.AppendUint16(out, f.Length)
				out = binary.BigEndian.AppendUint32(out, f.EnterpriseID)
				continue
			}
			out = binary.BigEndian.AppendUint16(out, f.ID)
			out = binary.BigEndian.AppendUint16(out, f.Length)
		}
	}
	return out
}

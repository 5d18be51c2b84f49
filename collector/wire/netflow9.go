// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	nf9HeaderLength         = 20
	nf9TemplateSetID        = 0
	nf9OptionsTemplateSetID = 1
)

// NetFlow v9 has no message length: sets span the whole datagram.
func decodeNetFlow9(payload []byte) (Message, error) {
	if len(payload) < nf9HeaderLength {
		return Message{}, truncated(UnitMessage, 0, "NetFlow v9 header needs %d bytes, got %d",
			nf9HeaderLength, len(payload))
	}
	msg := Message{
		Version:             binary.BigEndian.Uint16(payload[0:]),
		Count:               binary.BigEndian.Uint16(payload[2:]),
		SysUptime:           binary.BigEndian.Uint32(payload[4:]),
		ExportTime:          binary.BigEndian.Uint32(payload[8:]),
		SequenceNumber:      binary.BigEndian.Uint32(payload[12:]),
		ObservationDomainID: binary.BigEndian.Uint32(payload[16:]),
	}
	msg.Sets = decodeSets(payload, nf9HeaderLength, func(id uint16, body []byte, offset int) Set {
		switch {
		case id == nf9TemplateSetID:
			templates, err := decodeNetFlow9Templates(body, offset)
			return Set{ID: id, Kind: TemplateSet, Templates: templates, Err: err}
		case id == nf9OptionsTemplateSetID:
			templates, err := decodeNetFlow9OptionsTemplates(body, offset)
			return Set{ID: id, Kind: OptionsTemplateSet, Templates: templates, Err: err}
		case id >= minDataSetID:
			return Set{ID: id, Kind: DataSet, Data: body}
		}
		return Set{ID: id, Kind: UnknownSet}
	})
	return msg, nil
}

func decodeNetFlow9Templates(body []byte, base int) ([]TemplateRecord, error) {
	templates := []TemplateRecord{}
	offset := 0
	for len(body)-offset >= 4 && !allZero(body[offset:]) {
		id := binary.BigEndian.Uint16(body[offset:])
		fieldCount := int(binary.BigEndian.Uint16(body[offset+2:]))
		if id < minDataSetID {
			return templates, malformed(UnitSet, base+offset, "invalid template ID %d", id)
		}
		if fieldCount == 0 {
			return templates, malformed(UnitSet, base+offset, "template %d without fields", id)
		}
		offset += 4
		fields, err := decodeNetFlow9Fields(body, base, &offset, fieldCount, id)
		if err != nil {
			return templates, err
		}
		template := TemplateRecord{ID: id, Fields: fields}
		if template.MinRecordLength() == 0 {
			return templates, malformed(UnitSet, base+offset, "template %d has zero-length records", id)
		}
		templates = append(templates, template)
	}
	return templates, nil
}

func decodeNetFlow9OptionsTemplates(body []byte, base int) ([]TemplateRecord, error) {
	templates := []TemplateRecord{}
	offset := 0
	for len(body)-offset >= 6 && !allZero(body[offset:]) {
		id := binary.BigEndian.Uint16(body[offset:])
		scopeLength := int(binary.BigEndian.Uint16(body[offset+2:]))
		optionLength := int(binary.BigEndian.Uint16(body[offset+4:]))
		if id < minDataSetID {
			return templates, malformed(UnitSet, base+offset, "invalid options template ID %d", id)
		}
		if scopeLength == 0 || scopeLength%4 != 0 || optionLength%4 != 0 {
			return templates, malformed(UnitSet, base+offset,
				"invalid scope length %d or option length %d", scopeLength, optionLength)
		}
		offset += 6
		scopes, err := decodeNetFlow9Fields(body, base, &offset, scopeLength/4, id)
		if err != nil {
			return templates, err
		}
		fields, err := decodeNetFlow9Fields(body, base, &offset, optionLength/4, id)
		if err != nil {
			return templates, err
		}
		template := TemplateRecord{ID: id, ScopeFields: scopes, Fields: fields}
		if template.MinRecordLength() == 0 {
			return templates, malformed(UnitSet, base+offset, "template %d has zero-length records", id)
		}
		templates = append(templates, template)
	}
	return templates, nil
}

func decodeNetFlow9Fields(body []byte, base int, offset *int, count int, id uint16) ([]FieldSpecifier, error) {
	if len(body)-*offset < 4*count {
		return nil, truncated(UnitSet, base+*offset, "template %d: %d fields need %d bytes, %d left",
			id, count, 4*count, len(body)-*offset)
	}
	fields := make([]FieldSpecifier, count)
	for i := range fields {
		fields[i] = FieldSpecifier{
			ID:     binary.BigEndian.Uint16(body[*offset:]),
			Length: binary.BigEndian.Uint16(body[*offset+2:]),
		}
		if fields[i].IsVariable() {
			return nil, malformed(UnitSet, base+*offset, "template %d: field %d has a variable length", id, i)
		}
		*offset += 4
	}
	return fields, nil
}

func encodeNetFlow9(msg Message) ([]byte, error) {
	out := make([]byte, nf9HeaderLength, 1500)
	binary.BigEndian.PutUint16(out[0:], VersionNetFlow9)
	binary.BigEndian.PutUint32(out[4:], msg.SysUptime)
	binary.BigEndian.PutUint32(out[8:], msg.ExportTime)
	binary.BigEndian.PutUint32(out[12:], msg.SequenceNumber)
	binary.BigEndian.PutUint32(out[16:], msg.ObservationDomainID)
	count := 0
	for _, set := range msg.Sets {
		start := len(out)
		out = binary.BigEndian.AppendUint16(out, set.ID)
		out = append(out, 0, 0)
		switch set.Kind {
		case TemplateSet, OptionsTemplateSet:
			for _, t := range set.Templates {
				if t.IsWithdrawal() {
					return nil, fmt.Errorf("NetFlow v9 has no template withdrawal (template %d)", t.ID)
				}
				for _, fields := range [][]FieldSpecifier{t.ScopeFields, t.Fields} {
					for _, f := range fields {
						if f.EnterpriseID != 0 || f.IsVariable() {
							return nil, fmt.Errorf("template %d: field %d not supported by NetFlow v9", t.ID, f.ID)
						}
					}
				}
				out = binary.BigEndian.AppendUint16(out, t.ID)
				if set.Kind == OptionsTemplateSet {
					out = binary.BigEndian.AppendUint16(out, uint16(4*len(t.ScopeFields)))
					out = binary.BigEndian.AppendUint16(out, uint16(4*len(t.Fields)))
				} else {
					out = binary.BigEndian.AppendUint16(out, uint16(len(t.Fields)))
				}
				for _, fields := range [][]FieldSpecifier{t.ScopeFields, t.Fields} {
					for _, f := range fields {
						out = binary.BigEndian.AppendUint16(out, f.ID)
						out = binary.BigEndian.AppendUint16(out, f.Length)
					}
				}
				count++
			}
			// Options template sets are padded to a 32-bit boundary.
			for set.Kind == OptionsTemplateSet && (len(out)-start)%4 != 0 {
				out = append(out, 0)
			}
		case DataSet:
			if set.ID < minDataSetID {
				return nil, fmt.Errorf("invalid data set ID %d", set.ID)
			}
			out = append(out, set.Data...)
			count += set.records
		default:
			return nil, fmt.Errorf("cannot encode %s set", set.Kind)
		}
		if len(out)-start > 0xffff {
			return nil, fmt.Errorf("set %d too long", set.ID)
		}
		binary.BigEndian.PutUint16(out[start+2:], uint16(len(out)-start))
	}
	binary.BigEndian.PutUint16(out[2:], uint16(count))
	return out, nil
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"
	"fmt"
)

// ReadDataRecords splits the content of a data set into records using
// the provided template. Trailing bytes shorter than the minimal record
// length are padding. On error, the records decoded so far are returned
// with the error.
func ReadDataRecords(data []byte, template TemplateRecord) ([]DataRecord, error) {
	minLength := template.MinRecordLength()
	if minLength == 0 {
		return nil, malformed(UnitSet, 0, "template %d has no length", template.ID)
	}
	records := make([]DataRecord, 0, len(data)/minLength)
	offset := 0
	for len(data)-offset >= minLength {
		record := DataRecord{
			Scopes: make([][]byte, len(template.ScopeFields)),
			Values: make([][]byte, len(template.Fields)),
		}
		var err error
		for i, f := range template.ScopeFields {
			if record.Scopes[i], offset, err = readField(data, offset, f); err != nil {
				return records, err
			}
		}
		for i, f := range template.Fields {
			if record.Values[i], offset, err = readField(data, offset, f); err != nil {
				return records, err
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// readField reads one field at the provided offset and returns the
// value and the new offset.
func readField(data []byte, offset int, f FieldSpecifier) ([]byte, int, error) {
	length := int(f.Length)
	if f.IsVariable() {
		if offset >= len(data) {
			return nil, offset, truncated(UnitRecord, offset, "missing length of field %d", f.ID)
		}
		length = int(data[offset])
		offset++
		if length == 255 {
			if offset+2 > len(data) {
				return nil, offset, truncated(UnitRecord, offset, "missing long length of field %d", f.ID)
			}
			length = int(binary.BigEndian.Uint16(data[offset:]))
			offset += 2
		}
	}
	if offset+length > len(data) {
		return nil, offset, truncated(UnitRecord, offset,
			"field %d needs %d bytes, %d left", f.ID, length, len(data)-offset)
	}
	return data[offset : offset+length : offset+length], offset + length, nil
}

// EncodeDataRecords encodes records matching the provided template.
// Variable-length values use the short length form when shorter than
// 255 bytes and the long form otherwise.
func EncodeDataRecords(template TemplateRecord, records ...DataRecord) ([]byte, error) {
	out := make([]byte, 0, len(records)*template.MinRecordLength())
	var err error
	for i, record := range records {
		if len(record.Scopes) != len(template.ScopeFields) || len(record.Values) != len(template.Fields) {
			return nil, fmt.Errorf("record %d has %d scopes and %d values, template %d expects %d and %d",
				i, len(record.Scopes), len(record.Values), template.ID,
				len(template.ScopeFields), len(template.Fields))
		}
		for j, f := range template.ScopeFields {
			if out, err = appendField(out, f, record.Scopes[j]); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
		for j, f := range template.Fields {
			if out, err = appendField(out, f, record.Values[j]); err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
		}
	}
	return out, nil
}

func appendField(out []byte, f FieldSpecifier, value []byte) ([]byte, error) {
	if !f.IsVariable() {
		if len(value) != int(f.Length) {
			return nil, fmt.Errorf("field %d is %d bytes, %d expected", f.ID, len(value), f.Length)
		}
		return append(out, value...), nil
	}
	switch {
	case len(value) < 255:
		out = append(out, byte(len(value)))
	case len(value) < 0xffff:
		out = append(out, 255)
		out = binary.BigEndian.AppendUint16(out, uint16(len(value)))
	default:
		return nil, fmt.Errorf("field %d is too long (%d bytes)", f.ID, len(value))
	}
	return append(out, value...), nil
}

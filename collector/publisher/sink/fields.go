// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"flowpipe/collector/decoder"
)

// FieldConfiguration describes an output field computed from the
// fields of a record. When nothing is selected, the default value is
// used, or null if there is none.
type FieldConfiguration struct {
	// Select is the function choosing the source values.
	Select FieldSelect
	// From lists the names of the source fields. Single selects only
	// use the first one.
	From []string `validate:"min=1,dive,required"`
	// Index selects the nth occurrence of a source field in a record.
	Index int `validate:"min=0"`
	// EncapType is the encapsulation type expected in the upper byte
	// of a layer 2 segment ID.
	EncapType uint8
	// Transform is applied to the selected values.
	Transform FieldTransform
	// Rename maps values to new ones for the rename transform. Values
	// without a mapping are kept as is.
	Rename map[string]string
	// Default is the value used when nothing is selected.
	Default any
}

// FieldSelect is a way to select the source values of an output field.
type FieldSelect int

const (
	// FieldSelectSingle selects one occurrence of one field.
	FieldSelectSingle FieldSelect = iota
	// FieldSelectCoalesce selects the first source field present.
	FieldSelectCoalesce
	// FieldSelectMulti selects every source field present.
	FieldSelectMulti
	// FieldSelectLayer2SegmentID selects a layer 2 segment ID whose
	// encapsulation type matches and masks the identifier.
	FieldSelectLayer2SegmentID
)

var fieldSelectNames = map[FieldSelect]string{
	FieldSelectSingle:          "single",
	FieldSelectCoalesce:        "coalesce",
	FieldSelectMulti:           "multi",
	FieldSelectLayer2SegmentID: "layer2-segment-id",
}

// FieldTransform is a transformation applied to selected values.
type FieldTransform int

const (
	// FieldTransformIdentity keeps the value unchanged.
	FieldTransformIdentity FieldTransform = iota
	// FieldTransformString turns the value into a string.
	FieldTransformString
	// FieldTransformTrimmedString turns the value into a string
	// without trailing null characters.
	FieldTransformTrimmedString
	// FieldTransformLowercaseString turns the value into a lowercase
	// string.
	FieldTransformLowercaseString
	// FieldTransformRename turns the value into a string and maps it
	// through the rename table.
	FieldTransformRename
	// FieldTransformStringArray turns the values into an array of
	// strings.
	FieldTransformStringArray
	// FieldTransformMPLSIndex turns MPLS label stack sections into
	// "position-label" strings.
	FieldTransformMPLSIndex
)

var fieldTransformNames = map[FieldTransform]string{
	FieldTransformIdentity:        "identity",
	FieldTransformString:          "string",
	FieldTransformTrimmedString:   "trimmed-string",
	FieldTransformLowercaseString: "lowercase-string",
	FieldTransformRename:          "rename",
	FieldTransformStringArray:     "string-array",
	FieldTransformMPLSIndex:       "mpls-index",
}

// UnmarshalText parses a select function.
func (fs *FieldSelect) UnmarshalText(text []byte) error {
	for k, v := range fieldSelectNames {
		if v == string(text) {
			*fs = k
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as a field select function", string(text))
}

// String turns a select function into a string.
func (fs FieldSelect) String() string {
	if name, ok := fieldSelectNames[fs]; ok {
		return name
	}
	return fmt.Sprintf("select(%d)", int(fs))
}

// MarshalText turns a select function into a string.
func (fs FieldSelect) MarshalText() ([]byte, error) {
	return []byte(fs.String()), nil
}

// UnmarshalText parses a transform function.
func (ft *FieldTransform) UnmarshalText(text []byte) error {
	for k, v := range fieldTransformNames {
		if v == string(text) {
			*ft = k
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as a field transform function", string(text))
}

// String turns a transform function into a string.
func (ft FieldTransform) String() string {
	if name, ok := fieldTransformNames[ft]; ok {
		return name
	}
	return fmt.Sprintf("transform(%d)", int(ft))
}

// MarshalText turns a transform function into a string.
func (ft FieldTransform) MarshalText() ([]byte, error) {
	return []byte(ft.String()), nil
}

// selected is a value picked from a record. Source is the position of
// the field name in From.
type selected struct {
	source int
	value  any
}

// lookup returns the nth occurrence of a field, scope fields included.
func lookup(record decoder.Record, name string, index int) (any, bool) {
	n := 0
	for _, fields := range [][]decoder.Field{record.Scopes, record.Fields} {
		for _, f := range fields {
			if f.Name != name {
				continue
			}
			if n == index {
				return f.Value, true
			}
			n++
		}
	}
	return nil, false
}

func (fc FieldConfiguration) selectValues(record decoder.Record) []selected {
	if len(fc.From) == 0 {
		return nil
	}
	switch fc.Select {
	case FieldSelectCoalesce:
		for i, name := range fc.From {
			if v, ok := lookup(record, name, fc.Index); ok {
				return []selected{{i, v}}
			}
		}
		return nil
	case FieldSelectMulti:
		var values []selected
		for i, name := range fc.From {
			if v, ok := lookup(record, name, fc.Index); ok {
				values = append(values, selected{i, v})
			}
		}
		return values
	case FieldSelectLayer2SegmentID:
		v, ok := lookup(record, fc.From[0], fc.Index)
		if !ok {
			return nil
		}
		id, ok := v.(uint64)
		if !ok || uint8(id>>56) != fc.EncapType {
			return nil
		}
		mask := uint64(0x00ff_ffff_ffff)
		switch fc.EncapType {
		case 1, 2:
			// VXLAN VNI and NVGRE TNI are 24 bits.
			mask = 0xff_ffff
		}
		return []selected{{0, id & mask}}
	}
	if v, ok := lookup(record, fc.From[0], fc.Index); ok {
		return []selected{{0, v}}
	}
	return nil
}

func (fc FieldConfiguration) transform(values []selected) any {
	switch fc.Transform {
	case FieldTransformString:
		return stringify(values[0].value)
	case FieldTransformTrimmedString:
		return strings.TrimRight(stringify(values[0].value), "\x00")
	case FieldTransformLowercaseString:
		return strings.ToLower(stringify(values[0].value))
	case FieldTransformRename:
		value := stringify(values[0].value)
		if renamed, ok := fc.Rename[value]; ok {
			return renamed
		}
		return value
	case FieldTransformStringArray:
		result := []string{}
		for _, v := range values {
			switch v := v.value.(type) {
			case []string:
				result = append(result, v...)
			default:
				result = append(result, stringify(v))
			}
		}
		return result
	case FieldTransformMPLSIndex:
		result := []string{}
		for _, v := range values {
			b, ok := v.value.([]byte)
			if !ok || len(b) < 3 {
				continue
			}
			label := binary.BigEndian.Uint32([]byte{0, b[0], b[1], b[2]})
			result = append(result, fmt.Sprintf("%d-%d", v.source+1, label))
		}
		return result
	}
	if len(values) == 1 {
		return jsonSafe(values[0].value)
	}
	result := make([]any, 0, len(values))
	for _, v := range values {
		result = append(result, jsonSafe(v.value))
	}
	return result
}

// Value computes the output value for a record.
func (fc FieldConfiguration) Value(record decoder.Record) any {
	values := fc.selectValues(record)
	if len(values) == 0 {
		return jsonSafe(fc.Default)
	}
	return fc.transform(values)
}

// stringify turns a decoded value into a string.
func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		if s, ok := jsonSafe(v).(string); ok {
			return s
		}
	}
	return fmt.Sprint(v)
}

// jsonSafe turns values that cannot be encoded to JSON into strings.
// Only non-finite floats are concerned.
func jsonSafe(v any) any {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return v
}

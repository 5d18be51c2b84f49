// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire parses and serializes IPFIX (RFC 7011) and NetFlow v9
// (RFC 3954) messages, as well as the UDP-notif framing. Functions in
// this package are stateless: data sets are kept as raw bytes until a
// template is provided by the caller.
package wire

import (
	"errors"
	"fmt"
)

// Supported export protocol versions.
const (
	VersionNetFlow9 uint16 = 9
	VersionIPFIX    uint16 = 10
)

// VariableLength is the declared length of a variable-length field.
const VariableLength uint16 = 0xffff

// FieldSpecifier describes one field of a template.
type FieldSpecifier struct {
	EnterpriseID uint32
	ID           uint16
	Length       uint16
}

// IsVariable tells if the field has a variable length.
func (f FieldSpecifier) IsVariable() bool {
	return f.Length == VariableLength
}

// TemplateRecord describes the layout of data records. Options
// templates have at least one scope field.
type TemplateRecord struct {
	ID          uint16
	ScopeFields []FieldSpecifier
	Fields      []FieldSpecifier
}

// IsOptions tells if the template is an options template.
func (t TemplateRecord) IsOptions() bool {
	return len(t.ScopeFields) > 0
}

// IsWithdrawal tells if the template record withdraws a template.
func (t TemplateRecord) IsWithdrawal() bool {
	return len(t.ScopeFields) == 0 && len(t.Fields) == 0
}

// FieldCount returns the total number of fields, including scope fields.
func (t TemplateRecord) FieldCount() int {
	return len(t.ScopeFields) + len(t.Fields)
}

// MinRecordLength returns the minimal length of a data record using
// this template. A variable-length field takes at least one byte.
func (t TemplateRecord) MinRecordLength() int {
	length := 0
	for _, fields := range [][]FieldSpecifier{t.ScopeFields, t.Fields} {
		for _, f := range fields {
			if f.IsVariable() {
				length++
			} else {
				length += int(f.Length)
			}
		}
	}
	return length
}

// Equal tells if two templates have the same layout.
func (t TemplateRecord) Equal(other TemplateRecord) bool {
	if t.ID != other.ID || len(t.ScopeFields) != len(other.ScopeFields) || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.ScopeFields {
		if t.ScopeFields[i] != other.ScopeFields[i] {
			return false
		}
	}
	for i := range t.Fields {
		if t.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// SetKind is the kind of a set.
type SetKind uint8

const (
	// UnknownSet is a set with a reserved identifier. It is skipped.
	UnknownSet SetKind = iota
	// TemplateSet contains template records.
	TemplateSet
	// OptionsTemplateSet contains options template records.
	OptionsTemplateSet
	// DataSet contains data records.
	DataSet
)

func (k SetKind) String() string {
	switch k {
	case TemplateSet:
		return "template"
	case OptionsTemplateSet:
		return "options-template"
	case DataSet:
		return "data"
	}
	return "unknown"
}

// Set is one set (or flowset) of a message. For data sets, ID is the
// template ID and Data contains the raw records. Err is set when the
// set could not be entirely decoded; the records decoded before the
// error are still present.
type Set struct {
	ID        uint16
	Kind      SetKind
	Templates []TemplateRecord
	Data      []byte
	Err       error

	// records is the number of data records in Data, used when encoding.
	records int
}

// Message is an IPFIX or NetFlow v9 message. Length is the declared
// length for IPFIX and Count is the declared record count for NetFlow
// v9. SysUptime is only present in NetFlow v9.
type Message struct {
	Version             uint16
	Length              uint16
	Count               uint16
	SysUptime           uint32
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainID uint32
	Sets                []Set
}

// DataRecord is a decoded data record. Values reference the original
// buffer.
type DataRecord struct {
	Scopes [][]byte
	Values [][]byte
}

var (
	// ErrTruncated is the kind of errors due to missing bytes.
	ErrTruncated = errors.New("truncated")
	// ErrMalformed is the kind of errors due to invalid content.
	ErrMalformed = errors.New("malformed")
)

// Unit is the smallest unit affected by a decoding error.
type Unit uint8

// Units from the smallest to the largest.
const (
	UnitField Unit = iota
	UnitRecord
	UnitSet
	UnitMessage
)

func (u Unit) String() string {
	switch u {
	case UnitField:
		return "field"
	case UnitRecord:
		return "record"
	case UnitSet:
		return "set"
	case UnitMessage:
		return "message"
	}
	return "unknown"
}

// DecodeError is a decoding error scoped to a unit. It matches either
// ErrTruncated or ErrMalformed with errors.Is.
type DecodeError struct {
	Unit   Unit
	Kind   error
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s at offset %d: %s", e.Unit, e.Kind, e.Offset, e.Reason)
}

// Unwrap returns the kind of the error.
func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func truncated(unit Unit, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Unit: unit, Kind: ErrTruncated, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func malformed(unit Unit, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Unit: unit, Kind: ErrMalformed, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Version returns the export protocol version of a payload.
func Version(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, truncated(UnitMessage, 0, "no version")
	}
	return uint16(payload[0])<<8 | uint16(payload[1]), nil
}

// Decode decodes an IPFIX or a NetFlow v9 message. An error is
// returned only when the message header cannot be decoded. Errors
// scoped to a set are attached to the set.
func Decode(payload []byte) (Message, error) {
	version, err := Version(payload)
	if err != nil {
		return Message{}, err
	}
	switch version {
	case VersionIPFIX:
		return decodeIPFIX(payload)
	case VersionNetFlow9:
		return decodeNetFlow9(payload)
	}
	return Message{}, malformed(UnitMessage, 0, "unsupported version %d", version)
}

// Encode encodes an IPFIX or a NetFlow v9 message. Length and Count
// are computed from the content.
func Encode(msg Message) ([]byte, error) {
	switch msg.Version {
	case VersionIPFIX:
		return encodeIPFIX(msg)
	case VersionNetFlow9:
		return encodeNetFlow9(msg)
	}
	return nil, fmt.Errorf("unsupported version %d", msg.Version)
}

// NewTemplateSet builds a template set, or an options template set when
// the templates have scope fields.
func NewTemplateSet(version uint16, templates ...TemplateRecord) Set {
	options := len(templates) > 0 && templates[0].IsOptions()
	set := Set{Kind: TemplateSet, Templates: templates}
	if options {
		set.Kind = OptionsTemplateSet
	}
	switch {
	case version == VersionIPFIX && options:
		set.ID = ipfixOptionsTemplateSetID
	case version == VersionIPFIX:
		set.ID = ipfixTemplateSetID
	case options:
		set.ID = nf9OptionsTemplateSetID
	default:
		set.ID = nf9TemplateSetID
	}
	return set
}

// NewDataSet builds a data set from records matching the template.
func NewDataSet(template TemplateRecord, records ...DataRecord) (Set, error) {
	data, err := EncodeDataRecords(template, records...)
	if err != nil {
		return Set{}, err
	}
	return Set{ID: template.ID, Kind: DataSet, Data: data, records: len(records)}, nil
}

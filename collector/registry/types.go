// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package registry

import (
	"fmt"
)

// Type is the abstract data type of an information element (RFC 7011
// section 6.1 and RFC 5102).
type Type uint8

// Known abstract data types. OctetArray is the zero value so that an
// element without a declared type is kept as raw bytes.
const (
	OctetArray Type = iota
	Unsigned8
	Unsigned16
	Unsigned32
	Unsigned64
	Signed8
	Signed16
	Signed32
	Signed64
	Float32
	Float64
	Boolean
	MACAddress
	String
	DateTimeSeconds
	DateTimeMilliseconds
	DateTimeMicroseconds
	DateTimeNanoseconds
	IPv4Address
	IPv6Address
	BasicList
	SubTemplateList
	SubTemplateMultiList
)

var typeNames = []string{
	OctetArray:           "octetArray",
	Unsigned8:            "unsigned8",
	Unsigned16:           "unsigned16",
	Unsigned32:           "unsigned32",
	Unsigned64:           "unsigned64",
	Signed8:              "signed8",
	Signed16:             "signed16",
	Signed32:             "signed32",
	Signed64:             "signed64",
	Float32:              "float32",
	Float64:              "float64",
	Boolean:              "boolean",
	MACAddress:           "macAddress",
	String:               "string",
	DateTimeSeconds:      "dateTimeSeconds",
	DateTimeMilliseconds: "dateTimeMilliseconds",
	DateTimeMicroseconds: "dateTimeMicroseconds",
	DateTimeNanoseconds:  "dateTimeNanoseconds",
	IPv4Address:          "ipv4Address",
	IPv6Address:          "ipv6Address",
	BasicList:            "basicList",
	SubTemplateList:      "subTemplateList",
	SubTemplateMultiList: "subTemplateMultiList",
}

// String returns the IANA name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// MarshalText turns a type into its IANA name.
func (t Type) MarshalText() ([]byte, error) {
	if int(t) >= len(typeNames) {
		return nil, fmt.Errorf("unknown type %d", t)
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText parses an IANA type name.
func (t *Type) UnmarshalText(input []byte) error {
	for i, name := range typeNames {
		if name == string(input) {
			*t = Type(i)
			return nil
		}
	}
	return fmt.Errorf("unknown type %q", string(input))
}

// Width returns the natural encoded width of a type in bytes, or 0
// when the type has no fixed width.
func (t Type) Width() int {
	switch t {
	case Unsigned8, Signed8, Boolean:
		return 1
	case Unsigned16, Signed16:
		return 2
	case Unsigned32, Signed32, Float32, DateTimeSeconds, IPv4Address:
		return 4
	case Unsigned64, Signed64, Float64, DateTimeMilliseconds, DateTimeMicroseconds, DateTimeNanoseconds:
		return 8
	case MACAddress:
		return 6
	case IPv6Address:
		return 16
	}
	return 0
}

// Semantics is the data type semantics of an information element
// (RFC 7011 section 3.2).
type Semantics uint8

const (
	// DefaultSemantics is used when nothing else is specified.
	DefaultSemantics Semantics = iota
	// Quantity is a snapshot value.
	Quantity
	// TotalCounter is a counter since the start of the metering process.
	TotalCounter
	// DeltaCounter is a counter since the previous report.
	DeltaCounter
	// Identifier is a value used for identification, not arithmetic.
	Identifier
	// Flags is a bit field.
	Flags
	// List is a structured list.
	List
)

var semanticsNames = []string{
	DefaultSemantics: "default",
	Quantity:         "quantity",
	TotalCounter:     "totalCounter",
	DeltaCounter:     "deltaCounter",
	Identifier:       "identifier",
	Flags:            "flags",
	List:             "list",
}

// String returns the IANA name of the semantics.
func (s Semantics) String() string {
	if int(s) < len(semanticsNames) {
		return semanticsNames[s]
	}
	return fmt.Sprintf("Semantics(%d)", s)
}

// MarshalText turns semantics into their IANA name.
func (s Semantics) MarshalText() ([]byte, error) {
	if int(s) >= len(semanticsNames) {
		return nil, fmt.Errorf("unknown semantics %d", s)
	}
	return []byte(semanticsNames[s]), nil
}

// UnmarshalText parses IANA semantics.
func (s *Semantics) UnmarshalText(input []byte) error {
	for i, name := range semanticsNames {
		if name == string(input) {
			*s = Semantics(i)
			return nil
		}
	}
	return fmt.Errorf("unknown semantics %q", string(input))
}

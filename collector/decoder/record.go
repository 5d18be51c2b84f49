// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"net/netip"
	"time"

	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/collector/wire"
)

// Protocol is the protocol a record was received with.
type Protocol uint8

const (
	// ProtocolUnknown is used for records without a protocol.
	ProtocolUnknown Protocol = iota
	// ProtocolNetFlow9 is NetFlow v9.
	ProtocolNetFlow9
	// ProtocolIPFIX is IPFIX.
	ProtocolIPFIX
	// ProtocolUDPNotif is UDP-notif.
	ProtocolUDPNotif
)

func (p Protocol) String() string {
	switch p {
	case ProtocolNetFlow9:
		return "netflow9"
	case ProtocolIPFIX:
		return "ipfix"
	case ProtocolUDPNotif:
		return "udp-notif"
	}
	return "unknown"
}

// MarshalText turns a protocol into text.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func protocolFor(version uint16) Protocol {
	switch version {
	case wire.VersionNetFlow9:
		return ProtocolNetFlow9
	case wire.VersionIPFIX:
		return ProtocolIPFIX
	}
	return ProtocolUnknown
}

// Field is a decoded field of a flow record.
type Field struct {
	Name      string
	Type      registry.Type
	Semantics registry.Semantics
	Value     any
}

// Record is a decoded flow record. Records are never modified once
// produced and can be shared between goroutines.
type Record struct {
	Protocol            Protocol
	Exporter            netip.Addr
	ObservationDomainID uint32
	TemplateID          uint16
	ExportTime          time.Time
	Received            time.Time
	Scopes              []Field
	Fields              []Field
}

// Session returns the exporter session of the record.
func (r Record) Session() templates.SessionKey {
	return templates.SessionKey{Exporter: r.Exporter, ObservationDomainID: r.ObservationDomainID}
}

// Get returns the value of the first field (scope fields included)
// with the provided name.
func (r Record) Get(name string) (any, bool) {
	for _, fields := range [][]Field{r.Scopes, r.Fields} {
		for _, f := range fields {
			if f.Name == name {
				return f.Value, true
			}
		}
	}
	return nil, false
}

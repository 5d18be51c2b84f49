// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"bytes"
	"net/netip"

	"flowpipe/collector/registry"
	"flowpipe/collector/wire"
)

// Field names of records built from UDP-notif messages.
const (
	NotificationMediaType = "mediaType"
	NotificationMessageID = "messageId"
	NotificationPayload   = "payload"
)

// DecodeNotification turns a complete UDP-notif message into a record.
// Textual media types produce a string payload, others are kept as
// bytes. Segmented messages must be assembled first.
func (d *Decoder) DecodeNotification(exporter netip.Addr, n wire.Notification) Record {
	exporter = exporter.Unmap()
	exporterStr := exporter.String()
	d.metrics.messages.WithLabelValues(exporterStr, ProtocolUDPNotif.String()).Inc()
	d.metrics.records.WithLabelValues(exporterStr, ProtocolUDPNotif.String()).Inc()

	payload := Field{Name: NotificationPayload}
	switch n.MediaType {
	case wire.MediaTypeJSON, wire.MediaTypeXML:
		payload.Type = registry.String
		payload.Value = string(n.Payload)
	default:
		payload.Type = registry.OctetArray
		payload.Value = bytes.Clone(n.Payload)
	}
	return Record{
		Protocol:            ProtocolUDPNotif,
		Exporter:            exporter,
		ObservationDomainID: n.ObservationDomainID,
		Received:            d.d.Clock.Now(),
		Fields: []Field{
			{Name: NotificationMediaType, Type: registry.String, Value: n.MediaType.String()},
			{Name: NotificationMessageID, Type: registry.Unsigned32, Semantics: registry.Identifier, Value: uint64(n.MessageID)},
			payload,
		},
	}
}

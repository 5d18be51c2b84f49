// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package sink defines the interface implemented by the destinations
// of the publisher and the batches handed to them.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"flowpipe/collector/decoder"
	"flowpipe/common/reporter"
)

// ErrTransport is the kind of errors returned when a batch cannot be
// delivered. The publisher retries these batches.
var ErrTransport = errors.New("transport error")

// Sink delivers batches to a destination.
type Sink interface {
	// Start prepares the sink. It is called once before any batch is sent.
	Start() error
	// Send delivers a batch. It returns an error wrapping ErrTransport
	// on failure.
	Send(ctx context.Context, batch Batch) error
	// Stop releases the resources used by the sink.
	Stop() error
}

// Configuration is the interface for the configuration of a sink.
type Configuration interface {
	// New instantiates a sink for the named endpoint.
	New(r *reporter.Reporter, endpoint string) (Sink, error)
}

// Batch is a set of records delivered at once to an endpoint.
type Batch struct {
	ID       uuid.UUID
	Group    string
	Endpoint string
	WriterID string
	Flatten  bool
	// Fields, when not empty, replace the fields of the records in
	// the output.
	Fields   map[string]FieldConfiguration
	Records  []decoder.Record
}

// Documents shapes the records of the batch for output. Each record
// becomes a map carrying the writer ID and the exporter session. When
// the batch is flattened, fields are at the top level. Otherwise, they
// are nested under "fields" and "scope". When output fields are
// configured, only those are put at the top level. Non-finite floats are
// turned into strings.
func (b Batch) Documents() []map[string]any {
	documents := make([]map[string]any, 0, len(b.Records))
	for _, record := range b.Records {
		document := map[string]any{
			"writer_id":             b.WriterID,
			"protocol":              record.Protocol.String(),
			"exporter":              record.Exporter.String(),
			"observation_domain_id": record.ObservationDomainID,
			"template_id":           record.TemplateID,
			"received":              record.Received.UTC().Format(time.RFC3339Nano),
		}
		if !record.ExportTime.IsZero() {
			document["export_time"] = record.ExportTime.UTC().Format(time.RFC3339)
		}
		switch {
		case len(b.Fields) > 0:
			for name, fc := range b.Fields {
				document[name] = fc.Value(record)
			}
		case b.Flatten:
			for _, f := range record.Scopes {
				document[f.Name] = jsonSafe(f.Value)
			}
			for _, f := range record.Fields {
				document[f.Name] = jsonSafe(f.Value)
			}
		default:
			fields := make(map[string]any, len(record.Fields))
			for _, f := range record.Fields {
				fields[f.Name] = jsonSafe(f.Value)
			}
			document["fields"] = fields
			if len(record.Scopes) > 0 {
				scope := make(map[string]any, len(record.Scopes))
				for _, f := range record.Scopes {
					scope[f.Name] = jsonSafe(f.Value)
				}
				document["scope"] = scope
			}
		}
		documents = append(documents, document)
	}
	return documents
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package decoder turns IPFIX and NetFlow v9 messages into typed flow
// records. It applies template sets to the template store and decodes
// data sets with the templates found there, using the information
// element registry to give a name and a type to each field.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/collector/wire"
	"flowpipe/common/reporter"
)

// ErrUnknownTemplate is returned for a data set whose template is not
// known for the exporter session.
var ErrUnknownTemplate = errors.New("unknown template")

// Decoder contains the state of the flow decoder. It is safe for
// concurrent use.
type Decoder struct {
	r         *reporter.Reporter
	d         Dependencies
	errLogger reporter.Logger
	sequences *sequenceTracker

	metrics struct {
		messages    *reporter.CounterVec
		sets        *reporter.CounterVec
		records     *reporter.CounterVec
		withdrawals *reporter.CounterVec
		errors      *reporter.CounterVec
		panics      reporter.Counter
		gaps        *reporter.CounterVec
		resets      *reporter.CounterVec
	}
}

// Dependencies define the dependencies of the decoder.
type Dependencies struct {
	Registry  *registry.Registry
	Templates *templates.Store
	Clock     clock.Clock
}

// New creates a new flow decoder.
func New(r *reporter.Reporter, dependencies Dependencies) (*Decoder, error) {
	if dependencies.Registry == nil || dependencies.Templates == nil {
		return nil, errors.New("decoder needs a registry and a template store")
	}
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	d := &Decoder{
		r:         r,
		d:         dependencies,
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
		sequences: newSequenceTracker(dependencies.Templates.Shards()),
	}

	d.metrics.messages = r.CounterVec(
		reporter.CounterOpts{
			Name: "messages_total",
			Help: "Number of decoded messages.",
		},
		[]string{"exporter", "version"},
	)
	d.metrics.sets = r.CounterVec(
		reporter.CounterOpts{
			Name: "sets_total",
			Help: "Number of decoded sets.",
		},
		[]string{"exporter", "version", "kind"},
	)
	d.metrics.records = r.CounterVec(
		reporter.CounterOpts{
			Name: "records_total",
			Help: "Number of decoded flow records.",
		},
		[]string{"exporter", "version"},
	)
	d.metrics.withdrawals = r.CounterVec(
		reporter.CounterOpts{
			Name: "template_withdrawals_total",
			Help: "Number of template withdrawals received.",
		},
		[]string{"exporter", "version"},
	)
	d.metrics.errors = r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Number of decoding errors.",
		},
		[]string{"exporter", "error", "unit"},
	)
	d.metrics.panics = r.Counter(
		reporter.CounterOpts{
			Name: "panics_total",
			Help: "Number of panics recovered while decoding.",
		},
	)
	d.metrics.gaps = r.CounterVec(
		reporter.CounterOpts{
			Name: "sequence_gaps_total",
			Help: "Number of sequence number gaps.",
		},
		[]string{"exporter", "version"},
	)
	d.metrics.resets = r.CounterVec(
		reporter.CounterOpts{
			Name: "sequence_resets_total",
			Help: "Number of sequence number resets.",
		},
		[]string{"exporter", "version"},
	)
	r.GaugeFunc(
		reporter.GaugeOpts{
			Name: "sessions",
			Help: "Number of exporter sessions tracked for sequence numbers.",
		},
		func() float64 {
			return float64(d.sequences.len())
		},
	)
	return d, nil
}

// Stats are the statistics of one decoding operation.
type Stats struct {
	Sets             int
	Templates        int
	Withdrawals      int
	Records          int
	UnknownTemplates int
	Errors           int
}

// Add adds other statistics to the current ones.
func (s *Stats) Add(other Stats) {
	s.Sets += other.Sets
	s.Templates += other.Templates
	s.Withdrawals += other.Withdrawals
	s.Records += other.Records
	s.UnknownTemplates += other.UnknownTemplates
	s.Errors += other.Errors
}

// DecodePayload decodes a raw datagram from an exporter. An error is
// returned when the message header cannot be decoded or when decoding
// panicked. Errors in sets are only counted.
func (d *Decoder) DecodePayload(exporter netip.Addr, payload []byte) (records []Record, stats Stats, err error) {
	exporterStr := exporter.Unmap().String()
	defer func() {
		if r := recover(); r != nil {
			d.errLogger.Error().
				Str("exporter", exporterStr).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("panic while decoding")
			d.metrics.panics.Inc()
			records = nil
			stats.Errors++
			err = fmt.Errorf("panic while decoding: %v", r)
		}
	}()

	msg, err := wire.Decode(payload)
	if err != nil {
		d.countError(exporterStr, err)
		d.errLogger.Err(err).Str("exporter", exporterStr).Msg("cannot decode message")
		return nil, Stats{Errors: 1}, err
	}
	records, stats = d.Decode(exporter, msg)
	return records, stats, nil
}

// Decode decodes a message from an exporter. Sets are processed in
// order, so a template set is visible to the data sets following it.
func (d *Decoder) Decode(exporter netip.Addr, msg wire.Message) ([]Record, Stats) {
	var (
		stats       Stats
		records     []Record
		dataRecords int
		counted     = true
	)
	now := d.d.Clock.Now()
	exporter = exporter.Unmap()
	exporterStr := exporter.String()
	versionStr := strconv.Itoa(int(msg.Version))
	session := templates.SessionKey{Exporter: exporter, ObservationDomainID: msg.ObservationDomainID}
	d.metrics.messages.WithLabelValues(exporterStr, versionStr).Inc()

	for _, set := range msg.Sets {
		stats.Sets++
		d.metrics.sets.WithLabelValues(exporterStr, versionStr, set.Kind.String()).Inc()
		if set.Err != nil {
			// The records of this set, if any, are not counted.
			counted = false
			stats.Errors++
			d.countError(exporterStr, set.Err)
			d.errLogger.Err(set.Err).
				Str("exporter", exporterStr).
				Uint16("set", set.ID).
				Msg("cannot decode set")
		}
		switch set.Kind {
		case wire.TemplateSet, wire.OptionsTemplateSet:
			for _, t := range set.Templates {
				if t.IsWithdrawal() {
					// Only the purge sweep removes templates.
					stats.Withdrawals++
					d.metrics.withdrawals.WithLabelValues(exporterStr, versionStr).Inc()
					continue
				}
				key := templates.Key{Session: session, Version: msg.Version, TemplateID: t.ID}
				d.d.Templates.Upsert(key, t, now)
				stats.Templates++
			}
		case wire.DataSet:
			key := templates.Key{Session: session, Version: msg.Version, TemplateID: set.ID}
			template, ok := d.d.Templates.Lookup(key)
			if !ok {
				counted = false
				stats.UnknownTemplates++
				d.metrics.errors.WithLabelValues(exporterStr, "unknown-template", wire.UnitSet.String()).Inc()
				d.errLogger.Debug().
					Err(ErrUnknownTemplate).
					Str("exporter", exporterStr).
					Uint32("domain", msg.ObservationDomainID).
					Uint16("template", set.ID).
					Msg("template not received yet")
				continue
			}
			raw, err := wire.ReadDataRecords(set.Data, template.TemplateRecord)
			if err != nil {
				counted = false
				stats.Errors++
				d.countError(exporterStr, err)
				d.errLogger.Err(err).
					Str("exporter", exporterStr).
					Uint16("template", set.ID).
					Msg("cannot decode data set")
			}
			dataRecords += len(raw)
			if len(raw) == 0 {
				continue
			}
			layout := d.resolve(msg.Version, template.TemplateRecord)
			exportTime := time.Unix(int64(msg.ExportTime), 0).UTC()
			for _, dr := range raw {
				record := Record{
					Protocol:            protocolFor(msg.Version),
					Exporter:            exporter,
					ObservationDomainID: msg.ObservationDomainID,
					TemplateID:          set.ID,
					ExportTime:          exportTime,
					Received:            now,
				}
				var fieldErrors int
				record.Scopes, fieldErrors = decodeFields(layout.scopes, dr.Scopes)
				stats.Errors += fieldErrors
				d.countFieldErrors(exporterStr, fieldErrors)
				record.Fields, fieldErrors = decodeFields(layout.fields, dr.Values)
				stats.Errors += fieldErrors
				d.countFieldErrors(exporterStr, fieldErrors)
				records = append(records, record)
			}
			stats.Records += len(raw)
		case wire.UnknownSet:
			if set.Err == nil {
				d.errLogger.Warn().
					Str("exporter", exporterStr).
					Uint16("set", set.ID).
					Msg("skipping set with unknown identifier")
			}
		}
	}
	if stats.Records > 0 {
		d.metrics.records.WithLabelValues(exporterStr, versionStr).Add(float64(stats.Records))
	}

	switch d.sequences.observe(session, msg.Version, msg.SequenceNumber, dataRecords, counted, now) {
	case sequenceGap:
		d.metrics.gaps.WithLabelValues(exporterStr, versionStr).Inc()
	case sequenceReset:
		d.metrics.resets.WithLabelValues(exporterStr, versionStr).Inc()
	}
	return records, stats
}

// ExpireSessions forgets the sequence state of exporter sessions not
// seen since timeout. It returns the number of expired sessions.
func (d *Decoder) ExpireSessions(now time.Time, timeout time.Duration) int {
	return d.sequences.expire(now, timeout)
}

// layout is a template with its elements resolved.
type layout struct {
	scopes []registry.Element
	fields []registry.Element
}

func (d *Decoder) resolve(version uint16, template wire.TemplateRecord) layout {
	l := layout{
		scopes: make([]registry.Element, len(template.ScopeFields)),
		fields: make([]registry.Element, len(template.Fields)),
	}
	for i, f := range template.ScopeFields {
		if version == wire.VersionNetFlow9 {
			l.scopes[i], _ = d.d.Registry.LookupScope(f.ID)
		} else {
			l.scopes[i], _ = d.d.Registry.Lookup(f.EnterpriseID, f.ID)
		}
	}
	for i, f := range template.Fields {
		l.fields[i], _ = d.d.Registry.Lookup(f.EnterpriseID, f.ID)
	}
	return l
}

// decodeFields decodes raw values. A value that cannot be decoded with
// its registered type is kept as raw bytes.
func decodeFields(elements []registry.Element, values [][]byte) ([]Field, int) {
	if len(values) == 0 {
		return nil, 0
	}
	failed := 0
	fields := make([]Field, len(values))
	for i, raw := range values {
		e := elements[i]
		value, err := e.Decode(raw)
		if err != nil {
			failed++
			value = bytes.Clone(raw)
			e.Type = registry.OctetArray
		}
		fields[i] = Field{
			Name:      e.Name,
			Type:      e.Type,
			Semantics: e.Semantics,
			Value:     value,
		}
	}
	return fields, failed
}

func (d *Decoder) countError(exporter string, err error) {
	kind, unit := "unknown", "message"
	var derr *wire.DecodeError
	if errors.As(err, &derr) {
		kind = derr.Kind.Error()
		unit = derr.Unit.String()
	}
	d.metrics.errors.WithLabelValues(exporter, kind, unit).Inc()
}

func (d *Decoder) countFieldErrors(exporter string, count int) {
	if count > 0 {
		d.metrics.errors.WithLabelValues(exporter, "invalid-value", wire.UnitField.String()).Add(float64(count))
	}
}

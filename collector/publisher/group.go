// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import (
	"sync/atomic"

	"flowpipe/collector/decoder"
	"flowpipe/collector/publisher/sink"
)

// group is a set of endpoints receiving a copy of every record.
type group struct {
	name      string
	flatten   bool
	fields    map[string]sink.FieldConfiguration
	filter    FilterRule
	endpoints []*endpoint
	next      atomic.Uint64
}

// publishGroup filters the records for a group and hands them to the
// next endpoint.
func (p *Publisher) publishGroup(g *group, records []decoder.Record) {
	selected := records
	if g.filter.program != nil {
		selected = make([]decoder.Record, 0, len(records))
		for _, record := range records {
			ok, err := g.filter.Match(record)
			if err != nil {
				p.metrics.filterErrors.WithLabelValues(g.name).Inc()
				p.errLogger.Err(err).Str("group", g.name).Msg("cannot filter record")
				continue
			}
			if ok {
				selected = append(selected, record)
			}
		}
		if filtered := len(records) - len(selected); filtered > 0 {
			p.metrics.filteredRecords.WithLabelValues(g.name).Add(float64(filtered))
		}
	}
	if len(selected) == 0 {
		return
	}
	p.metrics.receivedRecords.WithLabelValues(g.name).Add(float64(len(selected)))
	i := g.next.Add(1) - 1
	g.endpoints[i%uint64(len(g.endpoints))].add(selected)
}

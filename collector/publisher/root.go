// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package publisher fans decoded records out to groups of endpoints.
// Every group receives the records. Inside a group, records are
// spread over the endpoints in a round-robin fashion. Each endpoint
// batches records and delivers them through its sink, with a bounded
// buffer and a bounded number of retries.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"flowpipe/collector/decoder"
	"flowpipe/common/daemon"
	"flowpipe/common/reporter"
)

// ErrCapacityExceeded is used when a batch is dropped because the
// buffer of an endpoint is full.
var ErrCapacityExceeded = errors.New("endpoint buffer full")

// Publisher represents the publisher component.
type Publisher struct {
	r         *reporter.Reporter
	d         Dependencies
	t         tomb.Tomb
	config    Configuration
	errLogger reporter.Logger

	groups  []*group
	healthy chan reporter.ChannelHealthcheckFunc

	metrics struct {
		receivedRecords *reporter.CounterVec
		filteredRecords *reporter.CounterVec
		filterErrors    *reporter.CounterVec
		enqueued        *reporter.CounterVec
		sentBatches     *reporter.CounterVec
		sentRecords     *reporter.CounterVec
		retries         *reporter.CounterVec
		droppedBatches  *reporter.CounterVec
		droppedRecords  *reporter.CounterVec
		buffered        *reporter.GaugeVec
		inFlight        *reporter.GaugeVec
		pending         *reporter.GaugeVec
		sendDuration    *reporter.SummaryVec
	}
}

// Dependencies define the dependencies of the publisher.
type Dependencies struct {
	Daemon daemon.Component
	Clock  clock.Clock
}

// New creates a new publisher.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Publisher, error) {
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	p := Publisher{
		r:         r,
		d:         dependencies,
		config:    configuration,
		errLogger: r.Sample(reporter.BurstSampler(30*time.Second, 3)),
		healthy:   make(chan reporter.ChannelHealthcheckFunc),
	}
	p.initMetrics()

	defaultWriterID := uuid.NewString()
	groupNames := map[string]bool{}
	for _, gc := range configuration.Groups {
		if groupNames[gc.Name] {
			return nil, fmt.Errorf("duplicate publisher group %q", gc.Name)
		}
		groupNames[gc.Name] = true
		if len(gc.Endpoints) == 0 {
			return nil, fmt.Errorf("publisher group %q has no endpoint", gc.Name)
		}
		g := &group{
			name:    gc.Name,
			flatten: gc.Flatten,
			fields:  gc.Fields,
			filter:  gc.Filter,
		}
		endpointNames := map[string]bool{}
		for _, ec := range gc.Endpoints {
			if endpointNames[ec.Name] {
				return nil, fmt.Errorf("duplicate endpoint %q in publisher group %q", ec.Name, gc.Name)
			}
			endpointNames[ec.Name] = true
			if ec.Config == nil {
				return nil, fmt.Errorf("endpoint %q in publisher group %q has no type", ec.Name, gc.Name)
			}
			s, err := ec.Config.New(r, ec.Name)
			if err != nil {
				return nil, fmt.Errorf("cannot create endpoint %q in publisher group %q: %w",
					ec.Name, gc.Name, err)
			}
			writerID := ec.WriterID
			if writerID == "" {
				writerID = defaultWriterID
			}
			g.endpoints = append(g.endpoints, p.newEndpoint(g, ec.Name, writerID, ec.BatchSize, gc.BufferSize, s))
		}
		p.groups = append(p.groups, g)
	}

	if dependencies.Daemon != nil {
		dependencies.Daemon.Track(&p.t, "collector/publisher")
	}
	return &p, nil
}

// Start starts the sinks and the delivery workers.
func (p *Publisher) Start() error {
	p.r.Info().Int("groups", len(p.groups)).Msg("starting publisher")
	started := []*endpoint{}
	for _, g := range p.groups {
		for _, e := range g.endpoints {
			if err := e.sink.Start(); err != nil {
				for _, e := range started {
					e.sink.Stop()
				}
				return fmt.Errorf("cannot start endpoint %q in publisher group %q: %w", e.name, g.name, err)
			}
			started = append(started, e)
		}
	}
	for _, e := range started {
		p.t.Go(e.run)
	}
	p.t.Go(p.flusher)
	p.r.RegisterHealthcheck("collector/publisher",
		reporter.ChannelHealthcheck(p.t.Context(context.Background()), p.healthy))
	return nil
}

// Stop flushes the endpoints within the drain timeout and stops the
// sinks. Remaining batches are discarded.
func (p *Publisher) Stop() error {
	p.r.Info().Msg("stopping publisher")
	defer p.r.Info().Msg("publisher stopped")
	p.t.Kill(nil)
	err := p.t.Wait()
	for _, g := range p.groups {
		for _, e := range g.endpoints {
			if serr := e.sink.Stop(); serr != nil {
				p.r.Err(serr).Str("group", g.name).Str("endpoint", e.name).Msg("cannot stop endpoint")
			}
		}
	}
	return err
}

// Publish hands records to every group. It does not block on delivery.
func (p *Publisher) Publish(records []decoder.Record) {
	for _, g := range p.groups {
		p.publishGroup(g, records)
	}
}

// flusher periodically turns the accumulated records into batches.
// It also answers healthchecks.
func (p *Publisher) flusher() error {
	ticker := p.d.Clock.Ticker(p.config.FlushInterval)
	defer ticker.Stop()
	dying := p.t.Dying()
	for {
		select {
		case <-dying:
			return nil
		case cb, ok := <-p.healthy:
			if ok {
				cb(reporter.HealthcheckOK, "ok")
			}
		case <-ticker.C:
			for _, g := range p.groups {
				for _, e := range g.endpoints {
					e.flush()
				}
			}
		}
	}
}

// EndpointInfo describes the state of an endpoint.
type EndpointInfo struct {
	Name           string `json:"name"`
	WriterID       string `json:"writer-id"`
	BatchSize      int    `json:"batch-size"`
	BufferSize     int    `json:"buffer-size"`
	Buffered       int    `json:"buffered-batches"`
	InFlight       int    `json:"in-flight"`
	PendingRecords int    `json:"pending-records"`
}

// GroupInfo describes the state of a group.
type GroupInfo struct {
	Name      string         `json:"name"`
	Flatten   bool           `json:"flatten"`
	Filter    string         `json:"filter,omitempty"`
	Endpoints []EndpointInfo `json:"endpoints"`
}

// Info returns the state of each group.
func (p *Publisher) Info() []GroupInfo {
	groups := make([]GroupInfo, 0, len(p.groups))
	for _, g := range p.groups {
		gi := GroupInfo{
			Name:      g.name,
			Flatten:   g.flatten,
			Filter:    g.filter.String(),
			Endpoints: make([]EndpointInfo, 0, len(g.endpoints)),
		}
		for _, e := range g.endpoints {
			gi.Endpoints = append(gi.Endpoints, e.info())
		}
		groups = append(groups, gi)
	}
	return groups
}

func (p *Publisher) initMetrics() {
	p.metrics.receivedRecords = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "received_records_total",
			Help: "Number of records received by a group.",
		},
		[]string{"group"},
	)
	p.metrics.filteredRecords = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "filtered_records_total",
			Help: "Number of records rejected by the filter of a group.",
		},
		[]string{"group"},
	)
	p.metrics.filterErrors = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "filter_errors_total",
			Help: "Number of errors while executing the filter of a group.",
		},
		[]string{"group"},
	)
	p.metrics.enqueued = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "enqueued_batches_total",
			Help: "Number of batches put in the buffer of an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.sentBatches = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_batches_total",
			Help: "Number of batches delivered by an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.sentRecords = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_records_total",
			Help: "Number of records delivered by an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.retries = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "retries_total",
			Help: "Number of failed deliveries requeued for retry.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.droppedBatches = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "dropped_batches_total",
			Help: "Number of batches dropped by an endpoint.",
		},
		[]string{"group", "endpoint", "reason"},
	)
	p.metrics.droppedRecords = p.r.CounterVec(
		reporter.CounterOpts{
			Name: "dropped_records_total",
			Help: "Number of records dropped by an endpoint.",
		},
		[]string{"group", "endpoint", "reason"},
	)
	p.metrics.buffered = p.r.GaugeVec(
		reporter.GaugeOpts{
			Name: "buffered_batches",
			Help: "Number of batches waiting in the buffer of an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.inFlight = p.r.GaugeVec(
		reporter.GaugeOpts{
			Name: "in_flight_batches",
			Help: "Number of batches being delivered by an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.pending = p.r.GaugeVec(
		reporter.GaugeOpts{
			Name: "pending_records",
			Help: "Number of records not batched yet in an endpoint.",
		},
		[]string{"group", "endpoint"},
	)
	p.metrics.sendDuration = p.r.SummaryVec(
		reporter.SummaryOpts{
			Name:       "send_duration_seconds",
			Help:       "Duration of batch deliveries.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"group", "endpoint"},
	)
}

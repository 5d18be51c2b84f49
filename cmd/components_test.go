// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"flowpipe/cmd"
	"flowpipe/collector/core"
	"flowpipe/collector/decoder"
	"flowpipe/collector/listener"
	"flowpipe/collector/publisher"
	"flowpipe/collector/publisher/sink"
	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/common/daemon"
	"flowpipe/common/helpers"
	"flowpipe/common/httpserver"
	"flowpipe/common/reporter"
)

// collectorComponents are the components started by the collector
// command, without the daemon.
type collectorComponents struct {
	http      *httpserver.Component
	publisher *publisher.Publisher
	core      *core.Component
	sink      *sink.MockSink
}

func newCollectorComponents(t *testing.T, r *reporter.Reporter, daemonComponent daemon.Component) collectorComponents {
	t.Helper()
	httpComponent, err := httpserver.New(r, httpserver.Configuration{Listen: "127.0.0.1:0"},
		httpserver.Dependencies{Daemon: daemonComponent})
	if err != nil {
		t.Fatalf("httpserver.New() error:\n%+v", err)
	}
	reg := registry.NewMock(t)
	store := templates.NewMock(t, r)
	dec, err := decoder.New(r, decoder.Dependencies{Registry: reg, Templates: store})
	if err != nil {
		t.Fatalf("decoder.New() error:\n%+v", err)
	}

	s := sink.NewMockSink()
	pubConfig := publisher.DefaultConfiguration()
	// Records only leave the endpoint when the publisher is stopped.
	pubConfig.FlushInterval = time.Hour
	gc := publisher.DefaultGroupConfiguration()
	gc.Name = "archive"
	gc.Endpoints = []publisher.EndpointConfiguration{{
		Name:      "primary",
		BatchSize: 100,
		Config:    &sink.MockConfiguration{Sink: s},
	}}
	pubConfig.Groups = []publisher.GroupConfiguration{gc}
	pub, err := publisher.New(r, pubConfig, publisher.Dependencies{Daemon: daemonComponent})
	if err != nil {
		t.Fatalf("publisher.New() error:\n%+v", err)
	}

	coreConfig := core.DefaultConfiguration()
	coreConfig.Listeners[0].Listen = "127.0.0.1:0"
	coreComponent, err := core.New(r, coreConfig, core.Dependencies{
		Daemon:    daemonComponent,
		HTTP:      httpComponent,
		Registry:  reg,
		Templates: store,
		Decoder:   dec,
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("core.New() error:\n%+v", err)
	}
	return collectorComponents{
		http:      httpComponent,
		publisher: pub,
		core:      coreComponent,
		sink:      s,
	}
}

// tracked records when it is started and stopped.
type tracked struct {
	name   string
	events *[]string
}

func (c tracked) Start() error {
	*c.events = append(*c.events, "start "+c.name)
	return nil
}

func (c tracked) Stop() error {
	*c.events = append(*c.events, "stop "+c.name)
	return nil
}

// failing cannot be started.
type failing struct{}

func (failing) Start() error {
	return errors.New("cannot bind")
}

func testRecord() decoder.Record {
	return decoder.Record{
		Protocol: decoder.ProtocolIPFIX,
		Exporter: netip.MustParseAddr("192.0.2.1"),
		Received: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Fields:   []decoder.Field{{Name: "octetDeltaCount", Value: uint64(1500)}},
	}
}

func TestStartStopCollector(t *testing.T) {
	r := reporter.NewMock(t)
	daemonComponent := daemon.NewMock(t)
	c := newCollectorComponents(t, r, daemonComponent)
	events := []string{}
	components := []any{
		c.http,
		tracked{"before-publisher", &events},
		c.publisher,
		c.core,
		tracked{"after-core", &events},
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.publisher.Publish([]decoder.Record{testRecord(), testRecord()})
		daemonComponent.Terminate()
	}()
	if err := cmd.StartStopComponents(r, daemonComponent, components); err != nil {
		t.Fatalf("StartStopComponents() error:\n%+v", err)
	}

	expected := []string{
		"start before-publisher",
		"start after-core",
		"stop after-core",
		"stop before-publisher",
	}
	if diff := helpers.Diff(events, expected); diff != "" {
		t.Errorf("StartStopComponents() (-got, +want):\n%s", diff)
	}
	// The pending records were delivered while stopping.
	if got := c.sink.Next(t, time.Second); len(got.Records) != 2 {
		t.Errorf("Next() got %d records, expected 2", len(got.Records))
	}
}

func TestStartStopCollectorError(t *testing.T) {
	r := reporter.NewMock(t)
	daemonComponent := daemon.NewMock(t)
	c := newCollectorComponents(t, r, daemonComponent)
	events := []string{}
	components := []any{
		c.http,
		c.publisher,
		tracked{"after-publisher", &events},
		failing{},
		c.core,
	}
	if err := cmd.StartStopComponents(r, daemonComponent, components); err == nil {
		t.Fatal("StartStopComponents() did not trigger an error")
	}

	expected := []string{"start after-publisher", "stop after-publisher"}
	if diff := helpers.Diff(events, expected); diff != "" {
		t.Errorf("StartStopComponents() (-got, +want):\n%s", diff)
	}
	// The publisher was stopped: new records are discarded.
	c.publisher.Publish([]decoder.Record{testRecord()})
	gotMetrics := r.GetMetrics("flowpipe_collector_publisher_", "dropped_records")
	expectedMetrics := map[string]string{
		`dropped_records_total{endpoint="primary",group="archive",reason="shutdown"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
	// The core component was never started.
	for _, l := range c.core.Listeners() {
		if l.State() != listener.Starting {
			t.Errorf("listener state = %s, expected %s", l.State(), listener.Starting)
		}
	}
}

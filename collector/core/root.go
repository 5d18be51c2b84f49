// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package core plumbs the collector together. It owns the listeners,
// feeds them with the decoder and the publisher and drives the
// periodic sweeps on the exporter state.
package core

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"flowpipe/collector/decoder"
	"flowpipe/collector/listener"
	"flowpipe/collector/publisher"
	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/common/daemon"
	"flowpipe/common/httpserver"
	"flowpipe/common/reporter"
)

// Component represents the core component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration

	listeners []*listener.Listener
	started   []*listener.Listener

	metrics struct {
		purgeSweeps   reporter.Counter
		sessionSweeps reporter.Counter
		expired       reporter.Counter
	}
}

// Dependencies define the dependencies of the core component.
type Dependencies struct {
	Daemon    daemon.Component
	HTTP      *httpserver.Component
	Registry  *registry.Registry
	Templates *templates.Store
	Decoder   *decoder.Decoder
	Publisher *publisher.Publisher
	Clock     clock.Clock
}

// New creates a new core component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if dependencies.Registry == nil || dependencies.Templates == nil ||
		dependencies.Decoder == nil || dependencies.Publisher == nil {
		return nil, errors.New("core needs a registry, a template store, a decoder and a publisher")
	}
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,
	}
	options := listener.Options{
		SubscriberTimeout: configuration.Flow.SubscriberTimeout,
		DrainTimeout:      configuration.Flow.DrainTimeout,
	}
	seen := map[string]bool{}
	for _, lc := range configuration.Listeners {
		if seen[lc.Listen] {
			return nil, fmt.Errorf("duplicate listener %q", lc.Listen)
		}
		seen[lc.Listen] = true
		l, err := listener.New(r, lc, listener.Dependencies{
			Daemon:    dependencies.Daemon,
			Decoder:   dependencies.Decoder,
			Publisher: dependencies.Publisher,
			Clock:     dependencies.Clock,
		}, options)
		if err != nil {
			return nil, fmt.Errorf("unable to initialize listener %q: %w", lc.Listen, err)
		}
		c.listeners = append(c.listeners, l)
	}

	c.d.Daemon.Track(&c.t, "collector/core")
	c.initMetrics()
	return &c, nil
}

// Start starts the core component.
func (c *Component) Start() error {
	c.r.Info().Msg("starting core component")
	if c.config.Threads > 0 {
		previous := runtime.GOMAXPROCS(c.config.Threads)
		c.r.Info().Int("threads", c.config.Threads).Int("previous", previous).Msg("set number of threads")
	}

	for _, l := range c.listeners {
		if err := l.Start(); err != nil {
			c.stopListeners()
			return fmt.Errorf("unable to start listener: %w", err)
		}
		c.started = append(c.started, l)
	}

	c.t.Go(func() error {
		return c.sweep(c.config.Flow.TemplateCachePurgeTimeout, c.purgeTemplates)
	})
	c.t.Go(func() error {
		return c.sweep(c.config.Flow.SubscriberTimeout, c.expireSessions)
	})

	if c.d.HTTP != nil {
		c.d.HTTP.GinRouter.GET("/api/v0/collector/templates", c.templatesHTTPHandler)
		c.d.HTTP.GinRouter.GET("/api/v0/collector/listeners", c.listenersHTTPHandler)
		c.d.HTTP.GinRouter.GET("/api/v0/collector/publisher", c.publisherHTTPHandler)
	}
	return nil
}

// Stop stops the core component. Listeners are drained first.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("core component stopped")
	c.r.Info().Msg("stopping core component")
	c.stopListeners()
	c.t.Kill(nil)
	return c.t.Wait()
}

func (c *Component) stopListeners() {
	for _, l := range c.started {
		if err := l.Stop(); err != nil {
			c.r.Err(err).Str("listen", l.Info().Listen).Msg("unable to stop listener")
		}
	}
	c.started = nil
}

// Listeners returns the listeners managed by the component.
func (c *Component) Listeners() []*listener.Listener {
	return c.listeners
}

// sweep runs fn every half timeout until the component is stopped.
func (c *Component) sweep(timeout time.Duration, fn func(now time.Time, timeout time.Duration)) error {
	interval := timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := c.d.Clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.t.Dying():
			return nil
		case <-ticker.C:
			fn(c.d.Clock.Now(), timeout)
		}
	}
}

// purgeTemplates removes the templates not refreshed within the purge
// timeout.
func (c *Component) purgeTemplates(now time.Time, timeout time.Duration) {
	c.metrics.purgeSweeps.Inc()
	if removed := c.d.Templates.Purge(now, timeout); removed > 0 {
		c.r.Info().Int("removed", removed).Msg("expired templates purged")
	}
}

// expireSessions drops the sequence tracking state of silent
// exporters.
func (c *Component) expireSessions(now time.Time, timeout time.Duration) {
	c.metrics.sessionSweeps.Inc()
	if expired := c.d.Decoder.ExpireSessions(now, timeout); expired > 0 {
		c.metrics.expired.Add(float64(expired))
		c.r.Debug().Int("expired", expired).Msg("expired exporter sessions")
	}
}

func (c *Component) initMetrics() {
	c.metrics.purgeSweeps = c.r.Counter(
		reporter.CounterOpts{
			Name: "template_purge_sweeps_total",
			Help: "Number of template purge sweeps.",
		},
	)
	c.metrics.sessionSweeps = c.r.Counter(
		reporter.CounterOpts{
			Name: "session_sweeps_total",
			Help: "Number of exporter session sweeps.",
		},
	)
	c.metrics.expired = c.r.Counter(
		reporter.CounterOpts{
			Name: "expired_sessions_total",
			Help: "Number of exporter sessions expired.",
		},
	)
}

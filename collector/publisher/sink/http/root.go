// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package http delivers batches as JSON arrays POSTed to an HTTP
// endpoint.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/breaker"

	"flowpipe/collector/publisher/sink"
	"flowpipe/common/reporter"
)

// Headers added to each request.
const (
	HeaderWriterID = "X-Writer-Id"
	HeaderBatchID  = "X-Batch-Id"
)

// Sink is an HTTP sink.
type Sink struct {
	r         *reporter.Reporter
	config    Configuration
	endpoint  string
	client    *http.Client
	breaker   *breaker.Breaker
	errLogger reporter.Logger

	metrics struct {
		requests     *reporter.CounterVec
		errors       *reporter.CounterVec
		breakerOpens *reporter.CounterVec
		duration     *reporter.SummaryVec
	}
}

// New creates a new HTTP sink.
func (c *Configuration) New(r *reporter.Reporter, endpoint string) (sink.Sink, error) {
	tlsConfig, err := c.TLS.MakeTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("cannot configure TLS for %q: %w", c.URL, err)
	}
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
	s := &Sink{
		r:        r,
		config:   *c,
		endpoint: endpoint,
		client:   &http.Client{Transport: transport, Timeout: c.Timeout},
		breaker:  breaker.New(c.BreakerErrors, 1, c.BreakerTimeout),
	}
	s.errLogger = r.With().Str("endpoint", endpoint).Str("url", c.URL).Logger().
		Sample(reporter.BurstSampler(30*time.Second, 3))

	s.metrics.requests = r.CounterVec(
		reporter.CounterOpts{
			Name: "requests_total",
			Help: "Number of HTTP requests by status code.",
		},
		[]string{"endpoint", "code"},
	)
	s.metrics.errors = r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Number of failed HTTP deliveries.",
		},
		[]string{"endpoint", "error"},
	)
	s.metrics.breakerOpens = r.CounterVec(
		reporter.CounterOpts{
			Name: "breaker_opens_total",
			Help: "Number of deliveries refused because the circuit breaker was open.",
		},
		[]string{"endpoint"},
	)
	s.metrics.duration = r.SummaryVec(
		reporter.SummaryOpts{
			Name:       "request_duration_seconds",
			Help:       "Duration of HTTP requests.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"endpoint"},
	)
	return s, nil
}

// Start does nothing for an HTTP sink.
func (s *Sink) Start() error {
	s.r.Info().Str("endpoint", s.endpoint).Str("url", s.config.URL).Msg("starting HTTP sink")
	return nil
}

// Stop closes idle connections.
func (s *Sink) Stop() error {
	s.client.CloseIdleConnections()
	return nil
}

// Send POSTs the batch as a JSON array.
func (s *Sink) Send(ctx context.Context, batch sink.Batch) error {
	body, err := json.Marshal(batch.Documents())
	if err != nil {
		// Not a transport error: retrying would not help.
		s.metrics.errors.WithLabelValues(s.endpoint, "encode").Inc()
		return fmt.Errorf("cannot encode batch: %w", err)
	}
	err = s.breaker.Run(func() error {
		return s.post(ctx, batch, body)
	})
	if errors.Is(err, breaker.ErrBreakerOpen) {
		s.metrics.breakerOpens.WithLabelValues(s.endpoint).Inc()
		s.errLogger.Warn().Msg("HTTP sink breaker open")
		return fmt.Errorf("%w: %w", sink.ErrTransport, err)
	}
	return err
}

func (s *Sink) post(ctx context.Context, batch sink.Batch, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		s.metrics.errors.WithLabelValues(s.endpoint, "request").Inc()
		return fmt.Errorf("%w: cannot build request: %w", sink.ErrTransport, err)
	}
	for name, value := range s.config.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWriterID, batch.WriterID)
	req.Header.Set(HeaderBatchID, batch.ID.String())

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.errors.WithLabelValues(s.endpoint, "connect").Inc()
		s.errLogger.Err(err).Msg("unable to send batch")
		return fmt.Errorf("%w: %w", sink.ErrTransport, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	s.metrics.duration.WithLabelValues(s.endpoint).Observe(time.Since(start).Seconds())
	s.metrics.requests.WithLabelValues(s.endpoint, fmt.Sprint(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.metrics.errors.WithLabelValues(s.endpoint, "status").Inc()
		s.errLogger.Error().Int("status", resp.StatusCode).Msg("unexpected status code")
		return fmt.Errorf("%w: unexpected status code %d", sink.ErrTransport, resp.StatusCode)
	}
	return nil
}

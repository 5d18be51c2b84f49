// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"flowpipe/collector/decoder"
	"flowpipe/collector/publisher/sink"
	"flowpipe/common/helpers"
	"flowpipe/common/reporter"
)

type request struct {
	Headers http.Header
	Body    []map[string]any
}

func newServer(t *testing.T, status *int) (*httptest.Server, func() []request) {
	t.Helper()
	var (
		lock     sync.Mutex
		requests []request
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var documents []map[string]any
		if err := json.Unmarshal(body, &documents); err != nil {
			t.Errorf("Unmarshal() error:\n%+v", err)
		}
		lock.Lock()
		requests = append(requests, request{Headers: r.Header.Clone(), Body: documents})
		code := *status
		lock.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(server.Close)
	return server, func() []request {
		lock.Lock()
		defer lock.Unlock()
		return append([]request{}, requests...)
	}
}

func newSink(t *testing.T, r *reporter.Reporter, url string, breakerErrors int) sink.Sink {
	t.Helper()
	config := DefaultConfiguration().(*Configuration)
	config.URL = url
	config.Headers = map[string]string{"Authorization": "Bearer secret"}
	config.BreakerErrors = breakerErrors
	config.BreakerTimeout = time.Hour
	s, err := config.New(r, "primary")
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, s)
	return s
}

func testBatch() sink.Batch {
	return sink.Batch{
		ID:       uuid.MustParse("5d8a1f4e-2a4c-4e0c-9b8f-1d2e3f4a5b6c"),
		Group:    "archive",
		Endpoint: "primary",
		WriterID: "collector-1",
		Flatten:  true,
		Records: []decoder.Record{{
			Protocol:   decoder.ProtocolIPFIX,
			Exporter:   netip.MustParseAddr("192.0.2.1"),
			TemplateID: 256,
			Received:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Fields: []decoder.Field{
				{Name: "sourceIPv4Address", Value: netip.MustParseAddr("10.0.0.1")},
				{Name: "octetDeltaCount", Value: uint64(1500)},
			},
		}},
	}
}

func TestSend(t *testing.T) {
	r := reporter.NewMock(t)
	status := http.StatusNoContent
	server, requests := newServer(t, &status)
	s := newSink(t, r, server.URL, 5)

	if err := s.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("Send() error:\n%+v", err)
	}
	got := requests()
	if len(got) != 1 {
		t.Fatalf("Send() made %d requests, expected 1", len(got))
	}
	for header, expected := range map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer secret",
		HeaderWriterID:  "collector-1",
		HeaderBatchID:   "5d8a1f4e-2a4c-4e0c-9b8f-1d2e3f4a5b6c",
	} {
		if value := got[0].Headers.Get(header); value != expected {
			t.Errorf("Send() header %s = %q, expected %q", header, value, expected)
		}
	}
	expected := []map[string]any{{
		"writer_id":             "collector-1",
		"protocol":              "ipfix",
		"exporter":              "192.0.2.1",
		"observation_domain_id": 0.,
		"template_id":           256.,
		"received":              "2024-03-01T10:00:00Z",
		"sourceIPv4Address":     "10.0.0.1",
		"octetDeltaCount":       1500.,
	}}
	if diff := helpers.Diff(got[0].Body, expected); diff != "" {
		t.Errorf("Send() body (-got, +want):\n%s", diff)
	}

	gotMetrics := r.GetMetrics("flowpipe_collector_publisher_sink_http_", "requests_total")
	expectedMetrics := map[string]string{
		`requests_total{code="204",endpoint="primary"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestSendNonFiniteFloat(t *testing.T) {
	r := reporter.NewMock(t)
	status := http.StatusNoContent
	server, requests := newServer(t, &status)
	s := newSink(t, r, server.URL, 5)

	batch := testBatch()
	valid := batch.Records[0]
	valid.Exporter = netip.MustParseAddr("192.0.2.2")
	batch.Records[0].Fields = []decoder.Field{{Name: "rtt", Value: math.NaN()}}
	batch.Records = append(batch.Records, valid)
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("Send() error:\n%+v", err)
	}
	got := requests()
	if len(got) != 1 {
		t.Fatalf("Send() made %d requests, expected 1", len(got))
	}
	if len(got[0].Body) != 2 {
		t.Fatalf("Send() delivered %d records, expected 2", len(got[0].Body))
	}
	if diff := helpers.Diff(got[0].Body[0]["rtt"], "NaN"); diff != "" {
		t.Errorf("Send() rtt (-got, +want):\n%s", diff)
	}
	if diff := helpers.Diff(got[0].Body[1]["octetDeltaCount"], 1500.); diff != "" {
		t.Errorf("Send() octetDeltaCount (-got, +want):\n%s", diff)
	}
}

func TestSendErrors(t *testing.T) {
	r := reporter.NewMock(t)
	status := http.StatusServiceUnavailable
	server, requests := newServer(t, &status)
	s := newSink(t, r, server.URL, 2)

	for i := 0; i < 3; i++ {
		err := s.Send(context.Background(), testBatch())
		if !errors.Is(err, sink.ErrTransport) {
			t.Fatalf("Send() error = %v, expected a transport error", err)
		}
	}
	// The breaker is open after two errors.
	if len(requests()) != 2 {
		t.Errorf("Send() made %d requests, expected 2", len(requests()))
	}

	gotMetrics := r.GetMetrics("flowpipe_collector_publisher_sink_http_", "errors_total", "breaker")
	expectedMetrics := map[string]string{
		`errors_total{endpoint="primary",error="status"}`: "2",
		`breaker_opens_total{endpoint="primary"}`:         "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestSendUnreachable(t *testing.T) {
	r := reporter.NewMock(t)
	status := http.StatusOK
	server, _ := newServer(t, &status)
	url := server.URL
	server.Close()
	s := newSink(t, r, url, 5)
	if err := s.Send(context.Background(), testBatch()); !errors.Is(err, sink.ErrTransport) {
		t.Fatalf("Send() error = %v, expected a transport error", err)
	}
}

func TestConfigurationDecode(t *testing.T) {
	helpers.TestConfigurationDecode(t, helpers.ConfigurationDecodeCases{
		{
			Description: "minimal",
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{"url": "https://collector.example.com/flows"}
			},
			Expected: &Configuration{
				URL:            "https://collector.example.com/flows",
				Timeout:        10 * time.Second,
				BreakerErrors:  5,
				BreakerTimeout: 30 * time.Second,
			},
		}, {
			Description: "with headers",
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{
					"url":     "http://127.0.0.1:8080/flows",
					"timeout": "2s",
					"headers": gin.H{"Authorization": "Bearer secret"},
				}
			},
			Expected: &Configuration{
				URL:            "http://127.0.0.1:8080/flows",
				Timeout:        2 * time.Second,
				Headers:        map[string]string{"Authorization": "Bearer secret"},
				BreakerErrors:  5,
				BreakerTimeout: 30 * time.Second,
			},
		}, {
			Description: "invalid URL",
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{"url": "ftp://collector.example.com/flows"}
			},
			Error: true,
		},
	})
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package sink

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"flowpipe/common/reporter"
)

// MockConfiguration is the configuration of a mock sink. The same sink
// is returned for each endpoint using it.
type MockConfiguration struct {
	Sink *MockSink
}

// New returns the mock sink.
func (c *MockConfiguration) New(_ *reporter.Reporter, _ string) (Sink, error) {
	return c.Sink, nil
}

// MockSink is a sink keeping the delivered batches. It can be
// instructed to fail or to block.
type MockSink struct {
	C chan Batch

	lock     sync.Mutex
	failures int
	blocked  chan struct{}
	attempts int
}

// NewMockSink creates a new mock sink.
func NewMockSink() *MockSink {
	return &MockSink{C: make(chan Batch, 100)}
}

// Start does nothing.
func (s *MockSink) Start() error { return nil }

// Stop does nothing.
func (s *MockSink) Stop() error { return nil }

// Send records the batch, unless a failure was requested.
func (s *MockSink) Send(ctx context.Context, batch Batch) error {
	s.lock.Lock()
	s.attempts++
	blocked := s.blocked
	s.lock.Unlock()
	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
		}
	}
	s.lock.Lock()
	if s.failures > 0 {
		s.failures--
		s.lock.Unlock()
		return fmt.Errorf("%w: mock failure", ErrTransport)
	}
	s.lock.Unlock()
	select {
	case s.C <- batch:
	default:
	}
	return nil
}

// Fail makes the next n deliveries fail.
func (s *MockSink) Fail(n int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failures = n
}

// Block makes deliveries wait until the returned function is called.
func (s *MockSink) Block() func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	blocked := make(chan struct{})
	s.blocked = blocked
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.blocked == blocked {
			s.blocked = nil
		}
		close(blocked)
	}
}

// Attempts returns the number of deliveries attempted.
func (s *MockSink) Attempts() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.attempts
}

// Next waits for the next delivered batch.
func (s *MockSink) Next(t testing.TB, timeout time.Duration) Batch {
	t.Helper()
	select {
	case batch := <-s.C:
		return batch
	case <-time.After(timeout):
		t.Fatalf("no batch delivered after %s", timeout)
	}
	return Batch{}
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package listener

import (
	"testing"
	"time"

	"flowpipe/collector/decoder"
)

// MockPublisher is a publisher sending the received records to a
// channel. Records are dropped when the channel is full.
type MockPublisher struct {
	C chan []decoder.Record
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{C: make(chan []decoder.Record, 100)}
}

// Publish sends the records to the channel.
func (p *MockPublisher) Publish(records []decoder.Record) {
	select {
	case p.C <- records:
	default:
	}
}

// Next waits for the next published records.
func (p *MockPublisher) Next(t testing.TB, timeout time.Duration) []decoder.Record {
	t.Helper()
	select {
	case records := <-p.C:
		return records
	case <-time.After(timeout):
		t.Fatalf("no records published after %s", timeout)
	}
	return nil
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"flowpipe/collector/decoder"
	"flowpipe/collector/publisher/sink"
)

// endpoint accumulates records into batches and delivers them through
// its sink. Batches wait in a bounded buffer. A single goroutine
// delivers them, so at most one batch is in flight.
type endpoint struct {
	p         *Publisher
	group     *group
	name      string
	writerID  string
	batchSize int
	sink      sink.Sink
	backoff   *backoff.ExponentialBackOff
	wake      chan struct{}

	lock     sync.Mutex
	pending  []decoder.Record
	queue    *batchQueue
	inFlight int
	closed   bool
}

func (p *Publisher) newEndpoint(g *group, name, writerID string, batchSize, bufferSize int, s sink.Sink) *endpoint {
	if batchSize < 1 {
		batchSize = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryInterval
	b.MaxInterval = p.config.MaxRetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return &endpoint{
		p:         p,
		group:     g,
		name:      name,
		writerID:  writerID,
		batchSize: batchSize,
		sink:      s,
		backoff:   b,
		wake:      make(chan struct{}, 1),
		queue:     newBatchQueue(bufferSize),
	}
}

// add appends records to the endpoint. Full batches are moved to the
// buffer.
func (e *endpoint) add(records []decoder.Record) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		e.p.metrics.droppedRecords.WithLabelValues(e.group.name, e.name, "shutdown").Add(float64(len(records)))
		return
	}
	e.pending = append(e.pending, records...)
	enqueued := false
	for len(e.pending) >= e.batchSize {
		e.cut(e.batchSize)
		enqueued = true
	}
	e.updateGauges()
	if enqueued {
		e.signal()
	}
}

// flush moves the accumulated records to the buffer, even if they do
// not make a full batch.
func (e *endpoint) flush() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.pending) == 0 {
		return
	}
	for len(e.pending) > 0 {
		e.cut(min(len(e.pending), e.batchSize))
	}
	e.updateGauges()
	e.signal()
}

// cut turns the first n pending records into a batch. The lock must be
// held.
func (e *endpoint) cut(n int) {
	records := e.pending[:n:n]
	e.pending = e.pending[n:]
	if len(e.pending) == 0 {
		e.pending = nil
	}
	pb := &pendingBatch{
		batch: sink.Batch{
			ID:       uuid.New(),
			Group:    e.group.name,
			Endpoint: e.name,
			WriterID: e.writerID,
			Flatten:  e.group.flatten,
			Fields:   e.group.fields,
			Records:  records,
		},
	}
	e.p.metrics.enqueued.WithLabelValues(e.group.name, e.name).Inc()
	if dropped := e.queue.pushBack(pb); dropped != nil {
		e.drop(dropped, "capacity", ErrCapacityExceeded)
	}
}

// pop removes the oldest batch from the buffer and marks it as in
// flight.
func (e *endpoint) pop() *pendingBatch {
	e.lock.Lock()
	defer e.lock.Unlock()
	pb := e.queue.popFront()
	if pb != nil {
		e.inFlight++
		e.updateGauges()
	}
	return pb
}

// drop accounts for a discarded batch. The lock must be held.
func (e *endpoint) drop(pb *pendingBatch, reason string, err error) {
	e.p.metrics.droppedBatches.WithLabelValues(e.group.name, e.name, reason).Inc()
	e.p.metrics.droppedRecords.WithLabelValues(e.group.name, e.name, reason).Add(float64(len(pb.batch.Records)))
	e.p.errLogger.Err(err).
		Str("group", e.group.name).
		Str("endpoint", e.name).
		Str("batch", pb.batch.ID.String()).
		Str("reason", reason).
		Int("records", len(pb.batch.Records)).
		Msg("batch dropped")
}

func (e *endpoint) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// updateGauges refreshes the gauges of the endpoint. The lock must be
// held.
func (e *endpoint) updateGauges() {
	e.p.metrics.buffered.WithLabelValues(e.group.name, e.name).Set(float64(e.queue.len()))
	e.p.metrics.inFlight.WithLabelValues(e.group.name, e.name).Set(float64(e.inFlight))
	e.p.metrics.pending.WithLabelValues(e.group.name, e.name).Set(float64(len(e.pending)))
}

// run delivers the buffered batches until the publisher is stopped.
// After a failure, it waits for an increasing delay before the next
// attempt.
func (e *endpoint) run() error {
	dying := e.p.t.Dying()
	ctx := e.p.t.Context(context.Background())
	for {
		select {
		case <-dying:
			e.drain()
			return nil
		case <-e.wake:
		}
	deliver:
		for {
			select {
			case <-dying:
				e.drain()
				return nil
			default:
			}
			pb := e.pop()
			if pb == nil {
				break deliver
			}
			if e.deliver(ctx, pb) {
				e.backoff.Reset()
				continue
			}
			select {
			case <-dying:
				e.drain()
				return nil
			case <-e.p.d.Clock.After(e.backoff.NextBackOff()):
			}
		}
	}
}

// deliver sends an in-flight batch. A batch failing with a transport
// error is put back at the front of the buffer until it exceeds the
// maximum number of retries. It returns false when the delivery failed.
func (e *endpoint) deliver(ctx context.Context, pb *pendingBatch) bool {
	start := time.Now()
	err := e.sink.Send(ctx, pb.batch)

	e.lock.Lock()
	defer e.lock.Unlock()
	e.inFlight--
	defer e.updateGauges()
	switch {
	case err == nil:
		e.p.metrics.sendDuration.WithLabelValues(e.group.name, e.name).Observe(time.Since(start).Seconds())
		e.p.metrics.sentBatches.WithLabelValues(e.group.name, e.name).Inc()
		e.p.metrics.sentRecords.WithLabelValues(e.group.name, e.name).Add(float64(len(pb.batch.Records)))
		return true
	case !errors.Is(err, sink.ErrTransport):
		e.drop(pb, "error", err)
		return true
	case ctx.Err() != nil:
		// Interrupted by shutdown, this is not an attempt.
		if dropped := e.queue.pushFront(pb); dropped != nil {
			e.drop(dropped, "capacity", ErrCapacityExceeded)
		}
		return false
	}
	pb.attempts++
	if pb.attempts > e.p.config.MaxRetries {
		e.drop(pb, "retries", err)
		return false
	}
	e.p.errLogger.Warn().Err(err).
		Str("group", e.group.name).
		Str("endpoint", e.name).
		Int("attempts", pb.attempts).
		Msg("cannot deliver batch, will retry")
	e.p.metrics.retries.WithLabelValues(e.group.name, e.name).Inc()
	if dropped := e.queue.pushFront(pb); dropped != nil {
		e.drop(dropped, "capacity", ErrCapacityExceeded)
	}
	return false
}

// drain delivers the remaining records within the drain timeout. Retries
// happen without delay. What is left afterwards is discarded.
func (e *endpoint) drain() {
	e.lock.Lock()
	e.closed = true
	for len(e.pending) > 0 {
		e.cut(min(len(e.pending), e.batchSize))
	}
	e.updateGauges()
	e.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.p.config.DrainTimeout)
	defer cancel()
	for ctx.Err() == nil {
		pb := e.pop()
		if pb == nil {
			break
		}
		e.deliver(ctx, pb)
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	for _, pb := range e.queue.clear() {
		e.drop(pb, "shutdown", context.DeadlineExceeded)
	}
	e.updateGauges()
}

// info returns the current state of the endpoint.
func (e *endpoint) info() EndpointInfo {
	e.lock.Lock()
	defer e.lock.Unlock()
	return EndpointInfo{
		Name:           e.name,
		WriterID:       e.writerID,
		BatchSize:      e.batchSize,
		BufferSize:     e.queue.capacity(),
		Buffered:       e.queue.len(),
		InFlight:       e.inFlight,
		PendingRecords: len(e.pending),
	}
}

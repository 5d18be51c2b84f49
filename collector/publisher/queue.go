// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import "flowpipe/collector/publisher/sink"

// pendingBatch is a batch waiting for delivery.
type pendingBatch struct {
	batch    sink.Batch
	attempts int
}

// batchQueue is a bounded double-ended queue of batches. When full,
// the oldest batch is dropped. It is not safe for concurrent use.
type batchQueue struct {
	items []*pendingBatch
	head  int
	size  int
}

func newBatchQueue(capacity int) *batchQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &batchQueue{items: make([]*pendingBatch, capacity)}
}

func (q *batchQueue) len() int {
	return q.size
}

func (q *batchQueue) capacity() int {
	return len(q.items)
}

// pushBack appends a batch. When the queue is full, the oldest batch
// is removed and returned.
func (q *batchQueue) pushBack(b *pendingBatch) (dropped *pendingBatch) {
	if q.size == len(q.items) {
		dropped = q.popFront()
	}
	q.items[(q.head+q.size)%len(q.items)] = b
	q.size++
	return dropped
}

// pushFront puts back a batch at the head of the queue. This batch is
// the oldest one: when the queue is full, it is returned as dropped.
func (q *batchQueue) pushFront(b *pendingBatch) (dropped *pendingBatch) {
	if q.size == len(q.items) {
		return b
	}
	q.head = (q.head - 1 + len(q.items)) % len(q.items)
	q.items[q.head] = b
	q.size++
	return nil
}

// popFront removes and returns the oldest batch, or nil.
func (q *batchQueue) popFront() *pendingBatch {
	if q.size == 0 {
		return nil
	}
	b := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return b
}

// clear removes all the batches and returns them.
func (q *batchQueue) clear() []*pendingBatch {
	batches := make([]*pendingBatch, 0, q.size)
	for b := q.popFront(); b != nil; b = q.popFront() {
		batches = append(batches, b)
	}
	return batches
}

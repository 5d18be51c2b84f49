// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package listener

import (
	"bytes"
	"errors"
	"time"

	"github.com/bits-and-blooms/bitset"

	"flowpipe/collector/wire"
)

// maxMessageSize is the maximum size of a reassembled UDP-notif message.
const maxMessageSize = 1 << 20

var (
	errSegmentAfterLast = errors.New("segment after the last one")
	errConflictingLast  = errors.New("conflicting last segment")
	errMessageTooLarge  = errors.New("reassembled message too large")
)

type messageKey struct {
	observationDomainID uint32
	messageID           uint32
}

type partialMessage struct {
	header   wire.Notification
	segments map[uint16][]byte
	received *bitset.BitSet
	highest  int
	last     int
	size     int
	lastSeen time.Time
}

// reassembler buffers the segments of UDP-notif messages from one
// exporter. It is not safe for concurrent use.
type reassembler struct {
	messages map[messageKey]*partialMessage
}

func newReassembler() *reassembler {
	return &reassembler{
		messages: map[messageKey]*partialMessage{},
	}
}

// add adds a message or a segment. When the message is complete, it
// is returned with true. Segment payloads are copied. On error, the
// partial message is dropped.
func (r *reassembler) add(n wire.Notification, now time.Time) (wire.Notification, bool, error) {
	if n.Segment == nil {
		return n, true, nil
	}
	key := messageKey{observationDomainID: n.ObservationDomainID, messageID: n.MessageID}
	p, ok := r.messages[key]
	if !ok {
		header := n
		header.Payload = nil
		header.Options = make([]wire.NotificationOption, len(n.Options))
		for i, o := range n.Options {
			header.Options[i] = wire.NotificationOption{Type: o.Type, Value: bytes.Clone(o.Value)}
		}
		p = &partialMessage{
			header:   header,
			segments: map[uint16][]byte{},
			received: bitset.New(8),
			highest:  -1,
			last:     -1,
		}
		r.messages[key] = p
	}
	p.lastSeen = now
	number := int(n.Segment.Number)
	if p.last >= 0 && number > p.last {
		delete(r.messages, key)
		return wire.Notification{}, false, errSegmentAfterLast
	}
	if n.Segment.Last {
		if (p.last >= 0 && p.last != number) || p.highest > number {
			delete(r.messages, key)
			return wire.Notification{}, false, errConflictingLast
		}
		p.last = number
	}
	if p.received.Test(uint(number)) {
		// Duplicate segment.
		return wire.Notification{}, false, nil
	}
	p.size += len(n.Payload)
	if p.size > maxMessageSize {
		delete(r.messages, key)
		return wire.Notification{}, false, errMessageTooLarge
	}
	p.received.Set(uint(number))
	p.segments[n.Segment.Number] = bytes.Clone(n.Payload)
	if number > p.highest {
		p.highest = number
	}
	if p.last < 0 || p.received.Count() != uint(p.last+1) {
		return wire.Notification{}, false, nil
	}

	payload := make([]byte, 0, p.size)
	for i := 0; i <= p.last; i++ {
		payload = append(payload, p.segments[uint16(i)]...)
	}
	complete := p.header
	complete.Segment = nil
	complete.Payload = payload
	delete(r.messages, key)
	return complete, true, nil
}

// expire drops the partial messages not updated since timeout and
// returns how many were dropped.
func (r *reassembler) expire(now time.Time, timeout time.Duration) int {
	dropped := 0
	for key, p := range r.messages {
		if !now.Before(p.lastSeen.Add(timeout)) {
			delete(r.messages, key)
			dropped++
		}
	}
	return dropped
}

func (r *reassembler) len() int {
	return len(r.messages)
}

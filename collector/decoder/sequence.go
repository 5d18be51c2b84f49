// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"sync"
	"time"

	"flowpipe/collector/templates"
	"flowpipe/collector/wire"
)

// sequenceResult is the outcome of a sequence number check.
type sequenceResult uint8

const (
	sequenceFirst sequenceResult = iota
	sequenceInOrder
	sequenceGap
	sequenceReset
	sequenceUnknown
)

type sequenceKey struct {
	session templates.SessionKey
	version uint16
}

type sequenceState struct {
	next     uint32
	unknown  bool
	lastSeen time.Time
}

// sequenceTracker tracks the expected next sequence number of each
// exporter session. Gaps are only reported. It is sharded by session
// like the template store.
type sequenceTracker struct {
	shards []sequenceShard
}

type sequenceShard struct {
	lock     sync.Mutex
	sessions map[sequenceKey]sequenceState
}

func newSequenceTracker(shards int) *sequenceTracker {
	if shards < 1 {
		shards = 1
	}
	t := &sequenceTracker{
		shards: make([]sequenceShard, shards),
	}
	for i := range t.shards {
		t.shards[i].sessions = map[sequenceKey]sequenceState{}
	}
	return t
}

func (t *sequenceTracker) shardFor(session templates.SessionKey) *sequenceShard {
	return &t.shards[session.Hash()%uint64(len(t.shards))]
}

// observe records the sequence number of a message. IPFIX sequence
// numbers count data records while NetFlow v9 ones count messages.
// A sequence number behind the expected one is a reset. When some
// IPFIX data records of the message could not be counted, the next
// expected sequence number is unknown and the following message is not
// checked.
func (t *sequenceTracker) observe(session templates.SessionKey, version uint16, sequence uint32, dataRecords int, counted bool, now time.Time) sequenceResult {
	state := sequenceState{next: sequence + 1, lastSeen: now}
	if version == wire.VersionIPFIX {
		state.next = sequence + uint32(dataRecords)
		state.unknown = !counted
	}
	key := sequenceKey{session: session, version: version}

	sh := t.shardFor(session)
	sh.lock.Lock()
	defer sh.lock.Unlock()
	previous, ok := sh.sessions[key]
	sh.sessions[key] = state
	switch diff := sequence - previous.next; {
	case !ok:
		return sequenceFirst
	case previous.unknown:
		return sequenceUnknown
	case diff == 0:
		return sequenceInOrder
	case diff < 1<<31:
		return sequenceGap
	default:
		return sequenceReset
	}
}

// expire removes the sessions not seen since timeout. Only one shard
// is locked at a time.
func (t *sequenceTracker) expire(now time.Time, timeout time.Duration) int {
	removed := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.lock.Lock()
		for key, state := range sh.sessions {
			if !now.Before(state.lastSeen.Add(timeout)) {
				delete(sh.sessions, key)
				removed++
			}
		}
		sh.lock.Unlock()
	}
	return removed
}

func (t *sequenceTracker) len() int {
	count := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.lock.Lock()
		count += len(sh.sessions)
		sh.lock.Unlock()
	}
	return count
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package templates stores the templates announced by exporters. The
// store is shared by all decoding workers. It is sharded by exporter
// session and entries are only removed by an explicit purge.
package templates

import (
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"flowpipe/collector/wire"
	"flowpipe/common/reporter"
)

// SessionKey identifies an exporter session.
type SessionKey struct {
	Exporter            netip.Addr
	ObservationDomainID uint32
}

// Key identifies a template. The protocol version is part of the key as
// an exporter may send both IPFIX and NetFlow v9 to the same collector.
type Key struct {
	Session    SessionKey
	Version    uint16
	TemplateID uint16
}

// Template is a template known by the store. It is never modified once
// stored.
type Template struct {
	wire.TemplateRecord
	Created  time.Time
	LastSeen time.Time
}

// Entry is a template with its key.
type Entry struct {
	Key
	Template
}

// UpsertResult tells what an upsert did.
type UpsertResult uint8

const (
	// Added means the template was not known.
	Added UpsertResult = iota
	// Refreshed means the template was known with the same layout.
	Refreshed
	// Redefined means the template was known with another layout.
	Redefined
)

func (u UpsertResult) String() string {
	switch u {
	case Added:
		return "added"
	case Refreshed:
		return "refreshed"
	case Redefined:
		return "redefined"
	}
	return "unknown"
}

// Store contains templates for all exporters.
type Store struct {
	r      *reporter.Reporter
	config Configuration
	shards []shard

	metrics struct {
		upserts *reporter.CounterVec
		purged  reporter.Counter
	}
}

type shard struct {
	lock    sync.RWMutex
	entries map[Key]*Template
}

// New creates a new template store.
func New(r *reporter.Reporter, config Configuration) (*Store, error) {
	if config.Shards < 1 {
		config.Shards = 1
	}
	s := &Store{
		r:      r,
		config: config,
		shards: make([]shard, config.Shards),
	}
	for i := range s.shards {
		s.shards[i].entries = map[Key]*Template{}
	}
	s.metrics.upserts = r.CounterVec(
		reporter.CounterOpts{
			Name: "upserts_total",
			Help: "Number of templates received.",
		},
		[]string{"result"},
	)
	s.metrics.purged = r.Counter(
		reporter.CounterOpts{
			Name: "purged_total",
			Help: "Number of templates removed by the purge sweep.",
		},
	)
	r.GaugeFunc(
		reporter.GaugeOpts{
			Name: "entries",
			Help: "Number of templates in the store.",
		},
		func() float64 {
			return float64(s.Len())
		},
	)
	return s, nil
}

// Hash returns a hash of the session. FNV-1a over the address and the
// observation domain.
func (session SessionKey) Hash() uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	addr := session.Exporter.As16()
	for _, b := range addr {
		h ^= uint64(b)
		h *= prime64
	}
	for i := 0; i < 4; i++ {
		h ^= uint64(session.ObservationDomainID >> (8 * i) & 0xff)
		h *= prime64
	}
	return h
}

// shardFor returns the shard for a session.
func (s *Store) shardFor(session SessionKey) *shard {
	return &s.shards[session.Hash()%uint64(len(s.shards))]
}

// Shards returns the number of shards of the store.
func (s *Store) Shards() int {
	return len(s.shards)
}

// Upsert inserts or replaces a template and refreshes its last-seen
// time. The creation time is kept when the layout does not change.
func (s *Store) Upsert(key Key, record wire.TemplateRecord, now time.Time) UpsertResult {
	sh := s.shardFor(key.Session)
	sh.lock.Lock()
	previous, ok := sh.entries[key]
	result := Added
	created := now
	switch {
	case ok && previous.TemplateRecord.Equal(record):
		result = Refreshed
		created = previous.Created
	case ok:
		result = Redefined
	}
	sh.entries[key] = &Template{
		TemplateRecord: record,
		Created:        created,
		LastSeen:       now,
	}
	sh.lock.Unlock()

	s.metrics.upserts.WithLabelValues(result.String()).Inc()
	if result == Redefined {
		s.r.Debug().
			Str("exporter", key.Session.Exporter.String()).
			Uint32("domain", key.Session.ObservationDomainID).
			Uint16("template", key.TemplateID).
			Msg("template redefined")
	}
	return result
}

// Lookup returns the template for the provided key. It does not modify
// the last-seen time.
func (s *Store) Lookup(key Key) (Template, bool) {
	sh := s.shardFor(key.Session)
	sh.lock.RLock()
	t, ok := sh.entries[key]
	sh.lock.RUnlock()
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Purge removes templates not seen since timeout. A template is removed
// when now >= LastSeen + timeout. Only one shard is locked at a time.
// It returns the number of removed templates.
func (s *Store) Purge(now time.Time, timeout time.Duration) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.lock.Lock()
		for key, t := range sh.entries {
			if !now.Before(t.LastSeen.Add(timeout)) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.lock.Unlock()
	}
	if removed > 0 {
		s.metrics.purged.Add(float64(removed))
		s.r.Debug().Int("removed", removed).Msg("purged expired templates")
	}
	return removed
}

// Len returns the number of templates in the store.
func (s *Store) Len() int {
	count := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.lock.RLock()
		count += len(sh.entries)
		sh.lock.RUnlock()
	}
	return count
}

// Snapshot returns all the templates, sorted by exporter, domain,
// version and template ID.
func (s *Store) Snapshot() []Entry {
	entries := []Entry{}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.lock.RLock()
		for key, t := range sh.entries {
			entries = append(entries, Entry{Key: key, Template: *t})
		}
		sh.lock.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if c := a.Session.Exporter.Compare(b.Session.Exporter); c != 0 {
			return c < 0
		}
		if a.Session.ObservationDomainID != b.Session.ObservationDomainID {
			return a.Session.ObservationDomainID < b.Session.ObservationDomainID
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.TemplateID < b.TemplateID
	})
	return entries
}

// String formats a session key.
func (k SessionKey) String() string {
	return k.Exporter.String() + "/" + strconv.FormatUint(uint64(k.ObservationDomainID), 10)
}

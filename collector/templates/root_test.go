// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"flowpipe/collector/wire"
	"flowpipe/common/helpers"
	"flowpipe/common/reporter"
)

var (
	t0       = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	session1 = SessionKey{Exporter: netip.MustParseAddr("192.0.2.1"), ObservationDomainID: 1}
	session2 = SessionKey{Exporter: netip.MustParseAddr("2001:db8::2"), ObservationDomainID: 1}
)

func record(id uint16, lengths ...uint16) wire.TemplateRecord {
	fields := make([]wire.FieldSpecifier, len(lengths))
	for i, l := range lengths {
		fields[i] = wire.FieldSpecifier{ID: uint16(i + 1), Length: l}
	}
	return wire.TemplateRecord{ID: id, Fields: fields}
}

func TestUpsertLookup(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	key := Key{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256}

	if _, ok := s.Lookup(key); ok {
		t.Fatal("Lookup() found a template in an empty store")
	}
	if got := s.Upsert(key, record(256, 4, 4), t0); got != Added {
		t.Errorf("Upsert() = %s, expected added", got)
	}
	if got := s.Upsert(key, record(256, 4, 4), t0.Add(time.Minute)); got != Refreshed {
		t.Errorf("Upsert() = %s, expected refreshed", got)
	}
	got, ok := s.Lookup(key)
	if !ok {
		t.Fatal("Lookup() did not find template")
	}
	expected := Template{TemplateRecord: record(256, 4, 4), Created: t0, LastSeen: t0.Add(time.Minute)}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Errorf("Lookup() (-got, +want):\n%s", diff)
	}

	// Same ID in another session or another version does not collide.
	for _, other := range []Key{
		{Session: session2, Version: wire.VersionIPFIX, TemplateID: 256},
		{Session: SessionKey{Exporter: session1.Exporter, ObservationDomainID: 2}, Version: wire.VersionIPFIX, TemplateID: 256},
		{Session: session1, Version: wire.VersionNetFlow9, TemplateID: 256},
	} {
		if _, ok := s.Lookup(other); ok {
			t.Errorf("Lookup(%v) found a template from another session", other)
		}
	}

	gotMetrics := r.GetMetrics("flowpipe_collector_templates_")
	expectedMetrics := map[string]string{
		`entries`:                           "1",
		`purged_total`:                      "0",
		`upserts_total{result="added"}`:     "1",
		`upserts_total{result="refreshed"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestRedefinition(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	key := Key{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256}

	s.Upsert(key, record(256, 4, 4), t0)
	before, _ := s.Lookup(key)
	if got := s.Upsert(key, record(256, 2, 2, 8), t0.Add(time.Second)); got != Redefined {
		t.Errorf("Upsert() = %s, expected redefined", got)
	}
	after, _ := s.Lookup(key)
	if after.FieldCount() != 3 || after.Created != t0.Add(time.Second) {
		t.Errorf("Lookup() after redefinition = %+v", after)
	}
	// Previously returned templates are not modified.
	if before.FieldCount() != 2 || before.Fields[0].Length != 4 {
		t.Errorf("Lookup() before redefinition modified: %+v", before)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, expected 1", s.Len())
	}
}

func TestLookupDoesNotRefresh(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	key := Key{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256}
	s.Upsert(key, record(256, 4), t0)
	for i := 0; i < 10; i++ {
		s.Lookup(key)
	}
	got, _ := s.Lookup(key)
	if !got.LastSeen.Equal(t0) {
		t.Errorf("Lookup() LastSeen = %s, expected %s", got.LastSeen, t0)
	}
}

func TestPurge(t *testing.T) {
	const timeout = 30 * time.Minute
	cases := []struct {
		Pos     helpers.Pos
		Now     time.Time
		Present bool
	}{
		{helpers.Mark(), t0, true},
		{helpers.Mark(), t0.Add(timeout / 2), true},
		{helpers.Mark(), t0.Add(timeout - time.Nanosecond), true},
		{helpers.Mark(), t0.Add(timeout), false},
		{helpers.Mark(), t0.Add(2 * timeout), false},
	}
	for _, tc := range cases {
		r := reporter.NewMock(t)
		s := NewMock(t, r)
		key := Key{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256}
		s.Upsert(key, record(256, 4), t0)
		removed := s.Purge(tc.Now, timeout)
		_, ok := s.Lookup(key)
		if ok != tc.Present {
			t.Errorf("%sPurge(%s) present = %v, expected %v", tc.Pos, tc.Now.Sub(t0), ok, tc.Present)
		}
		if (removed == 0) != tc.Present {
			t.Errorf("%sPurge(%s) = %d removed", tc.Pos, tc.Now.Sub(t0), removed)
		}
	}
}

func TestPurgeKeepsRefreshed(t *testing.T) {
	const timeout = 10 * time.Minute
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	old := Key{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256}
	fresh := Key{Session: session2, Version: wire.VersionIPFIX, TemplateID: 256}
	s.Upsert(old, record(256, 4), t0)
	s.Upsert(fresh, record(256, 4), t0)
	s.Upsert(fresh, record(256, 4), t0.Add(8*time.Minute))

	if removed := s.Purge(t0.Add(timeout), timeout); removed != 1 {
		t.Errorf("Purge() = %d, expected 1", removed)
	}
	if _, ok := s.Lookup(old); ok {
		t.Error("Lookup(old) found expired template")
	}
	if _, ok := s.Lookup(fresh); !ok {
		t.Error("Lookup(fresh) did not find refreshed template")
	}
	gotMetrics := r.GetMetrics("flowpipe_collector_templates_", "purged", "entries")
	expectedMetrics := map[string]string{
		`entries`:      "1",
		`purged_total`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Errorf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestSnapshot(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	keys := []Key{
		{Session: session2, Version: wire.VersionIPFIX, TemplateID: 300},
		{Session: session1, Version: wire.VersionIPFIX, TemplateID: 257},
		{Session: session1, Version: wire.VersionNetFlow9, TemplateID: 256},
		{Session: session1, Version: wire.VersionIPFIX, TemplateID: 256},
	}
	for _, key := range keys {
		s.Upsert(key, record(key.TemplateID, 4), t0)
	}
	got := []Key{}
	for _, e := range s.Snapshot() {
		got = append(got, e.Key)
	}
	expected := []Key{keys[2], keys[3], keys[1], keys[0]}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Errorf("Snapshot() (-got, +want):\n%s", diff)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			session := SessionKey{
				Exporter:            netip.MustParseAddr(fmt.Sprintf("192.0.2.%d", w+1)),
				ObservationDomainID: uint32(w),
			}
			for i := 0; i < 1000; i++ {
				key := Key{Session: session, Version: wire.VersionIPFIX, TemplateID: uint16(256 + i%16)}
				layout := record(key.TemplateID, 4, 4)
				if i%2 == 1 {
					layout = record(key.TemplateID, 2, 2, 2, 2)
				}
				s.Upsert(key, layout, t0.Add(time.Duration(i)*time.Millisecond))
				if got, ok := s.Lookup(key); ok && got.MinRecordLength() != 8 {
					t.Errorf("Lookup() observed a partial template: %+v", got)
				}
				if i%100 == 0 {
					s.Purge(t0, time.Hour)
				}
			}
		}(w)
	}
	wg.Wait()
	if s.Len() != 8*16 {
		t.Errorf("Len() = %d, expected %d", s.Len(), 8*16)
	}
}

func TestShardDistribution(t *testing.T) {
	r := reporter.NewMock(t)
	s := NewMock(t, r)
	used := map[*shard]bool{}
	for i := 0; i < 256; i++ {
		session := SessionKey{
			Exporter:            netip.AddrFrom4([4]byte{10, 0, byte(i / 16), byte(i)}),
			ObservationDomainID: 0,
		}
		used[s.shardFor(session)] = true
	}
	if len(used) < len(s.shards)/2 {
		t.Errorf("sessions spread over %d shards out of %d", len(used), len(s.shards))
	}
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package listener

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flowpipe/collector/wire"
)

// source is the transient state kept for one exporter. It is dropped
// after the subscriber timeout. Templates are not part of it.
type source struct {
	lastSeen time.Time // protected by the listener sourcesLock
	limiter  *rate.Limiter

	lock        sync.Mutex
	reassembler *reassembler
}

// touch returns the state of an exporter, creating it if needed, and
// refreshes its liveness.
func (l *Listener) touch(exporter netip.Addr, now time.Time) *source {
	l.sourcesLock.Lock()
	defer l.sourcesLock.Unlock()
	s, ok := l.sources[exporter]
	if !ok {
		s = &source{}
		if l.config.RateLimit > 0 {
			burst := int(l.config.RateLimit / 10)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(l.config.RateLimit), burst)
		}
		if l.config.Protocol == ProtocolUDPNotif {
			s.reassembler = newReassembler()
		}
		l.sources[exporter] = s
		l.metrics.sources.WithLabelValues(l.config.Listen).Set(float64(len(l.sources)))
	}
	s.lastSeen = now
	return s
}

// allow tells if the provided number of records can be published.
func (s *source) allow(count int, now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.AllowN(now, count)
}

func (s *source) reassemble(n wire.Notification, now time.Time) (wire.Notification, bool, error) {
	if s.reassembler == nil {
		return n, true, nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reassembler.add(n, now)
}

// expireSources drops the state of exporters silent for the subscriber
// timeout and the partial messages of the other ones. It returns the
// number of expired exporters.
func (l *Listener) expireSources(now time.Time) int {
	timeout := l.options.SubscriberTimeout
	expired, dropped := 0, 0
	l.sourcesLock.Lock()
	for exporter, s := range l.sources {
		s.lock.Lock()
		if !now.Before(s.lastSeen.Add(timeout)) {
			if s.reassembler != nil {
				dropped += s.reassembler.len()
			}
			delete(l.sources, exporter)
			expired++
		} else if s.reassembler != nil {
			dropped += s.reassembler.expire(now, timeout)
		}
		s.lock.Unlock()
	}
	remaining := len(l.sources)
	l.sourcesLock.Unlock()

	l.metrics.sources.WithLabelValues(l.config.Listen).Set(float64(remaining))
	if expired > 0 {
		l.metrics.expiredSources.WithLabelValues(l.config.Listen).Add(float64(expired))
		l.r.Debug().Str("listen", l.config.Listen).Int("expired", expired).Msg("expired idle exporters")
	}
	if dropped > 0 {
		l.metrics.reassemblyDrop.WithLabelValues(l.config.Listen, "timeout").Add(float64(dropped))
	}
	return expired
}

// Sources returns the number of exporters with a transient state.
func (l *Listener) Sources() int {
	l.sourcesLock.Lock()
	defer l.sourcesLock.Unlock()
	return len(l.sources)
}

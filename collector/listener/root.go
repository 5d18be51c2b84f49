// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package listener receives flow datagrams on a UDP socket. Each
// worker owns its own socket bound with SO_REUSEPORT, decodes the
// datagrams it receives and hands the records to the publisher.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"flowpipe/collector/decoder"
	"flowpipe/collector/wire"
	"flowpipe/common/daemon"
	"flowpipe/common/reporter"
)

// maxDatagramSize is the size of the receive buffer of each worker.
const maxDatagramSize = 65535

// receiveErrorDelay is the delay before reading again after a receive
// error.
const receiveErrorDelay = 10 * time.Millisecond

// State is the state of a listener.
type State int32

const (
	// Starting is the state before sockets are opened.
	Starting State = iota
	// Running is the state while receiving datagrams.
	Running
	// Draining is the state while in-flight datagrams are processed
	// after the sockets were closed.
	Draining
	// Stopped is the final state.
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText turns a state into text.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Publisher accepts decoded records. Publish must not block.
type Publisher interface {
	Publish(records []decoder.Record)
}

// Listener represents the state of a UDP listener.
type Listener struct {
	r         *reporter.Reporter
	d         Dependencies
	t         tomb.Tomb
	config    Configuration
	options   Options
	state     atomic.Int32
	errLogger reporter.Logger

	connsLock sync.Mutex
	conns     []*net.UDPConn
	address   net.Addr

	sourcesLock sync.Mutex
	sources     map[netip.Addr]*source

	healthy chan reporter.ChannelHealthcheckFunc

	metrics struct {
		bytes          *reporter.CounterVec
		packets        *reporter.CounterVec
		packetSizeSum  *reporter.SummaryVec
		errors         *reporter.CounterVec
		inDrops        *reporter.CounterVec
		reopens        *reporter.CounterVec
		published      *reporter.CounterVec
		rateLimited    *reporter.CounterVec
		sources        *reporter.GaugeVec
		expiredSources *reporter.CounterVec
		segments       *reporter.CounterVec
		reassembled    *reporter.CounterVec
		reassemblyDrop *reporter.CounterVec
		state          *reporter.GaugeVec
	}
}

// Dependencies define the dependencies of a listener.
type Dependencies struct {
	Daemon    daemon.Component
	Decoder   *decoder.Decoder
	Publisher Publisher
	Clock     clock.Clock
}

// New creates a new listener from the provided configuration.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies, options Options) (*Listener, error) {
	if dependencies.Decoder == nil || dependencies.Publisher == nil {
		return nil, errors.New("listener needs a decoder and a publisher")
	}
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	if options.SubscriberTimeout <= 0 {
		return nil, fmt.Errorf("invalid subscriber timeout %s", options.SubscriberTimeout)
	}
	if configuration.Workers < 1 {
		configuration.Workers = 1
	}
	l := &Listener{
		r:       r,
		d:       dependencies,
		config:  configuration,
		options: options,
		sources: map[netip.Addr]*source{},
		healthy: make(chan reporter.ChannelHealthcheckFunc),
	}
	l.errLogger = r.With().Str("listen", configuration.Listen).Logger().
		Sample(reporter.BurstSampler(time.Minute, 1))

	l.metrics.bytes = r.CounterVec(
		reporter.CounterOpts{
			Name: "bytes_total",
			Help: "Bytes received by the application.",
		},
		[]string{"listener", "worker", "exporter"},
	)
	l.metrics.packets = r.CounterVec(
		reporter.CounterOpts{
			Name: "packets_total",
			Help: "Packets received by the application.",
		},
		[]string{"listener", "worker", "exporter"},
	)
	l.metrics.packetSizeSum = r.SummaryVec(
		reporter.SummaryOpts{
			Name:       "size_bytes",
			Help:       "Summary of packet size.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"listener", "worker", "exporter"},
	)
	l.metrics.errors = r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Errors while receiving packets by the application.",
		},
		[]string{"listener", "worker", "error"},
	)
	l.metrics.inDrops = r.CounterVec(
		reporter.CounterOpts{
			Name: "in_dropped_packets_total",
			Help: "Dropped packets due to listen queue full.",
		},
		[]string{"listener", "worker"},
	)
	l.metrics.reopens = r.CounterVec(
		reporter.CounterOpts{
			Name: "socket_reopens_total",
			Help: "Number of sockets reopened after being closed unexpectedly.",
		},
		[]string{"listener", "worker"},
	)
	l.metrics.published = r.CounterVec(
		reporter.CounterOpts{
			Name: "published_records_total",
			Help: "Number of records handed to the publisher.",
		},
		[]string{"listener"},
	)
	l.metrics.rateLimited = r.CounterVec(
		reporter.CounterOpts{
			Name: "rate_limited_records_total",
			Help: "Number of records dropped by the rate limiter.",
		},
		[]string{"listener", "exporter"},
	)
	l.metrics.sources = r.GaugeVec(
		reporter.GaugeOpts{
			Name: "sources",
			Help: "Number of exporters with a transient state.",
		},
		[]string{"listener"},
	)
	l.metrics.expiredSources = r.CounterVec(
		reporter.CounterOpts{
			Name: "expired_sources_total",
			Help: "Number of exporters whose transient state expired.",
		},
		[]string{"listener"},
	)
	l.metrics.segments = r.CounterVec(
		reporter.CounterOpts{
			Name: "segments_total",
			Help: "Number of UDP-notif segments received.",
		},
		[]string{"listener"},
	)
	l.metrics.reassembled = r.CounterVec(
		reporter.CounterOpts{
			Name: "reassembled_messages_total",
			Help: "Number of UDP-notif messages reassembled from segments.",
		},
		[]string{"listener"},
	)
	l.metrics.reassemblyDrop = r.CounterVec(
		reporter.CounterOpts{
			Name: "reassembly_drops_total",
			Help: "Number of partial UDP-notif messages dropped.",
		},
		[]string{"listener", "reason"},
	)
	l.metrics.state = r.GaugeVec(
		reporter.GaugeOpts{
			Name: "state",
			Help: "State of the listener (0: starting, 1: running, 2: draining, 3: stopped).",
		},
		[]string{"listener"},
	)
	l.setState(Starting)

	if dependencies.Daemon != nil {
		dependencies.Daemon.Track(&l.t, "collector/listener")
	}
	return l, nil
}

// State returns the current state of the listener.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.state.WithLabelValues(l.config.Listen).Set(float64(s))
}

// Start opens the sockets and starts the workers.
func (l *Listener) Start() error {
	l.r.Info().Str("listen", l.config.Listen).Msg("starting UDP listener")
	if l.config.Interface != "" {
		l.r.Info().Str("interface", l.config.Interface).Msg("binding UDP listener to interface")
	}

	conns := []*net.UDPConn{}
	listenAddr := l.config.Listen
	for i := 0; i < l.config.Workers; i++ {
		conn, err := l.listen(listenAddr)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return err
		}
		if i == 0 {
			// Other workers listen to the same address (useful with :0).
			l.address = conn.LocalAddr()
			listenAddr = l.address.String()
			l.r.Info().Str("listen", listenAddr).Msg("UDP listener ready")
		}
		conns = append(conns, conn)
	}
	l.connsLock.Lock()
	l.conns = conns
	l.connsLock.Unlock()
	l.setState(Running)

	for i := 0; i < l.config.Workers; i++ {
		worker := i
		l.t.Go(func() error {
			return l.receive(worker)
		})
	}
	l.t.Go(l.sweep)
	l.r.RegisterHealthcheck("collector/listener/"+l.config.Listen,
		reporter.ChannelHealthcheck(l.t.Context(context.Background()), l.healthy))
	return nil
}

// Stop closes the sockets and waits for in-flight datagrams to be
// processed, up to the drain timeout.
func (l *Listener) Stop() error {
	logger := l.r.With().Str("listen", l.config.Listen).Logger()
	defer logger.Info().Msg("UDP listener stopped")
	l.connsLock.Lock()
	l.setState(Draining)
	for _, conn := range l.conns {
		conn.Close()
	}
	l.connsLock.Unlock()
	l.t.Kill(nil)

	done := make(chan error, 1)
	go func() {
		done <- l.t.Wait()
	}()
	timer := l.d.Clock.Timer(l.options.DrainTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		l.setState(Stopped)
		return err
	case <-timer.C:
		logger.Warn().Dur("timeout", l.options.DrainTimeout).Msg("in-flight datagrams discarded")
		l.setState(Stopped)
		return nil
	}
}

// LocalAddr returns the address the listener is bound to.
func (l *Listener) LocalAddr() net.Addr {
	return l.address
}

// Info describes a listener.
type Info struct {
	Listen    string   `json:"listen"`
	Address   string   `json:"address,omitempty"`
	Interface string   `json:"interface,omitempty"`
	Protocol  Protocol `json:"protocol"`
	Workers   int      `json:"workers"`
	State     State    `json:"state"`
	Sources   int      `json:"sources"`
}

// Info returns a description of the listener.
func (l *Listener) Info() Info {
	info := Info{
		Listen:    l.config.Listen,
		Interface: l.config.Interface,
		Protocol:  l.config.Protocol,
		Workers:   l.config.Workers,
		State:     l.State(),
		Sources:   l.Sources(),
	}
	if l.address != nil {
		info.Address = l.address.String()
	}
	return info
}

// listen opens a new socket.
func (l *Listener) listen(address string) (*net.UDPConn, error) {
	lc := listenConfig(l.config.Interface)
	pconn, err := lc.ListenPacket(l.t.Context(context.Background()), "udp", address)
	if err != nil {
		return nil, fmt.Errorf("unable to listen to %v: %w", address, err)
	}
	conn := pconn.(*net.UDPConn)
	if l.config.ReceiveBuffer > 0 {
		if err := conn.SetReadBuffer(int(l.config.ReceiveBuffer)); err != nil {
			// On Linux, this does not trigger an error when we are above net.core.rmem_max.
			l.r.Warn().
				Err(err).
				Str("listen", l.config.Listen).
				Msgf("unable to set requested buffer size (%d bytes)", l.config.ReceiveBuffer)
		}
	}
	return conn, nil
}

// conn returns the socket of a worker.
func (l *Listener) conn(worker int) *net.UDPConn {
	l.connsLock.Lock()
	defer l.connsLock.Unlock()
	return l.conns[worker]
}

// reopen replaces the socket of a worker. It fails when the listener
// is not running anymore.
func (l *Listener) reopen(worker int) error {
	conn, err := l.listen(l.address.String())
	if err != nil {
		return err
	}
	l.connsLock.Lock()
	defer l.connsLock.Unlock()
	if l.State() != Running {
		conn.Close()
		return net.ErrClosed
	}
	l.conns[worker] = conn
	l.metrics.reopens.WithLabelValues(l.config.Listen, strconv.Itoa(worker)).Inc()
	return nil
}

// receive is the main loop of a worker.
func (l *Listener) receive(worker int) error {
	workerStr := strconv.Itoa(worker)
	listen := l.config.Listen
	payload := make([]byte, maxDatagramSize)
	oob := make([]byte, oobLength)
	var drops uint32
	dying := l.t.Dying()
	for {
		n, oobn, _, source, err := l.conn(worker).ReadMsgUDPAddrPort(payload, oob)
		if err != nil {
			if l.State() != Running {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				l.errLogger.Warn().Str("worker", workerStr).Msg("socket closed unexpectedly, reopening")
				if err := l.reopen(worker); err != nil {
					if l.State() != Running {
						return nil
					}
					l.errLogger.Err(err).Str("worker", workerStr).Msg("unable to reopen socket")
					l.metrics.errors.WithLabelValues(listen, workerStr, "reopen").Inc()
					select {
					case <-dying:
						return nil
					case <-l.d.Clock.After(time.Second):
					}
				}
				continue
			}
			l.errLogger.Err(err).Str("worker", workerStr).Msg("unable to receive UDP packet")
			l.metrics.errors.WithLabelValues(listen, workerStr, "receive").Inc()
			select {
			case <-dying:
				return nil
			case <-l.d.Clock.After(receiveErrorDelay):
			}
			continue
		}

		oobMsg, err := parseSocketControlMessage(oob[:oobn])
		if err != nil {
			l.errLogger.Err(err).Str("worker", workerStr).Msg("unable to decode UDP control message")
			l.metrics.errors.WithLabelValues(listen, workerStr, "control-message").Inc()
		} else if oobMsg.Drops != drops {
			l.metrics.inDrops.WithLabelValues(listen, workerStr).Add(float64(oobMsg.Drops - drops))
			drops = oobMsg.Drops
		}

		exporter := source.Addr().Unmap()
		exporterStr := exporter.String()
		l.metrics.bytes.WithLabelValues(listen, workerStr, exporterStr).Add(float64(n))
		l.metrics.packets.WithLabelValues(listen, workerStr, exporterStr).Inc()
		l.metrics.packetSizeSum.WithLabelValues(listen, workerStr, exporterStr).Observe(float64(n))

		l.handle(workerStr, exporter, payload[:n])
	}
}

// handle decodes one datagram and publishes the resulting records.
func (l *Listener) handle(worker string, exporter netip.Addr, payload []byte) {
	now := l.d.Clock.Now()
	src := l.touch(exporter, now)

	var records []decoder.Record
	switch l.config.Protocol {
	case ProtocolFlow:
		records, _, _ = l.d.Decoder.DecodePayload(exporter, payload)
	case ProtocolUDPNotif:
		n, err := wire.DecodeNotification(payload)
		if err != nil {
			l.errLogger.Err(err).Str("exporter", exporter.String()).Msg("cannot decode UDP-notif message")
			l.metrics.errors.WithLabelValues(l.config.Listen, worker, "notification").Inc()
			return
		}
		if n.Segment != nil {
			l.metrics.segments.WithLabelValues(l.config.Listen).Inc()
		}
		complete, ok, err := src.reassemble(n, now)
		if err != nil {
			l.errLogger.Err(err).Str("exporter", exporter.String()).Msg("cannot reassemble UDP-notif message")
			l.metrics.reassemblyDrop.WithLabelValues(l.config.Listen, "invalid").Inc()
			return
		}
		if !ok {
			return
		}
		if n.Segment != nil {
			l.metrics.reassembled.WithLabelValues(l.config.Listen).Inc()
		}
		records = []decoder.Record{l.d.Decoder.DecodeNotification(exporter, complete)}
	}
	if len(records) == 0 {
		return
	}
	if !src.allow(len(records), now) {
		l.metrics.rateLimited.WithLabelValues(l.config.Listen, exporter.String()).Add(float64(len(records)))
		return
	}
	l.d.Publisher.Publish(records)
	l.metrics.published.WithLabelValues(l.config.Listen).Add(float64(len(records)))
}

// sweep periodically drops the transient state of silent exporters.
// It also answers healthchecks.
func (l *Listener) sweep() error {
	interval := l.options.SubscriberTimeout / 2
	if interval <= 0 {
		interval = l.options.SubscriberTimeout
	}
	ticker := l.d.Clock.Ticker(interval)
	defer ticker.Stop()
	dying := l.t.Dying()
	for {
		select {
		case <-dying:
			return nil
		case cb, ok := <-l.healthy:
			if ok {
				if state := l.State(); state == Running {
					cb(reporter.HealthcheckOK, "ok")
				} else {
					cb(reporter.HealthcheckWarning, state.String())
				}
			}
		case <-ticker.C:
			l.expireSources(l.d.Clock.Now())
		}
	}
}

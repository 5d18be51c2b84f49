// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package daemon handles daemon-related operations. It terminates the
// collector on SIGINT/SIGTERM or when one of the tracked components
// dies.
package daemon

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/tomb.v2"

	"flowpipe/common/reporter"
)

// Component is the interface the daemon component provides.
type Component interface {
	Start() error
	Stop() error
	Track(t *tomb.Tomb, who string)

	// Terminated returns a channel closed when the daemon should exit.
	Terminated() <-chan struct{}
	// Terminate requests the termination of the daemon.
	Terminate()
}

// lifecycle is the termination part shared by the real and the mock
// components.
type lifecycle struct {
	terminated chan struct{}
	once       sync.Once
}

func newLifecycle() lifecycle {
	return lifecycle{terminated: make(chan struct{})}
}

func (l *lifecycle) Terminated() <-chan struct{} {
	return l.terminated
}

func (l *lifecycle) Terminate() {
	l.once.Do(func() { close(l.terminated) })
}

type trackedTomb struct {
	tomb   *tomb.Tomb
	origin string
}

// realComponent is the non-mock implementation of Component.
type realComponent struct {
	r     *reporter.Reporter
	tombs []trackedTomb
	lifecycle
}

// New creates a new daemon component.
func New(r *reporter.Reporter) (Component, error) {
	return &realComponent{
		r:         r,
		lifecycle: newLifecycle(),
	}, nil
}

// Start watches tracked tombs and signals.
func (c *realComponent) Start() error {
	for _, t := range c.tombs {
		go func(t trackedTomb) {
			select {
			case <-t.tomb.Dying():
			case <-c.Terminated():
				return
			}
			if err := t.tomb.Err(); err != nil {
				c.r.Err(err).Str("component", t.origin).Msg("component error, quitting")
			} else {
				c.r.Debug().Str("component", t.origin).Msg("component shutting down, quitting")
			}
			c.Terminate()
		}(t)
	}

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(signals)
		select {
		case s := <-signals:
			c.r.Info().Stringer("signal", s).Msg("signal received, quitting")
			c.Terminate()
		case <-c.Terminated():
		}
	}()
	return nil
}

// Stop stops the component.
func (c *realComponent) Stop() error {
	c.Terminate()
	return nil
}

// Track adds a new tomb to watch. It should be called before Start().
func (c *realComponent) Track(t *tomb.Tomb, who string) {
	c.tombs = append(c.tombs, trackedTomb{tomb: t, origin: who})
}

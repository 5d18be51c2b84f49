// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package core

import (
	"time"

	"flowpipe/collector/listener"
	"flowpipe/common/helpers"
)

// Configuration describes the configuration for the core component.
type Configuration struct {
	// Threads is the number of OS threads executing Go code. 0 keeps
	// the default (the number of CPUs).
	Threads int `validate:"min=0"`
	// Listeners are the UDP endpoints receiving telemetry.
	Listeners []listener.Configuration `validate:"dive"`
	// Flow defines timeouts related to exporter state.
	Flow FlowConfiguration
}

// FlowConfiguration defines how long the state of exporters is kept.
type FlowConfiguration struct {
	// SubscriberTimeout is the duration after which the transient
	// state of a silent exporter is dropped. Templates are not
	// affected.
	SubscriberTimeout time.Duration `validate:"min=1s"`
	// TemplateCachePurgeTimeout is the duration after which a template
	// not seen again is removed.
	TemplateCachePurgeTimeout time.Duration `validate:"min=1s"`
	// DrainTimeout is the grace period for listeners to process
	// in-flight datagrams on shutdown.
	DrainTimeout time.Duration `validate:"min=0"`
}

// DefaultConfiguration represents the default configuration for the
// core component.
func DefaultConfiguration() Configuration {
	return Configuration{
		Listeners: []listener.Configuration{listener.DefaultConfiguration()},
		Flow: FlowConfiguration{
			SubscriberTimeout:         5 * time.Minute,
			TemplateCachePurgeTimeout: 30 * time.Minute,
			DrainTimeout:              5 * time.Second,
		},
	}
}

func init() {
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.DefaultValuesUnmarshallerHook(listener.DefaultConfiguration()))
}

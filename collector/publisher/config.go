// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import (
	"time"

	"flowpipe/collector/publisher/sink"
	"flowpipe/collector/publisher/sink/http"
	"flowpipe/collector/publisher/sink/kafka"
	"flowpipe/common/helpers"
)

// Configuration describes the configuration for the publisher.
type Configuration struct {
	// Groups are the publisher groups. Each group receives a copy of
	// every record.
	Groups []GroupConfiguration `validate:"dive"`
	// FlushInterval is the maximum time records wait in an endpoint
	// before being batched.
	FlushInterval time.Duration `validate:"min=1ms"`
	// MaxRetries is the number of times a batch is retried before
	// being dropped.
	MaxRetries int `validate:"min=0"`
	// RetryInterval is the initial delay before retrying a batch.
	RetryInterval time.Duration `validate:"min=1ms"`
	// MaxRetryInterval is the maximum delay before retrying a batch.
	MaxRetryInterval time.Duration `validate:"gtefield=RetryInterval"`
	// DrainTimeout is the grace period to deliver the remaining
	// batches on shutdown.
	DrainTimeout time.Duration `validate:"min=0"`
}

// DefaultConfiguration represents the default configuration for the
// publisher.
func DefaultConfiguration() Configuration {
	return Configuration{
		FlushInterval:    time.Second,
		MaxRetries:       3,
		RetryInterval:    100 * time.Millisecond,
		MaxRetryInterval: 10 * time.Second,
		DrainTimeout:     5 * time.Second,
	}
}

// GroupConfiguration describes a publisher group.
type GroupConfiguration struct {
	// Name is the name of the group.
	Name string `validate:"required"`
	// BufferSize is the number of batches each endpoint of the group
	// can hold before dropping the oldest one.
	BufferSize int `validate:"min=1"`
	// Flatten puts the fields of the records at the top level.
	Flatten bool
	// Fields are the output fields computed from each record. When
	// not empty, they replace the fields of the records.
	Fields map[string]sink.FieldConfiguration `validate:"dive"`
	// Filter restricts the records sent to this group. An empty
	// filter accepts every record.
	Filter FilterRule
	// Endpoints are the members of the group. Batches are sent to
	// them in a round-robin fashion.
	Endpoints []EndpointConfiguration `validate:"min=1,dive"`
}

// DefaultGroupConfiguration represents the default configuration for a
// publisher group.
func DefaultGroupConfiguration() GroupConfiguration {
	return GroupConfiguration{
		BufferSize: 1000,
	}
}

// EndpointConfiguration describes an endpoint of a group. The type of
// the endpoint selects the sink configuration.
type EndpointConfiguration struct {
	// Name is the name of the endpoint.
	Name string `validate:"required"`
	// WriterID identifies this collector to the endpoint. When empty,
	// a random identifier is used.
	WriterID string
	// BatchSize is the number of records in a full batch.
	BatchSize int `validate:"min=1"`
	// Config is the configuration of the sink.
	Config sink.Configuration
}

// DefaultEndpointConfiguration represents the default configuration
// for an endpoint.
func DefaultEndpointConfiguration() EndpointConfiguration {
	return EndpointConfiguration{
		BatchSize: 100,
	}
}

// MarshalYAML undoes ConfigurationUnmarshallerHook().
func (ec EndpointConfiguration) MarshalYAML() (any, error) {
	return helpers.ParametrizedConfigurationMarshalYAML(ec, sinks)
}

var sinks = map[string](func() sink.Configuration){
	"http":  http.DefaultConfiguration,
	"kafka": kafka.DefaultConfiguration,
}

func init() {
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.DefaultValuesUnmarshallerHook(DefaultGroupConfiguration()))
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.DefaultValuesUnmarshallerHook(DefaultEndpointConfiguration()))
	helpers.RegisterMapstructureUnmarshallerHook(
		helpers.ParametrizedConfigurationUnmarshallerHook(EndpointConfiguration{}, sinks))
}

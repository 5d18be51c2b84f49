// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package http

import (
	"time"

	"flowpipe/collector/publisher/sink"
	"flowpipe/common/helpers"
)

// Configuration describes the configuration of an HTTP sink.
type Configuration struct {
	// URL is where batches are POSTed.
	URL string `validate:"required,httpurl"`
	// Timeout is the timeout for one delivery.
	Timeout time.Duration `validate:"min=0"`
	// Headers are additional headers sent with each request.
	Headers map[string]string
	// TLS defines the TLS configuration for HTTPS.
	TLS helpers.TLSConfiguration
	// BreakerErrors is the number of consecutive errors opening the
	// circuit breaker.
	BreakerErrors int `validate:"min=1"`
	// BreakerTimeout is how long the circuit breaker stays open.
	BreakerTimeout time.Duration `validate:"min=0"`
}

// DefaultConfiguration represents the default configuration for an
// HTTP sink.
func DefaultConfiguration() sink.Configuration {
	return &Configuration{
		Timeout:        10 * time.Second,
		BreakerErrors:  5,
		BreakerTimeout: 30 * time.Second,
	}
}

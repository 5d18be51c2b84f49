// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package templates

// Configuration describes the configuration for the template store.
type Configuration struct {
	// Shards is the number of independently locked partitions.
	// Exporter sessions are spread over them.
	Shards int `validate:"min=1,max=4096"`
}

// DefaultConfiguration represents the default configuration for the
// template store.
func DefaultConfiguration() Configuration {
	return Configuration{
		Shards: 64,
	}
}

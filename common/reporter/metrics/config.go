// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package metrics

// Configuration is the configuration for the metrics subsystem.
type Configuration struct {
	// RuntimeCollectors enables Go runtime and process collectors.
	RuntimeCollectors bool
}

// DefaultConfiguration is the default metrics configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		RuntimeCollectors: true,
	}
}

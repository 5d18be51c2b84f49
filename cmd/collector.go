// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowpipe/collector/core"
	"flowpipe/collector/decoder"
	"flowpipe/collector/publisher"
	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/common/daemon"
	"flowpipe/common/httpserver"
	"flowpipe/common/reporter"
)

// CollectorConfiguration represents the configuration file for the
// collector command.
type CollectorConfiguration struct {
	Reporting reporter.Configuration
	HTTP      httpserver.Configuration
	Registry  registry.Configuration
	Templates templates.Configuration
	Core      core.Configuration `mapstructure:",squash" yaml:",inline"`
	Publisher publisher.Configuration
}

// Reset resets the configuration for the collector command to its
// default value.
func (c *CollectorConfiguration) Reset() {
	*c = CollectorConfiguration{
		Reporting: reporter.DefaultConfiguration(),
		HTTP:      httpserver.DefaultConfiguration(),
		Registry:  registry.DefaultConfiguration(),
		Templates: templates.DefaultConfiguration(),
		Core:      core.DefaultConfiguration(),
		Publisher: publisher.DefaultConfiguration(),
	}
}

type collectorOptions struct {
	ConfigRelatedOptions
	CheckMode bool
}

// CollectorOptions stores the command-line option values for the
// collector command.
var CollectorOptions collectorOptions

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Start the flow collector",
	Long: `flowpipe receives IPFIX, NetFlow v9 and UDP-notif datagrams, decodes
them using the templates announced by exporters and publishes the
records to HTTP or Kafka endpoints.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := CollectorConfiguration{}
		CollectorOptions.Path = args[0]
		if err := CollectorOptions.Parse(cmd.OutOrStdout(), "collector", &config); err != nil {
			return err
		}

		r, err := reporter.New(config.Reporting)
		if err != nil {
			return fmt.Errorf("unable to initialize reporter: %w", err)
		}
		return collectorStart(r, config, CollectorOptions.CheckMode)
	},
}

func init() {
	RootCmd.AddCommand(collectorCmd)
	collectorCmd.Flags().BoolVarP(&CollectorOptions.ConfigRelatedOptions.Dump, "dump", "D", false,
		"Dump configuration before starting")
	collectorCmd.Flags().BoolVarP(&CollectorOptions.CheckMode, "check", "C", false,
		"Check configuration, but does not start")
}

func collectorStart(r *reporter.Reporter, config CollectorConfiguration, checkOnly bool) error {
	// Initialize the various components
	daemonComponent, err := daemon.New(r)
	if err != nil {
		return fmt.Errorf("unable to initialize daemon component: %w", err)
	}
	httpComponent, err := httpserver.New(r, config.HTTP, httpserver.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize http component: %w", err)
	}
	registryComponent, err := registry.New(r, config.Registry)
	if err != nil {
		return fmt.Errorf("unable to initialize registry: %w", err)
	}
	templatesComponent, err := templates.New(r, config.Templates)
	if err != nil {
		return fmt.Errorf("unable to initialize template store: %w", err)
	}
	decoderComponent, err := decoder.New(r, decoder.Dependencies{
		Registry:  registryComponent,
		Templates: templatesComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize decoder: %w", err)
	}
	publisherComponent, err := publisher.New(r, config.Publisher, publisher.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize publisher component: %w", err)
	}
	coreComponent, err := core.New(r, config.Core, core.Dependencies{
		Daemon:    daemonComponent,
		HTTP:      httpComponent,
		Registry:  registryComponent,
		Templates: templatesComponent,
		Decoder:   decoderComponent,
		Publisher: publisherComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize core component: %w", err)
	}

	// Expose some informations and metrics
	addCommonHTTPHandlers(r, "collector", httpComponent)
	versionMetrics(r)

	// If we only asked for a check, stop here.
	if checkOnly {
		return nil
	}

	// Start all the components. They are stopped in reverse order:
	// listeners drain into the publisher before it flushes its
	// endpoints.
	components := []any{
		httpComponent,
		publisherComponent,
		coreComponent,
	}
	return StartStopComponents(r, daemonComponent, components)
}

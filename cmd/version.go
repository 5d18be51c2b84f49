// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"net/http"
	"runtime"
	runtimedebug "runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"flowpipe/collector/registry"
	"flowpipe/common/reporter"
)

var (
	// Version contains the current version.
	Version = "dev"
	// BuildDate contains a string with the build date.
	BuildDate = "unknown"
)

func init() {
	RootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Long:  `Display version and build information about flowpipe.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.Printf("flowpipe %s\n", Version)
		cmd.Printf("  Build date: %s\n", BuildDate)
		cmd.Printf("  Built with: %s\n", runtime.Version())
		if info, ok := runtimedebug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if strings.HasPrefix(setting.Key, "GO") {
					cmd.Printf("  Build setting %s=%s\n", setting.Key, setting.Value)
				}
			}
		}
		cmd.Println()

		r, err := reporter.New(reporter.DefaultConfiguration())
		if err != nil {
			return err
		}
		reg, err := registry.New(r, registry.DefaultConfiguration())
		if err != nil {
			return err
		}
		cmd.Printf("Known information elements: %d\n", reg.Len())
		return nil
	},
}

func versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    Version,
		"build-date": BuildDate,
		"compiler":   runtime.Version(),
	})
}

func versionMetrics(r *reporter.Reporter) {
	r.GaugeVec(reporter.GaugeOpts{
		Name: "info",
		Help: "flowpipe build information",
	}, []string{"version", "build_date", "compiler"}).
		WithLabelValues(Version, BuildDate, runtime.Version()).Set(1)
}

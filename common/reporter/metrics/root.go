// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics handles metrics for flowpipe.
//
// This is a wrapper around Prometheus Go client. Each metric is
// prefixed by the name of the package registering it.
package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowpipe/common/reporter/logger"
	"flowpipe/common/reporter/stack"
)

// Metrics represents the internal state of the metric subsystem.
type Metrics struct {
	logger    logger.Logger
	config    Configuration
	registry  *prometheus.Registry
	factories sync.Map // function name → *Factory
}

// New creates a new metric registry.
func New(logger logger.Logger, configuration Configuration) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if configuration.RuntimeCollectors {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}
	return &Metrics{
		logger:   logger,
		config:   configuration,
		registry: reg,
	}, nil
}

// HTTPHandler returns an handler to serve Prometheus metrics.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: promHTTPLogger{m.logger},
	})
}

// prefixFor turns a fully-qualified function name into a metric
// prefix: "flowpipe/collector/listener.(*Component).Start" becomes
// "flowpipe_collector_listener_". Functions outside our module get
// the module name alone.
func prefixFor(function string) string {
	module := stack.ModuleName
	if strings.HasPrefix(function, stack.ModuleName) {
		module, _, _ = strings.Cut(function, ".")
	}
	return strings.NewReplacer("/", "_", ".", "_").Replace(module) + "_"
}

func (m *Metrics) callerPrefix(skipCallstack int) (string, string) {
	// Callers() skips itself, +1 for this function, +1 for our caller.
	function := stack.Callers()[2+skipCallstack].FunctionName()
	return function, prefixFor(function)
}

// Factory returns a factory to register new metrics. Registered
// metrics are prefixed with the module of the caller, skipping
// skipCallstack frames. Factories are cached per calling function.
func (m *Metrics) Factory(skipCallstack int) *Factory {
	function, prefix := m.callerPrefix(skipCallstack)
	if factory, ok := m.factories.Load(function); ok {
		return factory.(*Factory)
	}
	factory, _ := m.factories.LoadOrStore(function, &Factory{
		prefix:   prefix,
		registry: m.registry,
	})
	return factory.(*Factory)
}

// Desc allocates a new metric description prefixed with the module name.
func (m *Metrics) Desc(skipCallstack int, name, help string, variableLabels []string) *prometheus.Desc {
	_, prefix := m.callerPrefix(skipCallstack)
	return prometheus.NewDesc(prefix+name, help, variableLabels, nil)
}

// Collector registers a custom collector as is.
func (m *Metrics) Collector(c prometheus.Collector) {
	m.registry.MustRegister(c)
}

// CollectorWithLabels registers a custom collector as is, adding the
// provided constant labels to each metric.
func (m *Metrics) CollectorWithLabels(labels prometheus.Labels, c prometheus.Collector) {
	prometheus.WrapRegistererWith(labels, m.registry).MustRegister(c)
}

// CollectorForCurrentModule registers a custom collector and prefixes
// everything with the module name.
func (m *Metrics) CollectorForCurrentModule(skipCallstack int, c prometheus.Collector) {
	_, prefix := m.callerPrefix(skipCallstack)
	prometheus.WrapRegistererWithPrefix(prefix, m.registry).MustRegister(c)
}

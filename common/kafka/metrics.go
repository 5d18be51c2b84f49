// SPDX-FileCopyrightText: 2024 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"

	"flowpipe/common/reporter"
)

// Metrics exports the go-metrics registry of a Sarama client (broker
// and producer metrics) as Prometheus metrics.
type Metrics struct {
	registry gometrics.Registry

	incomingByteRate  *reporter.MetricDesc
	outgoingByteRate  *reporter.MetricDesc
	requestRate       *reporter.MetricDesc
	requestLatency    *reporter.MetricDesc
	requestsInFlight  *reporter.MetricDesc
	batchSize         *reporter.MetricDesc
	recordSendRate    *reporter.MetricDesc
	recordsPerRequest *reporter.MetricDesc
	compressionRatio  *reporter.MetricDesc
}

// NewMetrics registers a collector exporting the metrics of the
// provided go-metrics registry. The provided labels are added to each
// metric to distinguish several clients.
func NewMetrics(r *reporter.Reporter, registry gometrics.Registry, labels map[string]string) *Metrics {
	m := &Metrics{registry: registry}
	m.incomingByteRate = r.MetricDesc("brokers_incoming_byte_rate",
		"Bytes/second read off a given broker.", []string{"broker"})
	m.outgoingByteRate = r.MetricDesc("brokers_outgoing_byte_rate",
		"Bytes/second written off a given broker.", []string{"broker"})
	m.requestRate = r.MetricDesc("brokers_request_rate",
		"Requests/second sent to a given broker.", []string{"broker"})
	m.requestLatency = r.MetricDesc("brokers_request_latency_ms",
		"Distribution of the request latency in ms for a given broker.", []string{"broker"})
	m.requestsInFlight = r.MetricDesc("brokers_inflight_requests",
		"The current number of in-flight requests awaiting a response for a given broker.", []string{"broker"})
	m.batchSize = r.MetricDesc("producer_batch_bytes",
		"Distribution of the number of bytes sent per partition per request.", nil)
	m.recordSendRate = r.MetricDesc("producer_record_send_rate",
		"Records/second sent.", nil)
	m.recordsPerRequest = r.MetricDesc("producer_records_per_request",
		"Distribution of the number of records sent per request.", nil)
	m.compressionRatio = r.MetricDesc("producer_compression_ratio",
		"Distribution of the compression ratio times 100 of record batches.", nil)
	r.MetricCollectorWithLabels(labels, m)
	return m
}

// Describe collected metrics
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		m.incomingByteRate, m.outgoingByteRate, m.requestRate,
		m.requestLatency, m.requestsInFlight, m.batchSize,
		m.recordSendRate, m.recordsPerRequest, m.compressionRatio,
	} {
		ch <- desc
	}
}

// Collect metrics
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	perBroker := map[string]func(*reporter.MetricDesc, interface{}, string){
		"incoming-byte-rate":    func(d *reporter.MetricDesc, g interface{}, b string) { gomMeter(ch, d, g, b) },
		"outgoing-byte-rate":    func(d *reporter.MetricDesc, g interface{}, b string) { gomMeter(ch, d, g, b) },
		"request-rate":          func(d *reporter.MetricDesc, g interface{}, b string) { gomMeter(ch, d, g, b) },
		"request-latency-in-ms": func(d *reporter.MetricDesc, g interface{}, b string) { gomHistogram(ch, d, g, b) },
		"requests-in-flight":    func(d *reporter.MetricDesc, g interface{}, b string) { gomCounter(ch, d, g, b) },
	}
	descs := map[string]*reporter.MetricDesc{
		"incoming-byte-rate":    m.incomingByteRate,
		"outgoing-byte-rate":    m.outgoingByteRate,
		"request-rate":          m.requestRate,
		"request-latency-in-ms": m.requestLatency,
		"requests-in-flight":    m.requestsInFlight,
	}
	m.registry.Each(func(name string, gom interface{}) {
		if metric, broker, ok := strings.Cut(name, "-for-broker-"); ok {
			if collect, ok := perBroker[metric]; ok {
				collect(descs[metric], gom, broker)
			}
			return
		}
		switch name {
		case "batch-size":
			gomHistogram(ch, m.batchSize, gom)
		case "record-send-rate":
			gomMeter(ch, m.recordSendRate, gom)
		case "records-per-request":
			gomHistogram(ch, m.recordsPerRequest, gom)
		case "compression-ratio":
			gomHistogram(ch, m.compressionRatio, gom)
		}
	})
}

func gomMeter(ch chan<- prometheus.Metric, desc *reporter.MetricDesc, m interface{}, labels ...string) {
	meter, ok := m.(gometrics.Meter)
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, meter.Snapshot().Rate1(), labels...)
}

func gomCounter(ch chan<- prometheus.Metric, desc *reporter.MetricDesc, m interface{}, labels ...string) {
	counter, ok := m.(gometrics.Counter)
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(counter.Snapshot().Count()), labels...)
}

func gomHistogram(ch chan<- prometheus.Metric, desc *reporter.MetricDesc, m interface{}, labels ...string) {
	histogram, ok := m.(gometrics.Histogram)
	if !ok {
		return
	}
	snap := histogram.Snapshot()
	buckets := map[float64]uint64{
		0.5:  uint64(snap.Percentile(0.5)),
		0.9:  uint64(snap.Percentile(0.9)),
		0.99: uint64(snap.Percentile(0.99)),
	}
	ch <- prometheus.MustNewConstHistogram(desc, uint64(snap.Count()), float64(snap.Sum()), buckets, labels...)
}

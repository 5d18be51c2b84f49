// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowpipe/collector/listener"
	"flowpipe/collector/publisher"
	"flowpipe/collector/publisher/sink/http"
	"flowpipe/collector/publisher/sink/kafka"
	"flowpipe/common/helpers"
	"flowpipe/common/helpers/yaml"
	"flowpipe/common/reporter"
)

func TestCollectorStart(t *testing.T) {
	r := reporter.NewMock(t)
	config := CollectorConfiguration{}
	config.Reset()
	if err := collectorStart(r, config, true); err != nil {
		t.Fatalf("collectorStart() error:\n%+v", err)
	}
}

func TestCollector(t *testing.T) {
	root := RootCmd
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"collector", "--check", "/dev/null"})
	err := root.Execute()
	if err != nil {
		t.Errorf("`collector` error:\n%+v", err)
	}
}

func TestCollectorConfiguration(t *testing.T) {
	config := `---
http:
  listen: 127.0.0.1:0
listeners:
  - listen: 127.0.0.1:0
    workers: 2
  - listen: 127.0.0.1:0
    protocol: udp-notif
flow:
  template-cache-purge-timeout: 1h
registry:
  elements:
    - enterprise-id: 9
      id: 12235
      name: ciscoApplicationName
      type: string
publisher:
  flush-interval: 2s
  groups:
    - name: archive
      endpoints:
        - name: collector
          type: http
          url: http://127.0.0.1:9999/ingest
    - name: bus
      flatten: true
      filter: 'Protocol == "ipfix"'
      endpoints:
        - name: kafka
          type: kafka
          topic: flows
          brokers: 127.0.0.1:9092
`
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(config), 0o644); err != nil {
		t.Fatalf("WriteFile() error:\n%+v", err)
	}
	t.Setenv("FLOWPIPE_COLLECTOR_PUBLISHER_MAXRETRIES", "7")

	options := ConfigRelatedOptions{Path: configFile, Dump: true}
	parsed := CollectorConfiguration{}
	out := new(bytes.Buffer)
	if err := options.Parse(out, "collector", &parsed); err != nil {
		t.Fatalf("Parse() error:\n%+v", err)
	}

	if diff := helpers.Diff(parsed.Core.Listeners, []listener.Configuration{
		{Listen: "127.0.0.1:0", Workers: 2, Protocol: listener.ProtocolFlow},
		{Listen: "127.0.0.1:0", Workers: 1, Protocol: listener.ProtocolUDPNotif},
	}); diff != "" {
		t.Errorf("Parse() listeners (-got, +want):\n%s", diff)
	}
	if parsed.Core.Flow.TemplateCachePurgeTimeout != time.Hour {
		t.Errorf("Parse() template purge timeout = %s", parsed.Core.Flow.TemplateCachePurgeTimeout)
	}
	if parsed.Core.Flow.SubscriberTimeout != 5*time.Minute {
		t.Errorf("Parse() subscriber timeout = %s", parsed.Core.Flow.SubscriberTimeout)
	}
	if parsed.Publisher.MaxRetries != 7 || parsed.Publisher.FlushInterval != 2*time.Second {
		t.Errorf("Parse() publisher = %+v", parsed.Publisher)
	}
	if len(parsed.Registry.Elements) != 1 || parsed.Registry.Elements[0].Name != "ciscoApplicationName" {
		t.Errorf("Parse() registry = %+v", parsed.Registry)
	}
	groups := parsed.Publisher.Groups
	if len(groups) != 2 {
		t.Fatalf("Parse() got %d groups, expected 2", len(groups))
	}
	archive := groups[0].Endpoints[0]
	if cfg, ok := archive.Config.(*http.Configuration); !ok || cfg.URL != "http://127.0.0.1:9999/ingest" {
		t.Errorf("Parse() archive endpoint = %+v", archive.Config)
	}
	if archive.BatchSize != publisher.DefaultEndpointConfiguration().BatchSize {
		t.Errorf("Parse() archive batch size = %d", archive.BatchSize)
	}
	bus := groups[1].Endpoints[0]
	if cfg, ok := bus.Config.(*kafka.Configuration); !ok || cfg.Topic != "flows" ||
		len(cfg.Brokers) != 1 || cfg.Version != kafka.DefaultConfiguration().(*kafka.Configuration).Version {
		t.Errorf("Parse() bus endpoint = %+v", bus.Config)
	}
	if !groups[1].Flatten || groups[1].Filter.String() != `Protocol == "ipfix"` {
		t.Errorf("Parse() bus group = %+v", groups[1])
	}

	// The dump can be parsed again.
	var dumped map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &dumped); err != nil {
		t.Fatalf("Unmarshal() error:\n%+v", err)
	}
	for _, key := range []string{"reporting", "http", "registry", "templates", "listeners", "flow", "publisher"} {
		if _, ok := dumped[key]; !ok {
			t.Errorf("dump does not contain %q", key)
		}
	}
}

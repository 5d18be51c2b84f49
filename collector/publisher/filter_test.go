// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import (
	"net/netip"
	"testing"

	"flowpipe/collector/decoder"
	"flowpipe/common/helpers"
)

func TestFilterMatch(t *testing.T) {
	record := decoder.Record{
		Protocol:            decoder.ProtocolIPFIX,
		Exporter:            netip.MustParseAddr("192.0.2.1"),
		ObservationDomainID: 10,
		TemplateID:          256,
		Scopes: []decoder.Field{
			{Name: "lineCardId", Value: uint64(3)},
		},
		Fields: []decoder.Field{
			{Name: "destinationIPv4Address", Value: netip.MustParseAddr("10.0.0.2")},
			{Name: "octetDeltaCount", Value: uint64(1500)},
			{Name: "interfaceName", Value: "eth0"},
		},
	}
	cases := []struct {
		Pos      helpers.Pos
		Filter   string
		Expected bool
		Error    bool
	}{
		{helpers.Mark(), "", true, false},
		{helpers.Mark(), `Protocol == "ipfix"`, true, false},
		{helpers.Mark(), `Protocol == "netflow9"`, false, false},
		{helpers.Mark(), `Exporter == "192.0.2.1"`, true, false},
		{helpers.Mark(), `ObservationDomainID == 10 && TemplateID == 256`, true, false},
		{helpers.Mark(), `Fields.octetDeltaCount > 1000`, true, false},
		{helpers.Mark(), `Fields.octetDeltaCount > 2000`, false, false},
		{helpers.Mark(), `Fields.lineCardId == 3`, true, false},
		{helpers.Mark(), `Fields.interfaceName startsWith "eth"`, true, false},
		{helpers.Mark(), `"octetDeltaCount" in Fields`, true, false},
		{helpers.Mark(), `"packetDeltaCount" in Fields`, false, false},
		{helpers.Mark(), `Fields.packetDeltaCount > 10`, false, true},
	}
	for _, tc := range cases {
		fr := mustFilter(t, tc.Filter)
		got, err := fr.Match(record)
		switch {
		case err != nil && tc.Error:
			continue
		case err != nil:
			t.Errorf("%sMatch(%q) error:\n%+v", tc.Pos, tc.Filter, err)
		case tc.Error:
			t.Errorf("%sMatch(%q) did not error", tc.Pos, tc.Filter)
		case got != tc.Expected:
			t.Errorf("%sMatch(%q) = %v, expected %v", tc.Pos, tc.Filter, got, tc.Expected)
		}
	}
}

func TestFilterCompile(t *testing.T) {
	for _, source := range []string{
		"Protocol ==",
		"Unknown == 1",
		`Protocol + 1`,
	} {
		var fr FilterRule
		if err := fr.UnmarshalText([]byte(source)); err == nil {
			t.Errorf("UnmarshalText(%q) did not error", source)
		}
	}
}

func TestFilterText(t *testing.T) {
	fr := mustFilter(t, `Protocol == "ipfix"`)
	text, err := fr.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error:\n%+v", err)
	}
	if string(text) != `Protocol == "ipfix"` {
		t.Errorf("MarshalText() = %q", text)
	}
	if err := fr.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText() error:\n%+v", err)
	}
	if !fr.Equal(FilterRule{}) {
		t.Errorf("UnmarshalText(nil) did not reset the filter")
	}
}

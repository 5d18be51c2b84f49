// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"testing"

	"github.com/netsampler/goflow2/v2/decoders/netflow"

	"flowpipe/common/helpers"
)

// Messages produced by the encoder are decoded by goflow2 as a
// reference implementation.

func TestIPFIXEncodeWithGoflow2(t *testing.T) {
	template := TemplateRecord{
		ID: 256,
		Fields: []FieldSpecifier{
			{ID: netflow.IPFIX_FIELD_sourceIPv4Address, Length: 4},
			{ID: netflow.IPFIX_FIELD_destinationIPv4Address, Length: 4},
			{ID: netflow.IPFIX_FIELD_octetDeltaCount, Length: 8},
			{ID: netflow.IPFIX_FIELD_applicationName, Length: VariableLength},
			{ID: netflow.IPFIX_FIELD_protocolIdentifier, Length: 1},
		},
	}
	records := []DataRecord{
		{Values: [][]byte{{192, 0, 2, 1}, {198, 51, 100, 1}, {0, 0, 0, 0, 0, 0, 0x05, 0x62}, []byte("https"), {6}}},
		{Values: [][]byte{{192, 0, 2, 2}, {198, 51, 100, 2}, {0, 0, 0, 0, 0, 0, 0, 66}, []byte("dns"), {17}}},
	}
	dataSet, err := NewDataSet(template, records...)
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	payload, err := Encode(Message{
		Version:             VersionIPFIX,
		ExportTime:          1_700_000_000,
		SequenceNumber:      10,
		ObservationDomainID: 5,
		Sets:                []Set{NewTemplateSet(VersionIPFIX, template), dataSet},
	})
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}

	var packet netflow.IPFIXPacket
	if err := netflow.DecodeMessageIPFIX(bytes.NewBuffer(payload[2:]), netflow.CreateTemplateSystem(), &packet); err != nil {
		t.Fatalf("DecodeMessageIPFIX() error:\n%+v", err)
	}
	if packet.ObservationDomainId != 5 || packet.SequenceNumber != 10 {
		t.Errorf("DecodeMessageIPFIX() header = %d/%d, expected 5/10",
			packet.ObservationDomainId, packet.SequenceNumber)
	}
	got := [][][]byte{}
	for _, fs := range packet.FlowSets {
		data, ok := fs.(netflow.DataFlowSet)
		if !ok {
			continue
		}
		for _, record := range data.Records {
			values := [][]byte{}
			for _, field := range record.Values {
				v, _ := field.Value.([]byte)
				values = append(values, v)
			}
			got = append(got, values)
		}
	}
	expected := [][][]byte{records[0].Values, records[1].Values}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Errorf("DecodeMessageIPFIX() (-got, +want):\n%s", diff)
	}
}

func TestNetFlow9EncodeWithGoflow2(t *testing.T) {
	template := TemplateRecord{
		ID: 1024,
		Fields: []FieldSpecifier{
			{ID: netflow.NFV9_FIELD_IPV4_SRC_ADDR, Length: 4},
			{ID: netflow.NFV9_FIELD_IPV4_DST_ADDR, Length: 4},
			{ID: netflow.NFV9_FIELD_IN_BYTES, Length: 4},
			{ID: netflow.NFV9_FIELD_L4_SRC_PORT, Length: 2},
			{ID: netflow.NFV9_FIELD_L4_DST_PORT, Length: 2},
			{ID: netflow.NFV9_FIELD_PROTOCOL, Length: 1},
		},
	}
	records := []DataRecord{
		{Values: [][]byte{{192, 168, 1, 100}, {216, 58, 211, 99}, {0, 0, 0, 66}, {0xcc, 0x85}, {0x01, 0xbb}, {17}}},
	}
	dataSet, err := NewDataSet(template, records...)
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	payload, err := Encode(Message{
		Version:             VersionNetFlow9,
		SysUptime:           398475,
		ExportTime:          0x59773e3d,
		SequenceNumber:      3,
		ObservationDomainID: 0,
		Sets:                []Set{NewTemplateSet(VersionNetFlow9, template), dataSet},
	})
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}

	var packet netflow.NFv9Packet
	if err := netflow.DecodeMessageNetFlow(bytes.NewBuffer(payload[2:]), netflow.CreateTemplateSystem(), &packet); err != nil {
		t.Fatalf("DecodeMessageNetFlow() error:\n%+v", err)
	}
	if packet.Count != 2 || packet.SystemUptime != 398475 || packet.UnixSeconds != 0x59773e3d {
		t.Errorf("DecodeMessageNetFlow() header = %+v", packet)
	}
	got := [][][]byte{}
	for _, fs := range packet.FlowSets {
		data, ok := fs.(netflow.DataFlowSet)
		if !ok {
			continue
		}
		for _, record := range data.Records {
			values := [][]byte{}
			for _, field := range record.Values {
				v, _ := field.Value.([]byte)
				values = append(values, v)
			}
			got = append(got, values)
		}
	}
	if diff := helpers.Diff(got, [][][]byte{records[0].Values}); diff != "" {
		t.Errorf("DecodeMessageNetFlow() (-got, +want):\n%s", diff)
	}
}

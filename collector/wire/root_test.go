// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"flowpipe/common/helpers"
)

var setCmpOptions = cmp.Options{
	cmpopts.IgnoreUnexported(Set{}),
}

func ipfixTestTemplate() TemplateRecord {
	return TemplateRecord{
		ID: 256,
		Fields: []FieldSpecifier{
			{ID: 8, Length: 4},                      // sourceIPv4Address
			{ID: 12, Length: 4},                     // destinationIPv4Address
			{ID: 1, Length: 8},                      // octetDeltaCount
			{ID: 82, Length: VariableLength},        // interfaceName
			{EnterpriseID: 29305, ID: 1, Length: 8}, // reverseOctetDeltaCount
			{ID: 315, Length: VariableLength},       // dataLinkFrameSection
			{EnterpriseID: 9, ID: 12235, Length: 2}, // vendor
		},
	}
}

func ipfixTestRecords() []DataRecord {
	long := bytes.Repeat([]byte{0xab}, 300)
	return []DataRecord{
		{Values: [][]byte{
			{192, 0, 2, 1}, {198, 51, 100, 1},
			{0, 0, 0, 0, 0, 0, 0x05, 0x62},
			[]byte("eth0"),
			{0, 0, 0, 0, 0, 0, 0, 66},
			{},
			{0x12, 0x34},
		}},
		{Values: [][]byte{
			{192, 0, 2, 2}, {198, 51, 100, 2},
			{0, 0, 0, 0, 0, 0, 0, 66},
			bytes.Repeat([]byte("x"), 254),
			{0, 0, 0, 0, 0, 0, 0x05, 0x62},
			long,
			{0x56, 0x78},
		}},
	}
}

func TestIPFIXRoundTrip(t *testing.T) {
	template := ipfixTestTemplate()
	records := ipfixTestRecords()
	dataSet, err := NewDataSet(template, records...)
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	msg := Message{
		Version:             VersionIPFIX,
		ExportTime:          1_700_000_000,
		SequenceNumber:      1042,
		ObservationDomainID: 12,
		Sets: []Set{
			NewTemplateSet(VersionIPFIX, template),
			dataSet,
		},
	}
	payload, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}

	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	msg.Length = uint16(len(payload))
	if diff := helpers.Diff(got, msg, setCmpOptions); diff != "" {
		t.Fatalf("Decode() (-got, +want):\n%s", diff)
	}

	gotRecords, err := ReadDataRecords(got.Sets[1].Data, got.Sets[0].Templates[0])
	if err != nil {
		t.Fatalf("ReadDataRecords() error:\n%+v", err)
	}
	if diff := helpers.Diff(gotRecords, records); diff != "" {
		t.Fatalf("ReadDataRecords() (-got, +want):\n%s", diff)
	}
}

func TestNetFlow9RoundTrip(t *testing.T) {
	template := TemplateRecord{
		ID: 1024,
		Fields: []FieldSpecifier{
			{ID: 8, Length: 4},
			{ID: 12, Length: 4},
			{ID: 7, Length: 2},
			{ID: 11, Length: 2},
			{ID: 4, Length: 1},
		},
	}
	options := TemplateRecord{
		ID:          257,
		ScopeFields: []FieldSpecifier{{ID: 1, Length: 4}},
		Fields: []FieldSpecifier{
			{ID: 48, Length: 1}, // FLOW_SAMPLER_ID
			{ID: 50, Length: 4}, // FLOW_SAMPLER_RANDOM_INTERVAL
		},
	}
	records := []DataRecord{
		{Values: [][]byte{{10, 0, 0, 1}, {10, 0, 0, 2}, {0x01, 0xbb}, {0xcc, 0x85}, {6}}},
		{Values: [][]byte{{10, 0, 0, 2}, {10, 0, 0, 1}, {0xcc, 0x85}, {0x01, 0xbb}, {6}}},
		{Values: [][]byte{{10, 0, 0, 3}, {10, 0, 0, 4}, {0x00, 0x35}, {0x00, 0x35}, {17}}},
	}
	optionsRecords := []DataRecord{
		{Scopes: [][]byte{{192, 0, 2, 1}}, Values: [][]byte{{1}, {0, 0, 0x03, 0xe8}}},
	}
	dataSet, err := NewDataSet(template, records...)
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	optionsDataSet, err := NewDataSet(options, optionsRecords...)
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	msg := Message{
		Version:             VersionNetFlow9,
		SysUptime:           398475,
		ExportTime:          0x59773e3d,
		SequenceNumber:      7,
		ObservationDomainID: 1,
		Sets: []Set{
			NewTemplateSet(VersionNetFlow9, template),
			NewTemplateSet(VersionNetFlow9, options),
			dataSet,
			optionsDataSet,
		},
	}
	payload, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	msg.Count = 6
	if diff := helpers.Diff(got, msg, setCmpOptions); diff != "" {
		t.Fatalf("Decode() (-got, +want):\n%s", diff)
	}
	if got.Sets[1].Kind != OptionsTemplateSet || !got.Sets[1].Templates[0].IsOptions() {
		t.Errorf("Decode() did not decode an options template: %+v", got.Sets[1])
	}

	gotRecords, err := ReadDataRecords(got.Sets[2].Data, template)
	if err != nil {
		t.Fatalf("ReadDataRecords() error:\n%+v", err)
	}
	if diff := helpers.Diff(gotRecords, records); diff != "" {
		t.Errorf("ReadDataRecords() (-got, +want):\n%s", diff)
	}
	gotRecords, err = ReadDataRecords(got.Sets[3].Data, options)
	if err != nil {
		t.Fatalf("ReadDataRecords() error:\n%+v", err)
	}
	if diff := helpers.Diff(gotRecords, optionsRecords); diff != "" {
		t.Errorf("ReadDataRecords() (-got, +want):\n%s", diff)
	}
}

func TestIPFIXOptionsTemplateAndWithdrawal(t *testing.T) {
	options := TemplateRecord{
		ID:          300,
		ScopeFields: []FieldSpecifier{{ID: 149, Length: 4}},
		Fields: []FieldSpecifier{
			{ID: 41, Length: 8},
			{ID: 42, Length: 8},
		},
	}
	msg := Message{
		Version: VersionIPFIX,
		Sets: []Set{
			NewTemplateSet(VersionIPFIX, options),
			NewTemplateSet(VersionIPFIX, TemplateRecord{ID: 256}, TemplateRecord{ID: 257}),
		},
	}
	payload, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	msg.Length = uint16(len(payload))
	if diff := helpers.Diff(got, msg, setCmpOptions); diff != "" {
		t.Fatalf("Decode() (-got, +want):\n%s", diff)
	}
	if got.Sets[0].ID != ipfixOptionsTemplateSetID {
		t.Errorf("options template set ID = %d, expected %d", got.Sets[0].ID, ipfixOptionsTemplateSetID)
	}
	for _, tpl := range got.Sets[1].Templates {
		if !tpl.IsWithdrawal() {
			t.Errorf("template %d is not a withdrawal", tpl.ID)
		}
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	validIPFIX, err := Encode(Message{
		Version: VersionIPFIX,
		Sets:    []Set{NewTemplateSet(VersionIPFIX, ipfixTestTemplate())},
	})
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}
	cases := []struct {
		Pos     helpers.Pos
		Payload []byte
		Kind    error
	}{
		{helpers.Mark(), []byte{}, ErrTruncated},
		{helpers.Mark(), []byte{0, 10, 0, 16}, ErrTruncated},
		{helpers.Mark(), []byte{0, 5, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, ErrMalformed},
		{helpers.Mark(), validIPFIX[:len(validIPFIX)-1], ErrTruncated},
		{helpers.Mark(), append([]byte{0, 10, 0, 8}, validIPFIX[4:]...), ErrMalformed},
		{helpers.Mark(), make([]byte, 19), ErrMalformed},
		{helpers.Mark(), append([]byte{0, 9}, make([]byte, 17)...), ErrTruncated},
	}
	for _, tc := range cases {
		_, err := Decode(tc.Payload)
		if !errors.Is(err, tc.Kind) {
			t.Errorf("%sDecode() error = %v, expected %v", tc.Pos, err, tc.Kind)
			continue
		}
		var derr *DecodeError
		if !errors.As(err, &derr) || derr.Unit != UnitMessage {
			t.Errorf("%sDecode() error = %v, expected a message error", tc.Pos, err)
		}
	}
}

func TestDecodeSetErrorsKeepSiblings(t *testing.T) {
	template := TemplateRecord{ID: 256, Fields: []FieldSpecifier{{ID: 4, Length: 1}}}
	dataSet, err := NewDataSet(template, DataRecord{Values: [][]byte{{6}}}, DataRecord{Values: [][]byte{{17}}})
	if err != nil {
		t.Fatalf("NewDataSet() error:\n%+v", err)
	}
	payload, err := Encode(Message{
		Version: VersionIPFIX,
		Sets: []Set{
			NewTemplateSet(VersionIPFIX, TemplateRecord{ID: 300, Fields: []FieldSpecifier{{ID: 4, Length: 1}}}),
			{ID: 42, Kind: DataSet},
			dataSet,
		},
	})
	if err == nil {
		t.Fatal("Encode() did not error on data set with reserved ID")
	}

	payload, err = Encode(Message{
		Version: VersionIPFIX,
		Sets: []Set{
			NewTemplateSet(VersionIPFIX, TemplateRecord{ID: 300, Fields: []FieldSpecifier{{ID: 4, Length: 1}}}),
			dataSet,
		},
	})
	if err != nil {
		t.Fatalf("Encode() error:\n%+v", err)
	}
	// Corrupt the template ID of the template set (offset 16+4) and
	// insert an unknown set between the two sets.
	corrupted := bytes.Clone(payload)
	corrupted[20], corrupted[21] = 0, 12
	templateSetLength := 4 + 4 + 4
	unknown := []byte{0, 42, 0, 8, 1, 2, 3, 4}
	corrupted = append(corrupted[:16+templateSetLength:16+templateSetLength],
		append(unknown, corrupted[16+templateSetLength:]...)...)
	corrupted[2], corrupted[3] = 0, byte(len(corrupted))

	got, err := Decode(corrupted)
	if err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	if len(got.Sets) != 3 {
		t.Fatalf("Decode() returned %d sets, expected 3", len(got.Sets))
	}
	if !errors.Is(got.Sets[0].Err, ErrMalformed) {
		t.Errorf("Decode() template set error = %v, expected malformed", got.Sets[0].Err)
	}
	if got.Sets[1].Kind != UnknownSet || got.Sets[1].Err != nil {
		t.Errorf("Decode() unknown set = %+v", got.Sets[1])
	}
	if got.Sets[2].Kind != DataSet || got.Sets[2].Err != nil || got.Sets[2].ID != 256 {
		t.Errorf("Decode() data set = %+v", got.Sets[2])
	}
	records, err := ReadDataRecords(got.Sets[2].Data, template)
	if err != nil || len(records) != 2 {
		t.Errorf("ReadDataRecords() = %d records, %v", len(records), err)
	}
}

func TestDecodeTruncatedSet(t *testing.T) {
	payload := []byte{
		0, 10, 0, 28, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0,
		// Data set, fine
		1, 0, 0, 6, 42, 43,
		// Data set, declared longer than remaining
		1, 0, 0, 12, 1, 2,
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error:\n%+v", err)
	}
	if len(got.Sets) != 2 {
		t.Fatalf("Decode() returned %d sets, expected 2", len(got.Sets))
	}
	if got.Sets[0].Err != nil || !bytes.Equal(got.Sets[0].Data, []byte{42, 43}) {
		t.Errorf("Decode() first set = %+v", got.Sets[0])
	}
	var derr *DecodeError
	if !errors.As(got.Sets[1].Err, &derr) || derr.Unit != UnitSet || !errors.Is(derr, ErrTruncated) {
		t.Errorf("Decode() second set error = %v, expected truncated set", got.Sets[1].Err)
	}
}

func TestDecodeTemplateErrors(t *testing.T) {
	cases := []struct {
		Pos     helpers.Pos
		Body    []byte
		Options bool
		Kind    error
		Count   int
	}{
		{
			Pos:   helpers.Mark(),
			Body:  []byte{1, 0, 0, 1, 0, 4, 0, 1, 0, 0, 0, 0},
			Count: 1,
		}, {
			Pos:   helpers.Mark(),
			Body:  []byte{1, 0, 0, 2, 0, 4, 0, 1},
			Kind:  ErrTruncated,
			Count: 0,
		}, {
			Pos:   helpers.Mark(),
			Body:  []byte{1, 0, 0, 1, 0x80, 4, 0, 1, 0, 0},
			Kind:  ErrTruncated,
			Count: 0,
		}, {
			Pos:   helpers.Mark(),
			Body:  []byte{1, 0, 0, 1, 0, 4, 0, 0},
			Kind:  ErrMalformed,
			Count: 0,
		}, {
			Pos:   helpers.Mark(),
			Body:  []byte{1, 0, 0, 1, 0, 4, 0, 1, 1, 1, 0, 1, 0, 4, 0, 0},
			Kind:  ErrMalformed,
			Count: 1,
		}, {
			Pos:     helpers.Mark(),
			Body:    []byte{1, 0, 0, 1, 0, 0, 0, 4, 0, 1},
			Options: true,
			Kind:    ErrMalformed,
		}, {
			Pos:     helpers.Mark(),
			Body:    []byte{1, 0, 0, 2, 0, 1, 0, 149, 0, 4, 0, 41, 0, 8},
			Options: true,
			Count:   1,
		},
	}
	for _, tc := range cases {
		templates, err := decodeIPFIXTemplates(tc.Body, 0, tc.Options)
		switch {
		case tc.Kind == nil && err != nil:
			t.Errorf("%sdecodeIPFIXTemplates() error:\n%+v", tc.Pos, err)
		case tc.Kind != nil && !errors.Is(err, tc.Kind):
			t.Errorf("%sdecodeIPFIXTemplates() error = %v, expected %v", tc.Pos, err, tc.Kind)
		}
		if len(templates) != tc.Count {
			t.Errorf("%sdecodeIPFIXTemplates() = %d templates, expected %d", tc.Pos, len(templates), tc.Count)
		}
	}
}

func TestDecodeNetFlow9VariableLengthField(t *testing.T) {
	body := []byte{1, 0, 0, 2, 0, 8, 0, 4, 0, 82, 0xff, 0xff}
	templates, err := decodeNetFlow9Templates(body, 0)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("decodeNetFlow9Templates() error = %v, expected %v", err, ErrMalformed)
	}
	if len(templates) != 0 {
		t.Errorf("decodeNetFlow9Templates() = %d templates, expected 0", len(templates))
	}
}

func FuzzDecode(f *testing.F) {
	template := ipfixTestTemplate()
	dataSet, err := NewDataSet(template, ipfixTestRecords()...)
	if err != nil {
		f.Fatalf("NewDataSet() error:\n%+v", err)
	}
	nf9Template := TemplateRecord{ID: 1024, Fields: []FieldSpecifier{{ID: 8, Length: 4}, {ID: 4, Length: 1}}}
	nf9DataSet, err := NewDataSet(nf9Template, DataRecord{Values: [][]byte{{10, 0, 0, 1}, {6}}})
	if err != nil {
		f.Fatalf("NewDataSet() error:\n%+v", err)
	}
	for _, msg := range []Message{
		{Version: VersionIPFIX, Sets: []Set{NewTemplateSet(VersionIPFIX, template), dataSet}},
		{Version: VersionIPFIX, Sets: []Set{NewTemplateSet(VersionIPFIX, TemplateRecord{ID: 256})}},
		{Version: VersionNetFlow9, Sets: []Set{NewTemplateSet(VersionNetFlow9, nf9Template), nf9DataSet}},
	} {
		payload, err := Encode(msg)
		if err != nil {
			f.Fatalf("Encode() error:\n%+v", err)
		}
		f.Add(payload)
	}
	f.Add([]byte{0, 10, 0, 20, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2, 0, 4})
	f.Add([]byte{0, 9, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 3})

	f.Fuzz(func(t *testing.T, payload []byte) {
		msg, err := Decode(payload)
		if err != nil {
			return
		}
		for _, set := range msg.Sets {
			if set.Kind == DataSet {
				// Data sets are decoded with any template.
				ReadDataRecords(set.Data, template)
			}
		}
		// Sets decoded without error can be encoded again.
		clean := msg
		clean.Sets = nil
		for _, set := range msg.Sets {
			if set.Err == nil && set.Kind != UnknownSet {
				clean.Sets = append(clean.Sets, set)
			}
		}
		again, err := Encode(clean)
		if err != nil {
			t.Fatalf("Encode() error:\n%+v", err)
		}
		got, err := Decode(again)
		if err != nil {
			t.Fatalf("Decode() after Encode() error:\n%+v", err)
		}
		if len(got.Sets) != len(clean.Sets) {
			t.Fatalf("Decode() after Encode() got %d sets, expected %d", len(got.Sets), len(clean.Sets))
		}
	})
}

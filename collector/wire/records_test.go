// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"errors"
	"testing"

	"flowpipe/common/helpers"
)

func TestReadDataRecords(t *testing.T) {
	fixed := TemplateRecord{
		ID: 256,
		Fields: []FieldSpecifier{
			{ID: 7, Length: 2},
			{ID: 4, Length: 1},
		},
	}
	variable := TemplateRecord{
		ID: 257,
		Fields: []FieldSpecifier{
			{ID: 4, Length: 1},
			{ID: 82, Length: VariableLength},
		},
	}
	cases := []struct {
		Pos      helpers.Pos
		Template TemplateRecord
		Data     []byte
		Expected []DataRecord
		Error    error
	}{
		{
			Pos:      helpers.Mark(),
			Template: fixed,
			Data:     []byte{0, 80, 6, 1, 187, 6, 0, 53, 17},
			Expected: []DataRecord{
				{Values: [][]byte{{0, 80}, {6}}},
				{Values: [][]byte{{1, 187}, {6}}},
				{Values: [][]byte{{0, 53}, {17}}},
			},
		}, {
			Pos:      helpers.Mark(),
			Template: fixed,
			Data:     []byte{0, 80, 6, 0, 0},
			Expected: []DataRecord{
				{Values: [][]byte{{0, 80}, {6}}},
			},
		}, {
			Pos:      helpers.Mark(),
			Template: variable,
			Data:     []byte{6, 4, 'e', 't', 'h', '0', 17, 0, 6, 255, 0, 2, 'l', 'o'},
			Expected: []DataRecord{
				{Values: [][]byte{{6}, []byte("eth0")}},
				{Values: [][]byte{{17}, {}}},
				{Values: [][]byte{{6}, []byte("lo")}},
			},
		}, {
			Pos:      helpers.Mark(),
			Template: variable,
			Data:     []byte{6, 4, 'e', 't', 'h', '0', 17, 10, 'e'},
			Expected: []DataRecord{
				{Values: [][]byte{{6}, []byte("eth0")}},
			},
			Error: ErrTruncated,
		}, {
			Pos:      helpers.Mark(),
			Template: variable,
			Data:     []byte{6, 255, 0},
			Error:    ErrTruncated,
		}, {
			Pos:      helpers.Mark(),
			Template: TemplateRecord{ID: 258, Fields: []FieldSpecifier{{ID: 4, Length: 0}}},
			Data:     []byte{1, 2, 3},
			Error:    ErrMalformed,
		},
	}
	for _, tc := range cases {
		got, err := ReadDataRecords(tc.Data, tc.Template)
		if !errors.Is(err, tc.Error) {
			t.Errorf("%sReadDataRecords() error = %v, expected %v", tc.Pos, err, tc.Error)
		}
		if diff := helpers.Diff(got, tc.Expected); diff != "" {
			t.Errorf("%sReadDataRecords() (-got, +want):\n%s", tc.Pos, diff)
		}
	}
}

func TestReadDataRecordsStride(t *testing.T) {
	template := TemplateRecord{
		ID: 256,
		Fields: []FieldSpecifier{
			{ID: 8, Length: 4},
			{ID: 12, Length: 4},
			{ID: 1, Length: 8},
		},
	}
	for count := 0; count < 20; count++ {
		records := make([]DataRecord, count)
		for i := range records {
			records[i] = DataRecord{Values: [][]byte{
				{10, 0, 0, byte(i)},
				{10, 0, 1, byte(i)},
				{0, 0, 0, 0, 0, 0, byte(i), byte(i)},
			}}
		}
		data, err := EncodeDataRecords(template, records...)
		if err != nil {
			t.Fatalf("EncodeDataRecords() error:\n%+v", err)
		}
		got, err := ReadDataRecords(data, template)
		if err != nil {
			t.Fatalf("ReadDataRecords() error:\n%+v", err)
		}
		if len(got) != count {
			t.Errorf("ReadDataRecords() returned %d records, expected %d", len(got), count)
		}
		for i := range got {
			if len(got[i].Values) != len(template.Fields) {
				t.Errorf("ReadDataRecords() record %d has %d fields, expected %d",
					i, len(got[i].Values), len(template.Fields))
			}
		}
	}
}

func TestEncodeDataRecordsErrors(t *testing.T) {
	template := TemplateRecord{
		ID: 256,
		Fields: []FieldSpecifier{
			{ID: 7, Length: 2},
			{ID: 82, Length: VariableLength},
		},
	}
	if _, err := EncodeDataRecords(template, DataRecord{Values: [][]byte{{1}}}); err == nil {
		t.Error("EncodeDataRecords() did not error on missing value")
	}
	if _, err := EncodeDataRecords(template, DataRecord{Values: [][]byte{{1}, {}}}); err == nil {
		t.Error("EncodeDataRecords() did not error on wrong length")
	}
	if _, err := EncodeDataRecords(template, DataRecord{Values: [][]byte{{0, 1}, make([]byte, 0xffff)}}); err == nil {
		t.Error("EncodeDataRecords() did not error on too long value")
	}
}

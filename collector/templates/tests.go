// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package templates

import (
	"testing"

	"flowpipe/common/reporter"
)

// NewMock creates a template store with the default configuration.
func NewMock(t testing.TB, r *reporter.Reporter) *Store {
	t.Helper()
	s, err := New(r, DefaultConfiguration())
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return s
}

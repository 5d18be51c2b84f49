// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package registry

import (
	"testing"

	"flowpipe/common/reporter"
)

// NewMock creates a registry with the builtin elements only.
func NewMock(t testing.TB) *Registry {
	t.Helper()
	reg, err := New(reporter.NewMock(t), DefaultConfiguration())
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return reg
}

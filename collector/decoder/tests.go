// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package decoder

import (
	"testing"

	"github.com/benbjohnson/clock"

	"flowpipe/collector/registry"
	"flowpipe/collector/templates"
	"flowpipe/common/reporter"
)

// NewMock creates a decoder with the builtin registry, a fresh template
// store and the provided clock.
func NewMock(t testing.TB, r *reporter.Reporter, clk clock.Clock) *Decoder {
	t.Helper()
	d, err := New(r, Dependencies{
		Registry:  registry.NewMock(t),
		Templates: templates.NewMock(t, r),
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	return d
}

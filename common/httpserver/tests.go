// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package httpserver

import (
	"testing"

	"flowpipe/common/daemon"
	"flowpipe/common/helpers"
	"flowpipe/common/reporter"
)

// NewMock creates a new HTTP component listening on a random free port.
func NewMock(t testing.TB, r *reporter.Reporter) *Component {
	t.Helper()
	c, err := New(r, Configuration{Listen: "127.0.0.1:0"}, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, c)
	return c
}

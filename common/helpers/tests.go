// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

// Package helpers contains small functions usable by any other
// package, both for testing or not.
package helpers

import (
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
)

type starter interface {
	Start() error
}

type stopper interface {
	Stop() error
}

// StartStop starts a component and stops it on cleanup.
func StartStop(t testing.TB, component any) {
	t.Helper()
	if c, ok := component.(starter); ok {
		if err := c.Start(); err != nil {
			t.Fatalf("Start() error:\n%+v", err)
		}
	}
	t.Cleanup(func() {
		if c, ok := component.(stopper); ok {
			if err := c.Stop(); err != nil {
				t.Errorf("Stop() error:\n%+v", err)
			}
		}
	})
}

// Pos is a file:line recording a test data position.
type Pos struct {
	file string
	line int
}

// Mark reports the file:line position of the source file in which it appears.
func Mark() Pos {
	_, file, line, _ := runtime.Caller(1)
	return Pos{filepath.Base(file), line}
}

// String returns a textual representation of a Pos, ending with a
// space to be used as a prefix.
func (p Pos) String() string {
	if p.file != "" {
		return fmt.Sprintf("%s:%d: ", p.file, p.line)
	}
	return ""
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package logger handles logging for flowpipe.
//
// This is a thin wrapper around zerolog adding "caller" and "module"
// to each event. The module is the first package of our own module
// found in the call stack.
package logger

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"flowpipe/common/reporter/stack"
)

// Logger is a logger instance. It is compatible with the interface
// from zerolog.
type Logger struct {
	zerolog.Logger
}

// New creates a new logger from the global zerolog logger.
func New(Configuration) (Logger, error) {
	return Logger{log.Logger.Hook(contextHook{})}, nil
}

type contextHook struct{}

// Run adds "caller" and "module" to an event.
func (contextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	// Skip Callers, Run and the zerolog frames up to Msg().
	callStack := stack.Callers()[3:]
	e.Str("caller", callStack[0].SourceFile(true))
	for _, call := range callStack {
		function := call.FunctionName()
		if strings.HasPrefix(function, stack.ModuleName+"/") {
			module, _, _ := strings.Cut(function, ".")
			e.Str("module", module)
			return
		}
	}
}

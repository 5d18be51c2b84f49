// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package stack inspects the call stack to find out which package
// of our module is logging or registering a metric.
package stack

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Call records a single function invocation from a goroutine stack.
type Call uintptr

// Trace records a sequence of function invocations from a goroutine stack.
type Trace []Call

var pcPool = sync.Pool{
	New: func() any {
		pcs := make([]uintptr, 512)
		return &pcs
	},
}

// Callers returns the list of callers from the current stack,
// starting with the caller of Callers.
func Callers() Trace {
	ptr := pcPool.Get().(*[]uintptr)
	defer pcPool.Put(ptr)
	pcs := *ptr
	n := runtime.Callers(2, pcs)
	trace := make(Trace, n)
	for i, pc := range pcs[:n] {
		trace[i] = Call(pc)
	}
	return trace
}

func (pc Call) fn() (*runtime.Func, uintptr) {
	// The PC is a return address; step back into the call instruction.
	p := uintptr(pc) - 1
	return runtime.FuncForPC(p), p
}

// FunctionName provides the fully-qualified function name of the call
// point, including the import path.
func (pc Call) FunctionName() string {
	fn, _ := pc.fn()
	if fn == nil {
		return "(nofunc)"
	}
	return fn.Name()
}

// SourceFile returns the source file and optionally the line number
// of the call point. The path is expressed relative to the module:
// "flowpipe/collector/wire/ipfix.go" or "testing/testing.go".
func (pc Call) SourceFile(withLine bool) string {
	fn, p := pc.fn()
	if fn == nil {
		return "(nosource)"
	}
	file, line := fn.FileLine(p)
	name := fn.Name()
	dot := strings.Index(name, ".")
	if dot == -1 {
		return "(nosource)"
	}
	// Keep as many trailing path elements as the import path has,
	// then prepend the first element of the import path.
	keep := strings.Count(name[:dot], "/") + 1
	elems := strings.Split(file, "/")
	if len(elems) > keep {
		elems = elems[len(elems)-keep:]
	}
	root, _, _ := strings.Cut(name[:dot], "/")
	file = root + "/" + strings.Join(elems, "/")
	if withLine {
		return fmt.Sprintf("%s:%d", file, line)
	}
	return file
}

var (
	ownFunction = Callers()[0].FunctionName() // flowpipe/common/reporter/stack.init
	ownPackage  = strings.SplitN(ownFunction, ".", 2)[0]

	// ModuleName is the name of the current module
	// (flowpipe/common/reporter/stack → flowpipe).
	ModuleName = strings.TrimSuffix(ownPackage, "/common/reporter/stack")
)

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"

	"flowpipe/common/reporter"
)

func init() {
	// The logger in Sarama is global. Do the same.
	sarama.Logger = &globalKafkaLogger
}

var globalKafkaLogger kafkaLogger

// kafkaLogger sends Sarama logs to the current reporter at the debug level.
type kafkaLogger struct {
	r atomic.Pointer[reporter.Reporter]
}

// UseReporter directs Sarama logs to the provided reporter.
func UseReporter(r *reporter.Reporter) {
	globalKafkaLogger.r.Store(r)
}

func (l *kafkaLogger) log(msg func() string) {
	r := l.r.Load()
	if r == nil {
		return
	}
	if e := r.Debug(); e.Enabled() {
		e.Msg(msg())
	}
}

func (l *kafkaLogger) Print(v ...interface{}) {
	l.log(func() string { return fmt.Sprint(v...) })
}

func (l *kafkaLogger) Println(v ...interface{}) {
	l.log(func() string { return fmt.Sprint(v...) })
}

func (l *kafkaLogger) Printf(format string, v ...interface{}) {
	l.log(func() string { return fmt.Sprintf(format, v...) })
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"flowpipe/common/helpers"
	"flowpipe/common/reporter"
)

// NewMock creates a new Kafka sink with a mocked producer. The sink is
// started and will be stopped at the end of the test.
func NewMock(t *testing.T, r *reporter.Reporter, configuration Configuration) (*Sink, *mocks.SyncProducer) {
	t.Helper()
	s, err := configuration.New(r, "bus")
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	ks := s.(*Sink)

	var mockProducer *mocks.SyncProducer
	ks.createProducer = func() (sarama.SyncProducer, error) {
		mockProducer = mocks.NewSyncProducer(t, ks.kafkaConfig)
		return mockProducer, nil
	}
	helpers.StartStop(t, ks)
	return ks, mockProducer
}

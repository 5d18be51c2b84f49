// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package kafka delivers batches to a Kafka topic, one message per
// record.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"flowpipe/collector/publisher/sink"
	"flowpipe/common/kafka"
	"flowpipe/common/reporter"
)

// Headers added to each message.
const (
	HeaderWriterID = "writer-id"
	HeaderBatchID  = "batch-id"
)

// Sink is a Kafka sink.
type Sink struct {
	r         *reporter.Reporter
	config    Configuration
	endpoint  string
	errLogger reporter.Logger

	kafkaConfig    *sarama.Config
	producer       sarama.SyncProducer
	createProducer func() (sarama.SyncProducer, error)

	metrics struct {
		bytesSent    *reporter.CounterVec
		messagesSent *reporter.CounterVec
		errors       *reporter.CounterVec
	}
}

// New creates a new Kafka sink.
func (c *Configuration) New(r *reporter.Reporter, endpoint string) (sink.Sink, error) {
	kafkaConfig, err := kafka.NewConfig(c.Configuration)
	if err != nil {
		return nil, err
	}
	kafkaConfig.Metadata.AllowAutoTopicCreation = false
	kafkaConfig.Producer.MaxMessageBytes = c.MaxMessageBytes
	kafkaConfig.Producer.Compression = sarama.CompressionCodec(c.CompressionCodec)
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	if err := kafkaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("cannot validate Kafka configuration: %w", err)
	}

	s := &Sink{
		r:           r,
		config:      *c,
		endpoint:    endpoint,
		kafkaConfig: kafkaConfig,
	}
	s.errLogger = r.With().Str("endpoint", endpoint).Str("topic", c.Topic).Logger().
		Sample(reporter.BurstSampler(30*time.Second, 3))
	s.createProducer = func() (sarama.SyncProducer, error) {
		return sarama.NewSyncProducer(s.config.Brokers, s.kafkaConfig)
	}

	s.metrics.bytesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_bytes_total",
			Help: "Bytes sent to Kafka.",
		},
		[]string{"endpoint"},
	)
	s.metrics.messagesSent = r.CounterVec(
		reporter.CounterOpts{
			Name: "sent_messages_total",
			Help: "Messages sent to Kafka.",
		},
		[]string{"endpoint"},
	)
	s.metrics.errors = r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Errors while sending to Kafka.",
		},
		[]string{"endpoint", "error"},
	)
	kafka.NewMetrics(r, kafkaConfig.MetricRegistry, map[string]string{"endpoint": endpoint})
	return s, nil
}

// Start connects to the Kafka brokers.
func (s *Sink) Start() error {
	s.r.Info().Str("endpoint", s.endpoint).Msg("starting Kafka sink")
	kafka.UseReporter(s.r)
	producer, err := s.createProducer()
	if err != nil {
		s.r.Err(err).
			Str("brokers", strings.Join(s.config.Brokers, ",")).
			Msg("unable to create Kafka producer")
		return fmt.Errorf("unable to create Kafka producer: %w", err)
	}
	s.producer = producer
	return nil
}

// Stop closes the Kafka producer.
func (s *Sink) Stop() error {
	defer s.r.Info().Str("endpoint", s.endpoint).Msg("Kafka sink stopped")
	defer s.kafkaConfig.MetricRegistry.UnregisterAll()
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// Send produces one message per record of the batch. The exporter
// address is used as key. Records that cannot be encoded are skipped.
// Send gives up when the context is done, even if the producer is
// still waiting for the brokers.
func (s *Sink) Send(ctx context.Context, batch sink.Batch) error {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderWriterID), Value: []byte(batch.WriterID)},
		{Key: []byte(HeaderBatchID), Value: []byte(batch.ID.String())},
	}
	documents := batch.Documents()
	messages := make([]*sarama.ProducerMessage, 0, len(documents))
	size := 0
	for i, document := range documents {
		payload, err := json.Marshal(document)
		if err != nil {
			s.metrics.errors.WithLabelValues(s.endpoint, "encode").Inc()
			s.errLogger.Err(err).
				Str("exporter", batch.Records[i].Exporter.String()).
				Msg("cannot encode record")
			continue
		}
		size += len(payload)
		messages = append(messages, &sarama.ProducerMessage{
			Topic:   s.config.Topic,
			Key:     sarama.StringEncoder(batch.Records[i].Exporter.String()),
			Value:   sarama.ByteEncoder(payload),
			Headers: headers,
		})
	}
	if len(messages) == 0 {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- s.producer.SendMessages(messages)
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		s.metrics.errors.WithLabelValues(s.endpoint, "canceled").Inc()
		s.errLogger.Err(ctx.Err()).Int("messages", len(messages)).Msg("Kafka producer interrupted")
		return fmt.Errorf("%w: %w", sink.ErrTransport, ctx.Err())
	}
	if err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			s.metrics.errors.WithLabelValues(s.endpoint, perrs[0].Err.Error()).Add(float64(len(perrs)))
		} else {
			s.metrics.errors.WithLabelValues(s.endpoint, "unknown").Inc()
		}
		s.errLogger.Err(err).Int("messages", len(messages)).Msg("Kafka producer error")
		return fmt.Errorf("%w: %w", sink.ErrTransport, err)
	}
	s.metrics.messagesSent.WithLabelValues(s.endpoint).Add(float64(len(messages)))
	s.metrics.bytesSent.WithLabelValues(s.endpoint).Add(float64(size))
	return nil
}

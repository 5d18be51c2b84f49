// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"flowpipe/collector/publisher/sink"
	"flowpipe/common/kafka"
)

// Configuration describes the configuration of a Kafka sink.
type Configuration struct {
	kafka.Configuration `mapstructure:",squash" yaml:",inline"`
	// MaxMessageBytes is the maximum permitted size of a message.
	// Should be set equal or smaller than broker's
	// `message.max.bytes`.
	MaxMessageBytes int `validate:"min=1"`
	// CompressionCodec defines the compression to use.
	CompressionCodec CompressionCodec
}

// DefaultConfiguration represents the default configuration for a
// Kafka sink.
func DefaultConfiguration() sink.Configuration {
	return &Configuration{
		Configuration:    kafka.DefaultConfiguration(),
		MaxMessageBytes:  1000000,
		CompressionCodec: CompressionCodec(sarama.CompressionNone),
	}
}

// CompressionCodec represents a compression codec.
type CompressionCodec sarama.CompressionCodec

// UnmarshalText produces a compression codec
func (cc *CompressionCodec) UnmarshalText(text []byte) error {
	codecs := map[string]sarama.CompressionCodec{
		"none":   sarama.CompressionNone,
		"gzip":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
		"zstd":   sarama.CompressionZSTD,
	}
	codec, ok := codecs[string(text)]
	if !ok {
		return fmt.Errorf("cannot parse %q as a compression codec", string(text))
	}
	*cc = CompressionCodec(codec)
	return nil
}

// String turns a compression codec into a string
func (cc CompressionCodec) String() string {
	return sarama.CompressionCodec(cc).String()
}

// MarshalText turns a compression codec into a string
func (cc CompressionCodec) MarshalText() ([]byte, error) {
	return []byte(cc.String()), nil
}

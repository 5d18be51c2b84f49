// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package kafka exposes some common helpers for Kafka, including the
// configuration structure.
package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"flowpipe/common/helpers"
)

// Configuration defines how we connect to a Kafka cluster.
type Configuration struct {
	// Topic defines the topic to write flows to.
	Topic string `validate:"required"`
	// Brokers is the list of brokers to connect to.
	Brokers []string `validate:"min=1,dive,listen"`
	// Version is the version of Kafka we assume to work
	Version Version
	// TLS defines TLS configuration
	TLS helpers.TLSConfiguration
	// SASL defines SASL configuration
	SASL SASLConfiguration
}

// SASLConfiguration defines SASL configuration.
type SASLConfiguration struct {
	// Username tells the SASL username
	Username string `validate:"required_with=Mechanism"`
	// Password tells the SASL password
	Password string `validate:"required_with=Mechanism"`
	// Mechanism tells the SASL algorithm
	Mechanism SASLMechanism `validate:"required_with=Username"`
}

// DefaultConfiguration represents the default configuration for connecting to Kafka.
func DefaultConfiguration() Configuration {
	return Configuration{
		Topic:   "flows",
		Brokers: []string{"127.0.0.1:9092"},
		Version: Version(sarama.V2_8_1_0),
	}
}

// Version represents a supported version of Kafka
type Version sarama.KafkaVersion

// UnmarshalText parses a version of Kafka
func (v *Version) UnmarshalText(text []byte) error {
	version, err := sarama.ParseKafkaVersion(string(text))
	if err != nil {
		return err
	}
	*v = Version(version)
	return nil
}

// String turns a Kafka version into a string
func (v Version) String() string {
	return sarama.KafkaVersion(v).String()
}

// MarshalText turns a Kafka version into a string
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// SASLMechanism defines an SASL algorithm
type SASLMechanism int

const (
	// SASLNone means no user authentication
	SASLNone SASLMechanism = iota
	// SASLPlain means user/password in plain text
	SASLPlain
	// SASLScramSHA256 enables SCRAM challenge with SHA256
	SASLScramSHA256
	// SASLScramSHA512 enables SCRAM challenge with SHA512
	SASLScramSHA512
)

var saslMechanismNames = map[SASLMechanism]string{
	SASLNone:        "none",
	SASLPlain:       "plain",
	SASLScramSHA256: "scram-sha256",
	SASLScramSHA512: "scram-sha512",
}

// String turns a SASL mechanism into a string.
func (m SASLMechanism) String() string {
	if name, ok := saslMechanismNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SASLMechanism(%d)", int(m))
}

// MarshalText turns a SASL mechanism into text.
func (m SASLMechanism) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a SASL mechanism.
func (m *SASLMechanism) UnmarshalText(text []byte) error {
	for mechanism, name := range saslMechanismNames {
		if strings.EqualFold(name, string(text)) {
			*m = mechanism
			return nil
		}
	}
	return fmt.Errorf("unknown SASL mechanism %q", string(text))
}

// NewConfig returns a Sarama Kafka configuration ready to use.
func NewConfig(config Configuration) (*sarama.Config, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.KafkaVersion(config.Version)
	kafkaConfig.ClientID = "flowpipe"
	tlsConfig, err := config.TLS.MakeTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		kafkaConfig.Net.TLS.Enable = true
		kafkaConfig.Net.TLS.Config = tlsConfig
	}
	if config.SASL.Mechanism != SASLNone {
		kafkaConfig.Net.SASL.Enable = true
		kafkaConfig.Net.SASL.User = config.SASL.Username
		kafkaConfig.Net.SASL.Password = config.SASL.Password
		switch config.SASL.Mechanism {
		case SASLPlain:
			kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case SASLScramSHA256:
			kafkaConfig.Net.SASL.Handshake = true
			kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			kafkaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256.New}
			}
		case SASLScramSHA512:
			kafkaConfig.Net.SASL.Handshake = true
			kafkaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			kafkaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512.New}
			}
		default:
			return nil, fmt.Errorf("unknown SASL mechanism: %s", config.SASL.Mechanism)
		}
	}
	return kafkaConfig, nil
}

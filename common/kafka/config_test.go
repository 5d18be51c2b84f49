// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"

	"flowpipe/common/helpers"
)

func TestDefaultConfiguration(t *testing.T) {
	if err := helpers.Validate.Struct(DefaultConfiguration()); err != nil {
		t.Fatalf("validate.Struct() error:\n%+v", err)
	}
}

func TestKafkaNewConfig(t *testing.T) {
	cases := []struct {
		Description string
		Config      Configuration
		Mechanism   sarama.SASLMechanism
	}{
		{
			Description: "no TLS",
			Config:      DefaultConfiguration(),
		}, {
			Description: "SASL plain",
			Config: Configuration{
				TLS:  helpers.TLSConfiguration{Enable: true},
				SASL: SASLConfiguration{Username: "hello", Password: "password", Mechanism: SASLPlain},
			},
			Mechanism: sarama.SASLTypePlaintext,
		}, {
			Description: "SASL SCRAM SHA256",
			Config: Configuration{
				TLS:  helpers.TLSConfiguration{Enable: true},
				SASL: SASLConfiguration{Username: "hello", Password: "password", Mechanism: SASLScramSHA256},
			},
			Mechanism: sarama.SASLTypeSCRAMSHA256,
		}, {
			Description: "SASL SCRAM SHA512",
			Config: Configuration{
				TLS:  helpers.TLSConfiguration{Enable: true},
				SASL: SASLConfiguration{Username: "hello", Password: "password", Mechanism: SASLScramSHA512},
			},
			Mechanism: sarama.SASLTypeSCRAMSHA512,
		},
	}
	for _, tc := range cases {
		t.Run(tc.Description, func(t *testing.T) {
			kafkaConfig, err := NewConfig(tc.Config)
			if err != nil {
				t.Fatalf("NewConfig() error:\n%+v", err)
			}
			if err := kafkaConfig.Validate(); err != nil {
				t.Fatalf("Validate() error:\n%+v", err)
			}
			if tc.Mechanism != "" && kafkaConfig.Net.SASL.Mechanism != tc.Mechanism {
				t.Fatalf("NewConfig() mechanism %q, expected %q",
					kafkaConfig.Net.SASL.Mechanism, tc.Mechanism)
			}
		})
	}
}

func TestSCRAMClient(t *testing.T) {
	config, err := NewConfig(Configuration{
		Version: Version(sarama.V2_8_1_0),
		SASL:    SASLConfiguration{Username: "user", Password: "pencil", Mechanism: SASLScramSHA256},
	})
	if err != nil {
		t.Fatalf("NewConfig() error:\n%+v", err)
	}
	client := config.Net.SASL.SCRAMClientGeneratorFunc()
	if err := client.Begin("user", "pencil", ""); err != nil {
		t.Fatalf("Begin() error:\n%+v", err)
	}
	first, err := client.Step("")
	if err != nil {
		t.Fatalf("Step() error:\n%+v", err)
	}
	if len(first) < len("n,,n=user,r=") || first[:len("n,,n=user,r=")] != "n,,n=user,r=" {
		t.Fatalf("Step() first message: %q", first)
	}
	if client.Done() {
		t.Fatal("Done() after first step")
	}
}

func TestConfigurationDecode(t *testing.T) {
	helpers.TestConfigurationDecode(t, helpers.ConfigurationDecodeCases{
		{
			Description:   "defaults",
			Pos:           helpers.Mark(),
			Initial:       func() any { return DefaultConfiguration() },
			Configuration: func() any { return gin.H{} },
			Expected:      DefaultConfiguration(),
		}, {
			Description: "SASL SCRAM with TLS",
			Pos:         helpers.Mark(),
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{
					"topic":   "ipfix",
					"brokers": []string{"kafka1:9092", "kafka2:9092"},
					"version": "3.6.0",
					"tls":     gin.H{"enable": true},
					"sasl": gin.H{
						"username":  "hello",
						"password":  "bye",
						"mechanism": "scram-sha512",
					},
				}
			},
			Expected: Configuration{
				Topic:   "ipfix",
				Brokers: []string{"kafka1:9092", "kafka2:9092"},
				Version: Version(sarama.V3_6_0_0),
				TLS:     helpers.TLSConfiguration{Enable: true},
				SASL: SASLConfiguration{
					Username:  "hello",
					Password:  "bye",
					Mechanism: SASLScramSHA512,
				},
			},
		}, {
			Description: "unknown mechanism",
			Pos:         helpers.Mark(),
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{"sasl": gin.H{"username": "a", "password": "b", "mechanism": "kerberos"}}
			},
			Error: true,
		}, {
			Description: "username without mechanism",
			Pos:         helpers.Mark(),
			Initial:     func() any { return DefaultConfiguration() },
			Configuration: func() any {
				return gin.H{"sasl": gin.H{"username": "a", "password": "b"}}
			},
			Error: true,
		},
	})
}

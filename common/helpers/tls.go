// SPDX-FileCopyrightText: 2024 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfiguration defines TLS configuration for clients connecting
// to remote servers (Kafka brokers, HTTP endpoints).
type TLSConfiguration struct {
	// Enable says if TLS should be used to connect to remote servers.
	Enable bool `validate:"required_with=CAFile CertFile KeyFile"`
	// SkipVerify removes validity checks of remote certificates
	SkipVerify bool
	// CAFile tells the location of the CA certificate to check the
	// remote certificate. If empty, the system CA certificates are used.
	CAFile string `validate:"omitempty,file"`
	// CertFile tells the location of the user certificate if any.
	CertFile string `validate:"required_with=KeyFile,omitempty,file"`
	// KeyFile tells the location of the user key if any. When empty,
	// the key is expected to be in CertFile.
	KeyFile string `validate:"omitempty,file"`
}

// MakeTLSConfig creates a *tls.Config from a TLSConfiguration. It
// returns nil when TLS is not enabled.
func (config TLSConfiguration) MakeTLSConfig() (*tls.Config, error) {
	if !config.Enable {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.SkipVerify,
	}
	if config.CAFile != "" {
		caCert, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("cannot parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if config.CertFile != "" {
		keyFile := config.KeyFile
		if keyFile == "" {
			keyFile = config.CertFile
		}
		cert, err := tls.LoadX509KeyPair(config.CertFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read user certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package listener

import (
	"fmt"
	"time"
)

// Configuration describes the configuration of one listener.
type Configuration struct {
	// Listen is the address to listen to.
	Listen string `validate:"required,listen"`
	// Interface is the name of the interface to bind the socket
	// to. This is only supported on Linux.
	Interface string
	// Workers is the number of workers, each with its own socket.
	Workers int `validate:"min=1"`
	// ReceiveBuffer is the requested receive buffer size for each
	// socket. When 0, the kernel default is used. The value cannot
	// exceed net.core.rmem_max.
	ReceiveBuffer uint
	// Protocol is the protocol expected on this listener.
	Protocol Protocol
	// RateLimit is the maximum number of records per second
	// accepted from each exporter. 0 disables rate limiting.
	RateLimit float64 `validate:"min=0"`
}

// DefaultConfiguration represents the default configuration for a
// listener.
func DefaultConfiguration() Configuration {
	return Configuration{
		Listen:   "0.0.0.0:2055",
		Workers:  1,
		Protocol: ProtocolFlow,
	}
}

// Options are settings shared by all listeners.
type Options struct {
	// SubscriberTimeout is the duration after which the transient
	// state of a silent exporter is dropped.
	SubscriberTimeout time.Duration
	// DrainTimeout is the grace period given to in-flight datagrams
	// on shutdown.
	DrainTimeout time.Duration
}

// DefaultOptions returns the default listener options.
func DefaultOptions() Options {
	return Options{
		SubscriberTimeout: 5 * time.Minute,
		DrainTimeout:      5 * time.Second,
	}
}

// Protocol is the protocol received by a listener.
type Protocol int

const (
	// ProtocolFlow is for IPFIX and NetFlow v9.
	ProtocolFlow Protocol = iota
	// ProtocolUDPNotif is for UDP-notif.
	ProtocolUDPNotif
)

var protocolNames = map[Protocol]string{
	ProtocolFlow:     "flow",
	ProtocolUDPNotif: "udp-notif",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol-%d", int(p))
}

// MarshalText turns a protocol into text.
func (p Protocol) MarshalText() ([]byte, error) {
	if name, ok := protocolNames[p]; ok {
		return []byte(name), nil
	}
	return nil, fmt.Errorf("unknown protocol %d", int(p))
}

// UnmarshalText parses a protocol.
func (p *Protocol) UnmarshalText(input []byte) error {
	for k, v := range protocolNames {
		if v == string(input) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown protocol %q", string(input))
}

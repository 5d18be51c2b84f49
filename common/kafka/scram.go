// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import "github.com/xdg-go/scram"

// xdgSCRAMClient implements sarama.SCRAMClient on top of xdg-go/scram.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

// Begin prepares the client for a new SCRAM exchange.
func (x *xdgSCRAMClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.Client = client
	x.ClientConversation = client.NewConversation()
	return nil
}

// Step processes a server challenge and returns the client response.
func (x *xdgSCRAMClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

// Done tells if the exchange is over.
func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

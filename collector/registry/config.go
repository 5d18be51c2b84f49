// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package registry

// Configuration describes the configuration for the registry.
type Configuration struct {
	// Elements are additional information elements, usually
	// enterprise-specific ones. They take precedence over builtin
	// elements with the same identifiers.
	Elements []ElementConfiguration `validate:"dive"`
}

// ElementConfiguration describes an information element to add to the
// registry.
type ElementConfiguration struct {
	EnterpriseID uint32
	ID           uint16 `validate:"min=1,max=32767"`
	Name         string `validate:"required"`
	Type         Type
	Semantics    Semantics
}

// DefaultConfiguration represents the default configuration for the
// registry.
func DefaultConfiguration() Configuration {
	return Configuration{}
}

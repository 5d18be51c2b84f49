// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package registry maps information element identifiers to their name,
// type and semantics. A registry is built once at startup and is
// read-only afterwards, so it is safe for concurrent use.
package registry

import (
	"fmt"

	"flowpipe/common/reporter"
)

// Key identifies an information element.
type Key struct {
	EnterpriseID uint32
	ID           uint16
}

// Element describes an information element.
type Element struct {
	EnterpriseID uint32
	ID           uint16
	Name         string
	Type         Type
	Semantics    Semantics
}

// Registry is an immutable information element registry.
type Registry struct {
	elements map[Key]Element
	byName   map[string]Key
	scopes   map[uint16]Element
}

// New creates a new registry from the builtin elements and the
// configured ones.
func New(r *reporter.Reporter, config Configuration) (*Registry, error) {
	reg := &Registry{
		elements: make(map[Key]Element, len(builtinElements)+len(config.Elements)),
		byName:   make(map[string]Key, len(builtinElements)+len(config.Elements)),
		scopes:   make(map[uint16]Element, len(scopeElements)),
	}
	for _, e := range builtinElements {
		reg.add(e)
	}
	for _, e := range scopeElements {
		reg.scopes[e.ID] = e
	}
	for _, ec := range config.Elements {
		e := Element{
			EnterpriseID: ec.EnterpriseID,
			ID:           ec.ID,
			Name:         ec.Name,
			Type:         ec.Type,
			Semantics:    ec.Semantics,
		}
		if other, ok := reg.byName[e.Name]; ok && other != e.key() {
			return nil, fmt.Errorf("element name %q used by both %s and %s",
				e.Name, other, e.key())
		}
		if previous, ok := reg.elements[e.key()]; ok {
			delete(reg.byName, previous.Name)
			r.Info().
				Str("element", e.key().String()).
				Str("previous", previous.Name).
				Str("name", e.Name).
				Msg("overriding builtin information element")
		}
		reg.add(e)
	}
	r.Debug().Int("elements", len(reg.elements)).Msg("information element registry ready")
	return reg, nil
}

func (reg *Registry) add(e Element) {
	reg.elements[e.key()] = e
	reg.byName[e.Name] = e.key()
}

func (e Element) key() Key {
	return Key{EnterpriseID: e.EnterpriseID, ID: e.ID}
}

// String formats a key as "enterprise/id".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.EnterpriseID, k.ID)
}

// Lookup returns the element for the provided identifiers. When the
// element is unknown, an opaque element is returned with a synthetic
// name and the second value is false.
func (reg *Registry) Lookup(enterpriseID uint32, id uint16) (Element, bool) {
	if e, ok := reg.elements[Key{EnterpriseID: enterpriseID, ID: id}]; ok {
		return e, true
	}
	return Unknown(enterpriseID, id), false
}

// LookupByName returns the element with the provided name.
func (reg *Registry) LookupByName(name string) (Element, bool) {
	k, ok := reg.byName[name]
	if !ok {
		return Element{}, false
	}
	return reg.elements[k], true
}

// LookupScope returns the element for a NetFlow v9 scope field type.
func (reg *Registry) LookupScope(id uint16) (Element, bool) {
	if e, ok := reg.scopes[id]; ok {
		return e, true
	}
	return Element{ID: id, Name: fmt.Sprintf("scope%d", id)}, false
}

// Len returns the number of known elements.
func (reg *Registry) Len() int {
	return len(reg.elements)
}

// Unknown returns the opaque element used for unknown identifiers.
func Unknown(enterpriseID uint32, id uint16) Element {
	name := fmt.Sprintf("ie%d", id)
	if enterpriseID != 0 {
		name = fmt.Sprintf("ie%d_%d", enterpriseID, id)
	}
	return Element{
		EnterpriseID: enterpriseID,
		ID:           id,
		Name:         name,
		Type:         OctetArray,
	}
}

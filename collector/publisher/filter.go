// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package publisher

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"flowpipe/collector/decoder"
)

// FilterRule is an expression selecting the records sent to a group.
type FilterRule struct {
	source  string
	program *vm.Program
}

// filterEnvironment defines the environment used by group filters.
type filterEnvironment struct {
	Protocol            string
	Exporter            string
	ObservationDomainID int
	TemplateID          int
	Fields              map[string]any
}

// Match tells if the record is accepted by the filter. An empty filter
// accepts everything.
func (fr FilterRule) Match(record decoder.Record) (bool, error) {
	if fr.program == nil {
		return true, nil
	}
	fields := make(map[string]any, len(record.Scopes)+len(record.Fields))
	for _, f := range record.Scopes {
		fields[f.Name] = f.Value
	}
	for _, f := range record.Fields {
		fields[f.Name] = f.Value
	}
	env := filterEnvironment{
		Protocol:            record.Protocol.String(),
		Exporter:            record.Exporter.String(),
		ObservationDomainID: int(record.ObservationDomainID),
		TemplateID:          int(record.TemplateID),
		Fields:              fields,
	}
	result, err := expr.Run(fr.program, env)
	if err != nil {
		return false, fmt.Errorf("unable to execute filter %q: %w", fr.source, err)
	}
	matched, _ := result.(bool)
	return matched, nil
}

// UnmarshalText compiles a filter.
func (fr *FilterRule) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*fr = FilterRule{}
		return nil
	}
	program, err := expr.Compile(string(text),
		expr.Env(filterEnvironment{}),
		expr.AsBool())
	if err != nil {
		return fmt.Errorf("cannot compile filter %q: %w", string(text), err)
	}
	*fr = FilterRule{source: string(text), program: program}
	return nil
}

// String turns a filter into a string.
func (fr FilterRule) String() string {
	return fr.source
}

// MarshalText turns a filter into a string.
func (fr FilterRule) MarshalText() ([]byte, error) {
	return []byte(fr.source), nil
}

// Equal tells if two filters are the same.
func (fr FilterRule) Equal(other FilterRule) bool {
	return fr.source == other.source
}

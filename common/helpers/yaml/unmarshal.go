// SPDX-FileCopyrightText: 2023 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package yaml wraps gopkg.in/yaml.v3 and adds the "!include" tag to
// split a configuration into several files.
package yaml

import (
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unmarshal decodes the first document found within the in byte slice and
// assigns decoded values into the out value.
func Unmarshal(in []byte, out any) error {
	return yaml.Unmarshal(in, out)
}

// UnmarshalWithInclude decodes the file named input from fsys into
// out. A scalar tagged with "!include" is replaced by the content of
// the file it names. Top-level keys starting with "." are removed:
// they are used to hold YAML anchors.
func UnmarshalWithInclude(fsys fs.FS, input string, out any) error {
	node, err := parseWithInclude(fsys, input, 0)
	if err != nil {
		return err
	}
	return node.Decode(out)
}

func parseWithInclude(fsys fs.FS, input string, depth int) (*yaml.Node, error) {
	if depth > 10 {
		return nil, fmt.Errorf("too many nested includes in %s", input)
	}
	in, err := fs.ReadFile(fsys, input)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", input, err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(in, &root); err != nil {
		return nil, fmt.Errorf("in %s: %w", input, err)
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.MappingNode {
		kept := node.Content[:0]
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind == yaml.ScalarNode && strings.HasPrefix(key.Value, ".") {
				continue
			}
			kept = append(kept, node.Content[i], node.Content[i+1])
		}
		node.Content = kept
	}

	todo := []*yaml.Node{node}
	for len(todo) > 0 {
		current := todo[0]
		todo = todo[1:]
		if current.Tag != "!include" {
			todo = append(todo, current.Content...)
			continue
		}
		if current.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("at line %d of %s, !include expects a file name", current.Line, input)
		}
		included, err := parseWithInclude(fsys, current.Value, depth+1)
		if err != nil {
			return nil, fmt.Errorf("at line %d of %s: %w", current.Line, input, err)
		}
		*current = *included
	}
	return node, nil
}

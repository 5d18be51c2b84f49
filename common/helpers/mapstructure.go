// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"
)

var mapstructureHooks = []mapstructure.DecodeHookFunc{}

// RegisterMapstructureUnmarshallerHook registers a new decoder hook for
// mapstructure. This should only be done during init.
func RegisterMapstructureUnmarshallerHook(hook mapstructure.DecodeHookFunc) {
	mapstructureHooks = append(mapstructureHooks, hook)
}

// GetMapStructureDecoderConfig returns a decoder config for
// mapstructure with all registered hooks. Keys are matched in a
// case-insensitive way, ignoring dashes, and unknown keys are errors.
func GetMapStructureDecoderConfig(config any, hooks ...mapstructure.DecodeHookFunc) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Result:           config,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		MatchName:        MapStructureMatchName,
		DecodeHook: ProtectedDecodeHookFunc(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.ComposeDecodeHookFunc(hooks...),
				mapstructure.ComposeDecodeHookFunc(mapstructureHooks...),
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	}
}

// ProtectedDecodeHookFunc wraps a DecodeHookFunc to turn a panic into an error.
func ProtectedDecodeHookFunc(hook mapstructure.DecodeHookFunc) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Value) (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v = nil
				err = fmt.Errorf("internal error while parsing: %s", r)
			}
		}()
		return mapstructure.DecodeHookExec(hook, from, to)
	}
}

// MapStructureMatchName tells if map key and field names are equal.
// "receive-buffer" matches "ReceiveBuffer".
func MapStructureMatchName(mapKey, fieldName string) bool {
	return strings.EqualFold(strings.ReplaceAll(mapKey, "-", ""), fieldName)
}

// mapStringKeys iterates over the string keys of a map value.
func mapStringKeys(m reflect.Value, fn func(key reflect.Value, name string) error) error {
	for _, key := range m.MapKeys() {
		k := ElemOrIdentity(key)
		if k.Kind() != reflect.String {
			continue
		}
		if err := fn(key, k.String()); err != nil {
			return err
		}
	}
	return nil
}

// DefaultValuesUnmarshallerHook fills missing keys with the non-zero
// values of the provided default configuration. This is useful for
// lists of structures where mapstructure cannot start from a default
// value.
func DefaultValuesUnmarshallerHook[Configuration any](defaultConfiguration Configuration) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Value) (any, error) {
		from = ElemOrIdentity(from)
		to = ElemOrIdentity(to)
		if to.Type() != reflect.TypeOf(defaultConfiguration) || from.Kind() != reflect.Map {
			return from.Interface(), nil
		}
		defaults := reflect.ValueOf(defaultConfiguration)
		missing := map[string]bool{}
		for i := range defaults.NumField() {
			if !defaults.Field(i).IsZero() {
				missing[defaults.Type().Field(i).Name] = true
			}
		}
		mapStringKeys(from, func(_ reflect.Value, name string) error {
			for field := range missing {
				if MapStructureMatchName(name, field) {
					delete(missing, field)
				}
			}
			return nil
		})
		for field := range missing {
			from.SetMapIndex(reflect.ValueOf(field), defaults.FieldByName(field))
		}
		return from.Interface(), nil
	}
}

// innerTypeName returns the key of innerConfigurationMap producing
// the provided type.
func innerTypeName[InnerConfiguration any](t reflect.Type, innerConfigurationMap map[string](func() InnerConfiguration)) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	for name, fn := range innerConfigurationMap {
		candidate := reflect.TypeOf(fn())
		if candidate.Kind() == reflect.Pointer {
			candidate = candidate.Elem()
		}
		if candidate == t {
			return name
		}
	}
	return ""
}

// ParametrizedConfigurationUnmarshallerHook decodes a configuration
// structure parametrized by a "type" key. The outer structure has a
// "Config" field holding the inner configuration. Keys not matching a
// field of the outer structure go to the inner one, whose default
// value is provided by innerConfigurationMap.
func ParametrizedConfigurationUnmarshallerHook[OuterConfiguration any, InnerConfiguration any](zeroOuterConfiguration OuterConfiguration, innerConfigurationMap map[string](func() InnerConfiguration)) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Value) (any, error) {
		if to.Type() != reflect.TypeOf(zeroOuterConfiguration) {
			return from.Interface(), nil
		}
		if from.Kind() != reflect.Map {
			return nil, errors.New("configuration should be a map")
		}
		configField := to.FieldByName("Config")
		innerMap := reflect.MakeMap(reflect.TypeOf(gin.H{}))
		outerType := to.Type()

		var innerType string
		err := mapStringKeys(from, func(key reflect.Value, name string) error {
			switch strings.ToLower(name) {
			case "type":
				value := ElemOrIdentity(from.MapIndex(key))
				if value.Kind() != reflect.String {
					return fmt.Errorf("type should be a string not %s", value.Kind())
				}
				innerType = strings.ToLower(value.String())
				from.SetMapIndex(key, reflect.Value{})
				return nil
			case "config":
				return errors.New("configuration should not have a `config' key")
			}
			for i := range outerType.NumField() {
				if MapStructureMatchName(name, outerType.Field(i).Name) {
					return nil
				}
			}
			innerMap.SetMapIndex(reflect.ValueOf(name), from.MapIndex(key))
			from.SetMapIndex(key, reflect.Value{})
			return nil
		})
		if err != nil {
			return nil, err
		}
		from.SetMapIndex(reflect.ValueOf("config"), innerMap)

		if innerType == "" && !configField.IsNil() {
			innerType = innerTypeName(configField.Elem().Type(), innerConfigurationMap)
		}
		if innerType == "" {
			return nil, errors.New("configuration has no type")
		}
		newInner, ok := innerConfigurationMap[innerType]
		if !ok {
			return nil, fmt.Errorf("%q is not a known type", innerType)
		}

		// Start from the current value when it has the right type,
		// otherwise from the default one.
		defaultValue := newInner()
		original := reflect.Indirect(reflect.ValueOf(defaultValue))
		if !configField.IsNil() && configField.Elem().Type() == reflect.TypeOf(defaultValue) {
			original = reflect.Indirect(configField.Elem())
		}
		copied := reflect.New(original.Type())
		copied.Elem().Set(original)
		configField.Set(copied)
		return from.Interface(), nil
	}
}

// ParametrizedConfigurationMarshalYAML undoes ParametrizedConfigurationUnmarshallerHook().
func ParametrizedConfigurationMarshalYAML[OuterConfiguration any, InnerConfiguration any](oc OuterConfiguration, innerConfigurationMap map[string](func() InnerConfiguration)) (any, error) {
	outer := ElemOrIdentity(reflect.ValueOf(oc))
	result := gin.H{}
	var inner reflect.Value
	for i, field := range reflect.VisibleFields(outer.Type()) {
		if field.Name == "Config" {
			inner = reflect.Indirect(outer.Field(i).Elem())
			continue
		}
		result[strings.ToLower(field.Name)] = outer.Field(i).Interface()
	}
	if !inner.IsValid() {
		return nil, errors.New("configuration has no inner configuration")
	}
	innerType := innerTypeName(inner.Type(), innerConfigurationMap)
	if innerType == "" {
		return nil, errors.New("unable to guess configuration type")
	}
	result["type"] = innerType
	for _, field := range reflect.VisibleFields(inner.Type()) {
		if field.Anonymous || !field.IsExported() {
			continue
		}
		result[strings.ToLower(field.Name)] = inner.FieldByIndex(field.Index).Interface()
	}
	return result, nil
}

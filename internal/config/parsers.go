// Package config loads runnerprobe settings from flags and an optional JSON or
// YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first candidate key present in settings, trying
// each key as written and lowercased.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// blank reports whether value is nil or a whitespace-only string; every
// coercer maps it to the zero value.
func blank(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	if blank(value) {
		return 0, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	if blank(value) {
		return false, nil
	}
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	return cast.ToBoolE(value)
}

// asDuration accepts Go duration strings and bare numbers. Numbers are
// seconds, fractional ones included, unlike cast which reads them as
// nanoseconds.
func asDuration(value interface{}) (time.Duration, error) {
	if blank(value) {
		return 0, nil
	}
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	return cast.ToStringMapStringE(value)
}

// asStringSlice keeps a lone string as one element instead of splitting it
// on whitespace.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	return cast.ToStringSliceE(value)
}

// toStringKeyMap normalises a decoded section to lowercase string keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	result := make(map[string]interface{}, len(m))
	for key, val := range m {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}

// setting looks up keys and coerces the value with conv, naming the first key
// in any error.
func setting[T any](settings map[string]interface{}, dst *T, conv func(interface{}) (T, error), keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := conv(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}

func setString(settings map[string]interface{}, dst *string, keys ...string) error {
	if err := setting(settings, dst, asString, keys...); err != nil {
		return err
	}
	*dst = strings.TrimSpace(*dst)
	return nil
}

func setInt(settings map[string]interface{}, dst *int, keys ...string) error {
	return setting(settings, dst, asInt, keys...)
}

func setFloat(settings map[string]interface{}, dst *float64, keys ...string) error {
	return setting(settings, dst, asFloat64, keys...)
}

func setBool(settings map[string]interface{}, dst *bool, keys ...string) error {
	return setting(settings, dst, asBool, keys...)
}

func setDuration(settings map[string]interface{}, dst *time.Duration, keys ...string) error {
	return setting(settings, dst, asDuration, keys...)
}

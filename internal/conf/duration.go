package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that serializes as "90m" style strings in
// JSON and YAML, so API consumers and config files never see nanoseconds.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// parseDuration accepts "5m" style strings or bare integer nanoseconds.
func parseDuration(s string) (Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if nanos, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(nanos), nil
	}
	return 0, fmt.Errorf("invalid duration %q: expected a value like \"30s\" or \"5m\"", s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a string, a number of nanoseconds, or null.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		parsed, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = parsed
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration value %v (%T)", raw, raw)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration, got node kind %v", node.Kind)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode string, integer and float values into
// Duration fields while keeping the usual time.Duration and slice hooks.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			switch v := data.(type) {
			case string:
				return parseDuration(v)
			case int:
				return Duration(v), nil
			case int64:
				return Duration(v), nil
			case float64:
				return Duration(int64(v)), nil
			default:
				return data, nil
			}
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

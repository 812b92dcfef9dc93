package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config values may be written as "350ms"
// strings or as plain numbers of seconds (0.35).
type Duration struct {
	time.Duration
}

// DurationFrom creates a Duration from a standard time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

// Seconds builds a Duration from fractional seconds.
func Seconds(s float64) Duration {
	return Duration{Duration: time.Duration(s * float64(time.Second))}
}

// parseDuration reads Go duration syntax or a bare number of seconds. Blank
// input is zero.
func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Duration{}, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return Seconds(secs), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return DurationFrom(d), nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	*d, err = parseDuration(string(text))
	return err
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON takes either a JSON number of seconds or a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err == nil {
		return d.UnmarshalText([]byte(raw))
	}
	return d.UnmarshalText(b)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		d.Duration = 0
		return nil
	}
	return d.UnmarshalText([]byte(node.Value))
}

// String implements flag.Value.
func (d *Duration) String() string {
	if d == nil {
		return "0s"
	}
	return d.Duration.String()
}

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

func (d Duration) IsZero() bool {
	return d.Duration == 0
}

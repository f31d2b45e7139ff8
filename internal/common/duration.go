package common

import (
	"fmt"
	"time"
)

// Duration is a time.Duration read from config as a Go duration string ("5s", "250ms").
// Bare TOML integers are rejected rather than read as nanoseconds.
type Duration struct {
	time.Duration
}

// Seconds builds a Duration of n seconds
func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

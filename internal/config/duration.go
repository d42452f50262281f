package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration; "" is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// durationFields lists every duration-typed setting with its config path.
func (c *Config) durationFields() map[string]string {
	return map[string]string{
		"relay.dial_timeout":    c.Relay.DialTimeout,
		"relay.timeout":         c.Relay.Timeout,
		"dispatch.interval":     c.Dispatch.Interval,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
		"control.read_timeout":  c.Control.ReadTimeout,
		"control.write_timeout": c.Control.WriteTimeout,
		"control.idle_timeout":  c.Control.IdleTimeout,
		"telegram.poll_timeout": c.Telegram.PollTimeout,
	}
}

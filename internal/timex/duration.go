// Package timex parses the compact lifetime notation used for token and
// rate-limit settings ("30s", "15m", "1h", "7d") and provides a JSON-friendly
// Duration wrapper for configuration files.
package timex

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidDurationFormat is returned when a lifetime string is not a
// non-negative integer followed by one of the s, m, h, d suffixes.
var ErrInvalidDurationFormat = errors.New("invalid duration format")

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration converts a lifetime string into a time.Duration.
//
//	ParseDuration("15m") // 15 * time.Minute
//	ParseDuration("7d")  // 168 * time.Hour
//	ParseDuration("10x") // ErrInvalidDurationFormat
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	unit := units[m[2]]
	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidDurationFormat, s)
	}

	return time.Duration(n) * unit, nil
}

// ExpiryFrom returns the absolute instant at which a lifetime that started
// at now ends.
func ExpiryFrom(now time.Time, lifetime string) (time.Time, error) {
	d, err := ParseDuration(lifetime)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}

// Duration wraps time.Duration for JSON configuration. It accepts the
// compact lifetime notation, any Go duration string ("1h30m") or an integer
// number of nanoseconds.
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		if parsed, err := ParseDuration(value); err == nil {
			d.Duration = parsed
			return nil
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDurationFormat, value)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("%w: unsupported json value %s", ErrInvalidDurationFormat, string(b))
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

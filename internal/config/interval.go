package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval is a duration written as a count and a unit: 30s, 15m, 1h, 2d,
// 1w. Plain Go durations such as 1h30m are accepted too.
type Interval time.Duration

// Duration converts i to a time.Duration.
func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) String() string {
	d := time.Duration(i)
	switch {
	case d == 0:
		return ""
	case d%(7*24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(7*24*time.Hour)), 10) + "w"
	case d%(24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	}
	return d.String()
}

// UnmarshalYAML accepts interval strings and bare integers (seconds).
func (i *Interval) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	d, err := ParseInterval(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*i = Interval(d)
	return nil
}

// MarshalYAML writes the short form.
func (i Interval) MarshalYAML() (any, error) {
	return i.String(), nil
}

// ParseInterval parses an interval. The empty string is zero.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	unit := s[len(s)-1]
	if n, err := strconv.ParseInt(s[:len(s)-1], 10, 64); err == nil {
		switch unit {
		case 'd':
			return time.Duration(n) * 24 * time.Hour, nil
		case 'w':
			return time.Duration(n) * 7 * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (examples: 30s, 15m, 1h, 2d, 1w)", s)
	}
	return d, nil
}

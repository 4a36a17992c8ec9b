package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written either as a number or as a human size such
// as "16M" or "512KiB".
type Size int64

// ParseSize parses a plain integer or a bytefmt quantity.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("config: negative size %q", s)
		}
		return Size(n), nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("config: size %q: %w", s, err)
	}
	return Size(n), nil
}

// Int returns the size as an int.
func (s Size) Int() int { return int(s) }

// String formats the size like "16M".
func (s Size) String() string { return bytefmt.ByteSize(uint64(s)) }

// UnmarshalJSON accepts numbers and strings.
func (s *Size) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 0 {
			return fmt.Errorf("config: negative size %d", n)
		}
		*s = Size(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("config: size must be a number or string: %s", b)
	}
	v, err := ParseSize(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalYAML accepts scalars in either form.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: size must be a scalar", node.Line)
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

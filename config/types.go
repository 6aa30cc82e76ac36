package config

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Secret is a string that is masked when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 5)
}

// Size is a byte count that can be written as "4MB", "512KiB" or a plain number.
// Units are binary (1KB = 1024 bytes).
type Size int64

// ParseSize ...
func ParseSize(s string) (Size, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse size %q: %w", s, err)
	}
	return Size(n), nil
}

// UnmarshalYAML ...
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseSize(value.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Size) String() string {
	return units.BytesSize(float64(s))
}

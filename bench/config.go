// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package bench

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// A Datatype names the element type exchanged by a benchmark.
type Datatype string

// The supported benchmark datatypes.
const (
	Simple             Datatype = "simple"              // int32 values
	ComplexNoncompound Datatype = "complex-noncompound" // fixed-size records
	ComplexCompound    Datatype = "complex-compound"    // records with a variable tail
)

// Datatypes lists the supported datatypes.
var Datatypes = []Datatype{Simple, ComplexNoncompound, ComplexCompound}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Datatype) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	switch v := Datatype(s); v {
	case Simple, ComplexNoncompound, ComplexCompound:
		*d = v
		return nil
	}
	return fmt.Errorf("line %d: unknown datatype %q (want one of %v)", node.Line, s, Datatypes)
}

// Config is the configuration of a benchmark run. Sizes are in bytes, and
// message sizes are doubled from MinSize up to MaxSize.
type Config struct {
	MinSize          int      `yaml:"min_size"`
	MaxSize          int      `yaml:"max_size"`
	WindowSize       int      `yaml:"window_size"`       // bandwidth only
	Iterations       int      `yaml:"iterations"`        // timed iterations per size
	Skip             int      `yaml:"skip"`              // untimed iterations per size
	WarmupValidation int      `yaml:"warmup_validation"` // validated repeats before each timed one
	Datatype         Datatype `yaml:"datatype"`
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() *Config {
	return &Config{
		MinSize:          4,
		MaxSize:          1 << 20,
		WindowSize:       64,
		Iterations:       100,
		Skip:             10,
		WarmupValidation: 1,
		Datatype:         Simple,
	}
}

// Check reports an error if c is not a valid configuration.
func (c *Config) Check() error {
	var errs []error
	if c.MinSize <= 0 {
		errs = append(errs, fmt.Errorf("min_size must be positive (got %d)", c.MinSize))
	}
	if c.MaxSize < c.MinSize {
		errs = append(errs, fmt.Errorf("max_size %d is less than min_size %d", c.MaxSize, c.MinSize))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window_size must be positive (got %d)", c.WindowSize))
	}
	if c.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("iterations must be positive (got %d)", c.Iterations))
	}
	if c.Skip < 0 || c.WarmupValidation < 0 {
		errs = append(errs, errors.New("skip and warmup_validation must not be negative"))
	}
	if c.Datatype == "" {
		errs = append(errs, errors.New("missing datatype"))
	}
	return errors.Join(errs...)
}

// Sizes returns the message sizes, in bytes, covered by c.
func (c *Config) Sizes() []int {
	var out []int
	for size := c.MinSize; size > 0 && size <= c.MaxSize; size *= 2 {
		out = append(out, size)
	}
	return out
}

// ParseConfig parses a YAML configuration from data. Settings not given in
// data have their default values. Unknown fields are reported as errors.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && len(bytes.TrimSpace(data)) != 0 {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration from the file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

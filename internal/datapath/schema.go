package datapath

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema is a validation schema for raw cycler files. Schemas are YAML
// documents; when no schema file is supplied the built-in default applies.
type Schema struct {
	Name            string   `yaml:"name"`
	RequiredColumns []string `yaml:"required_columns"`
	Monotonic       []string `yaml:"monotonic"`
	Voltage         struct {
		Min float64 `yaml:"min"`
		Max float64 `yaml:"max"`
	} `yaml:"voltage"`
	MinRows int `yaml:"min_rows"`
}

// DefaultSchema covers the standard cycler export layout.
func DefaultSchema() *Schema {
	s := &Schema{
		Name: "default-cycler",
		RequiredColumns: []string{
			"cycle_index",
			"test_time",
			"current",
			"voltage",
			"charge_capacity",
			"discharge_capacity",
		},
		Monotonic: []string{"test_time"},
		MinRows:   2,
	}
	s.Voltage.Min = 0
	s.Voltage.Max = 10
	return s
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

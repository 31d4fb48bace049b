package main

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("invalid run configuration")

// runConfig is the optional YAML run configuration. It carries the
// settings that are unwieldy on the command line: natural-abundance
// overrides and the manual indistinguishable-element lists.
type runConfig struct {
	// Tracers used when the -tracers flag is not given.
	Tracers []string `yaml:"tracers"`
	// NAValues overrides natural-abundance vectors, keyed by element
	// or isotope name, e.g. {C: [0.95, 0.05]}.
	NAValues map[string][]float64 `yaml:"na_values"`
	// Indistinguishable maps a tracer element to the elements or
	// isotopes folded into its correction matrix, e.g. {C: [H, O17]}.
	Indistinguishable map[string][]string `yaml:"indistinguishable"`
}

func readConfig(filename string) (*runConfig, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var conf runConfig
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &conf, nil
}

func (c *runConfig) validate() error {
	for name, vec := range c.NAValues {
		if len(vec) < 2 {
			return fmt.Errorf("%w: na_values for %s needs at least two probabilities", ErrConfig, name)
		}
		sum := 0.0
		for _, p := range vec {
			if p < 0 {
				return fmt.Errorf("%w: na_values for %s has a negative probability", ErrConfig, name)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-3 {
			return fmt.Errorf("%w: na_values for %s sum to %g, want 1", ErrConfig, name, sum)
		}
	}
	for elem, list := range c.Indistinguishable {
		if elem == "" {
			return fmt.Errorf("%w: empty tracer element in indistinguishable", ErrConfig)
		}
		for _, cand := range list {
			if cand == "" {
				return fmt.Errorf("%w: empty candidate for element %s", ErrConfig, elem)
			}
		}
	}
	return nil
}

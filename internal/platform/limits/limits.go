// Package limits holds the guardrail bounds applied to experiment start
// requests. Bounds ship as defaults and may be overridden by a YAML spec
// file.
package limits

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/adlift-labs/adlift-go/internal/platform/env"
)

const SpecSchemaV1 = "adlift.limits.v1"

type Spec struct {
	Schema string `yaml:"schema"`

	MinBudgetCents     int64 `yaml:"min_budget_cents"`
	MaxBudgetCents     int64 `yaml:"max_budget_cents"`
	DefaultBudgetCents int64 `yaml:"default_budget_cents"`

	MinImpressions     int64 `yaml:"min_impressions"`
	MaxImpressions     int64 `yaml:"max_impressions"`
	DefaultImpressions int64 `yaml:"default_impressions"`

	MinVariants int `yaml:"min_variants"`
	MaxVariants int `yaml:"max_variants"`
}

func Default() Spec {
	return Spec{
		Schema:             SpecSchemaV1,
		MinBudgetCents:     500,
		MaxBudgetCents:     10000,
		DefaultBudgetCents: 2000,
		MinImpressions:     100,
		MaxImpressions:     10000,
		DefaultImpressions: 1000,
		MinVariants:        2,
		MaxVariants:        5,
	}
}

// FromEnv loads the spec file named by ADLIFT_LIMITS_FILE, or the defaults
// when the variable is unset. ADLIFT_DEFAULT_BUDGET_CENTS and
// ADLIFT_DEFAULT_IMPRESSIONS override the loaded defaults and must still
// land within the spec's bounds.
func FromEnv() (Spec, error) {
	spec := Default()
	if path := strings.TrimSpace(env.String("ADLIFT_LIMITS_FILE", "")); path != "" {
		var err error
		spec, err = FromFile(path)
		if err != nil {
			return Spec{}, err
		}
	}
	var err error
	spec.DefaultBudgetCents, err = env.Int64("ADLIFT_DEFAULT_BUDGET_CENTS", spec.DefaultBudgetCents)
	if err != nil {
		return Spec{}, err
	}
	spec.DefaultImpressions, err = env.Int64("ADLIFT_DEFAULT_IMPRESSIONS", spec.DefaultImpressions)
	if err != nil {
		return Spec{}, err
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func FromFile(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read limits file: %w", err)
	}
	return ParseSpec(raw)
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode limits spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if s.MinBudgetCents <= 0 {
		return fmt.Errorf("min_budget_cents must be positive")
	}
	if s.MaxBudgetCents < s.MinBudgetCents {
		return fmt.Errorf("max_budget_cents must be >= min_budget_cents")
	}
	if s.DefaultBudgetCents < s.MinBudgetCents || s.DefaultBudgetCents > s.MaxBudgetCents {
		return fmt.Errorf("default_budget_cents must be within [min, max]")
	}
	if s.MinImpressions <= 0 {
		return fmt.Errorf("min_impressions must be positive")
	}
	if s.MaxImpressions < s.MinImpressions {
		return fmt.Errorf("max_impressions must be >= min_impressions")
	}
	if s.DefaultImpressions < s.MinImpressions || s.DefaultImpressions > s.MaxImpressions {
		return fmt.Errorf("default_impressions must be within [min, max]")
	}
	if s.MinVariants < 2 {
		return fmt.Errorf("min_variants must be >= 2")
	}
	if s.MaxVariants < s.MinVariants {
		return fmt.Errorf("max_variants must be >= min_variants")
	}
	return nil
}

// CheckBudget validates a requested budget against the bounds.
func (s Spec) CheckBudget(cents int64) error {
	if cents < s.MinBudgetCents || cents > s.MaxBudgetCents {
		return fmt.Errorf("budget %d outside allowed range [%d, %d]", cents, s.MinBudgetCents, s.MaxBudgetCents)
	}
	return nil
}

// CheckImpressions validates a requested impression target against the bounds.
func (s Spec) CheckImpressions(n int64) error {
	if n < s.MinImpressions || n > s.MaxImpressions {
		return fmt.Errorf("impression target %d outside allowed range [%d, %d]", n, s.MinImpressions, s.MaxImpressions)
	}
	return nil
}

// CheckVariants validates an A/B variant count against the bounds.
func (s Spec) CheckVariants(n int) error {
	if n < s.MinVariants || n > s.MaxVariants {
		return fmt.Errorf("variant count %d outside allowed range [%d, %d]", n, s.MinVariants, s.MaxVariants)
	}
	return nil
}

// Package simulate runs attack simulations: scenarios materialize into
// synthetic events that flow through the live detection and correlation
// path, so the alerts they trigger are real alerts with a simulation
// back-reference.
package simulate

import (
	"fmt"

	"vanguard/core"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Scenario intensities and their event pacing.
const (
	IntensityLow    = "low"
	IntensityMedium = "medium"
	IntensityHigh   = "high"
)

// intensityLimit maps a scenario intensity onto an event generation
// rate. Unknown intensities pace like medium.
func intensityLimit(intensity string) rate.Limit {
	switch intensity {
	case IntensityLow:
		return rate.Limit(1)
	case IntensityHigh:
		return rate.Limit(20)
	default:
		return rate.Limit(5)
	}
}

// ParseScenario decodes a YAML scenario definition and validates it.
func ParseScenario(data []byte) (core.Scenario, error) {
	var sc core.Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return core.Scenario{}, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := ValidateScenario(&sc); err != nil {
		return core.Scenario{}, err
	}
	return sc, nil
}

var scenarioValidate = validator.New()

// ValidateScenario checks a scenario is runnable: at least one template,
// every template typed, every severity known.
func ValidateScenario(sc *core.Scenario) error {
	if err := scenarioValidate.Struct(sc); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	for i, tpl := range sc.Templates {
		if tpl.Severity != "" && !tpl.Severity.IsValid() {
			return fmt.Errorf("invalid scenario: template %d has unknown severity %q", i, tpl.Severity)
		}
	}
	return nil
}

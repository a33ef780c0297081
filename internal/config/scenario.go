package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cambistlabs/cambist/pkg/quant"
)

// AccountSpec declares an initial account.
type AccountSpec struct {
	Name      string  `yaml:"name" validate:"required"`
	Value     float64 `yaml:"value"`
	Numeraire string  `yaml:"numeraire" validate:"required"`
}

// InterestSpec declares an interest accrual on an account. Nil bounds mean
// unbounded on that side.
type InterestSpec struct {
	Account    string   `yaml:"account" validate:"required"`
	Rate       float64  `yaml:"rate"`
	LowerBound *float64 `yaml:"lower_bound"`
	UpperBound *float64 `yaml:"upper_bound"`
}

// Bounds returns the value bounds with infinities for missing sides.
func (i *InterestSpec) Bounds() (float64, float64) {
	lower, upper := math.Inf(-1), math.Inf(1)
	if i.LowerBound != nil {
		lower = *i.LowerBound
	}
	if i.UpperBound != nil {
		upper = *i.UpperBound
	}
	return lower, upper
}

// CostSpec declares the transaction cost filter.
type CostSpec struct {
	Account  string   `yaml:"account" validate:"required"`
	Cost     float64  `yaml:"cost" validate:"gte=0"`
	Variable string   `yaml:"variable" validate:"required"`
	Excluded []string `yaml:"excluded"`
}

// Scenario is the backtest definition: the portfolio and the policy
// parameters.
type Scenario struct {
	DefaultNumeraire   string             `yaml:"default_numeraire" validate:"required"`
	StartTime          time.Time          `yaml:"start_time"`
	MaxIterations      int                `yaml:"max_iterations" validate:"gt=0"`
	Accounts           []AccountSpec      `yaml:"accounts" validate:"required,dive"`
	Interest           []InterestSpec     `yaml:"interest" validate:"dive"`
	Costs              *CostSpec          `yaml:"costs"`
	TargetWeights      map[string]float64 `yaml:"target_weights" validate:"required"`
	RebalanceThreshold float64            `yaml:"rebalance_threshold" validate:"gte=0"`
	Label              string             `yaml:"label"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("malformed scenario: %w", err)
	}
	if err := validator.New().Struct(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := quant.CheckID(sc.DefaultNumeraire); err != nil {
		return nil, fmt.Errorf("default numeraire: %w", err)
	}
	sum := 0.0
	for num, w := range sc.TargetWeights {
		if err := quant.CheckID(num); err != nil {
			return nil, fmt.Errorf("target weight numeraire: %w", err)
		}
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("target weight for %s out of [0, 1]: %g", num, w)
		}
		sum += w
	}
	if sum > 1+quant.EpsFinancial {
		return nil, fmt.Errorf("target weights sum to %g, must not exceed 1", sum)
	}
	for _, spec := range sc.Interest {
		lower, upper := spec.Bounds()
		if lower > upper {
			return nil, fmt.Errorf("interest on %s: lower bound %g above upper bound %g", spec.Account, lower, upper)
		}
	}
	if sc.RebalanceThreshold == 0 {
		sc.RebalanceThreshold = 0.01
	}
	return &sc, nil
}

// CheckNumeraires cross-checks every numeraire the scenario references
// against the ones present in the loaded price data, suggesting the closest
// known name for unknown references.
func (sc *Scenario) CheckNumeraires(known []string) error {
	knownSet := make(map[string]bool, len(known))
	for _, n := range known {
		knownSet[n] = true
	}
	check := func(num, context string) error {
		if knownSet[num] {
			return nil
		}
		if suggestion := closest(num, known); suggestion != "" {
			return fmt.Errorf("%s references unknown numeraire %q, did you mean %q?", context, num, suggestion)
		}
		return fmt.Errorf("%s references unknown numeraire %q", context, num)
	}
	if err := check(sc.DefaultNumeraire, "default_numeraire"); err != nil {
		return err
	}
	for _, acc := range sc.Accounts {
		if err := check(acc.Numeraire, "account "+acc.Name); err != nil {
			return err
		}
	}
	for num := range sc.TargetWeights {
		if err := check(num, "target_weights"); err != nil {
			return err
		}
	}
	return nil
}

func closest(num string, known []string) string {
	best, bestDist := "", -1
	for _, k := range known {
		d := levenshtein.ComputeDistance(num, k)
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	// A suggestion further than half the identifier away is noise.
	if bestDist < 0 || bestDist > len(num)/2+1 {
		return ""
	}
	return best
}

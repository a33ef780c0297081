package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
default_numeraire: EUR
start_time: 2020-01-02T00:00:00Z
max_iterations: 500
accounts:
  - name: EUR
    value: 100000
    numeraire: EUR
  - name: USD
    value: 0
    numeraire: USD
interest:
  - account: EUR
    rate: 0.01
    upper_bound: 0
costs:
  account: EUR
  cost: 2.5
  variable: transaction_costs
target_weights:
  USD: 0.5
rebalance_threshold: 0.02
label: smoke
`

func TestLoadScenario(t *testing.T) {
	path := writeFile(t, "scenario.yaml", validScenario)
	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "EUR", sc.DefaultNumeraire)
	assert.Equal(t, 500, sc.MaxIterations)
	require.Len(t, sc.Accounts, 2)
	assert.Equal(t, 100000.0, sc.Accounts[0].Value)
	assert.Equal(t, 0.02, sc.RebalanceThreshold)
	assert.Equal(t, "smoke", sc.Label)

	require.Len(t, sc.Interest, 1)
	lower, upper := sc.Interest[0].Bounds()
	assert.True(t, math.IsInf(lower, -1))
	assert.Equal(t, 0.0, upper)

	require.NotNil(t, sc.Costs)
	assert.Equal(t, 2.5, sc.Costs.Cost)
}

func TestLoadScenarioDefaultsThreshold(t *testing.T) {
	path := writeFile(t, "scenario.yaml", `
default_numeraire: EUR
max_iterations: 10
accounts:
  - name: EUR
    value: 100
    numeraire: EUR
target_weights:
  USD: 0.5
`)
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 0.01, sc.RebalanceThreshold)
}

func TestLoadScenarioValidation(t *testing.T) {
	cases := map[string]string{
		"missing default numeraire": `
max_iterations: 10
accounts:
  - name: EUR
    value: 100
    numeraire: EUR
target_weights:
  USD: 0.5
`,
		"weight out of range": `
default_numeraire: EUR
max_iterations: 10
accounts:
  - name: EUR
    value: 100
    numeraire: EUR
target_weights:
  USD: 1.5
`,
		"weights exceed one": `
default_numeraire: EUR
max_iterations: 10
accounts:
  - name: EUR
    value: 100
    numeraire: EUR
target_weights:
  USD: 0.7
  JPY: 0.7
`,
		"inverted interest bounds": `
default_numeraire: EUR
max_iterations: 10
accounts:
  - name: EUR
    value: 100
    numeraire: EUR
interest:
  - account: EUR
    rate: 0.01
    lower_bound: 1
    upper_bound: 0
target_weights:
  USD: 0.5
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "scenario.yaml", content)
			_, err := LoadScenario(path)
			assert.Error(t, err)
		})
	}
}

func TestCheckNumeraires(t *testing.T) {
	path := writeFile(t, "scenario.yaml", validScenario)
	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.NoError(t, sc.CheckNumeraires([]string{"EUR", "USD", "JPY"}))
	assert.Error(t, sc.CheckNumeraires([]string{"EUR"}))
}

func TestCheckNumerairesSuggestsClosest(t *testing.T) {
	path := writeFile(t, "scenario.yaml", validScenario)
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	sc.TargetWeights = map[string]float64{"USDD": 0.5}

	err = sc.CheckNumeraires([]string{"EUR", "USD", "JPY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "USD"`)
}

func TestCheckNumerairesNoFarSuggestion(t *testing.T) {
	path := writeFile(t, "scenario.yaml", validScenario)
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	sc.TargetWeights = map[string]float64{"BITCOIN": 0.5}

	err = sc.CheckNumeraires([]string{"EUR", "USD", "JPY"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")
}

package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Scenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/remote_write_violation.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	AssertGolden(t, "remote_write_violation", result)
}

func TestRenderDeterminism(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/transaction_committed.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Run(scenario)
		require.NoError(t, err)
		assert.Equal(t, string(first.Render(scenario.Name)), string(again.Render(scenario.Name)), "run %d", i)
	}
}

func TestRender(t *testing.T) {
	r := NewResult()
	r.Tracef("add %d %s", 2, "NoOp")
	r.Tracef("verify ok")

	assert.Equal(t, "scenario: s\nadd 2 NoOp\nverify ok\n", string(r.Render("s")))
}

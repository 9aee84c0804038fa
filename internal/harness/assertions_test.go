package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScenario(t *testing.T, scenario *Scenario) *Result {
	t.Helper()
	result, err := Run(scenario)
	require.NoError(t, err)
	return result
}

func TestAssertions_QueueMismatch(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name:  "queue-mismatch",
		Steps: []Step{loiCreateStep("loi-1")},
		Assertions: []Assertion{
			{Type: AssertQueue}, // one mutation is still pending
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertion 0 (queue)")
}

func TestAssertions_EntityMissing(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name:  "entity-missing",
		Steps: []Step{loiCreateStep("loi-1")},
		Assertions: []Assertion{
			{Type: AssertEntity, EntityID: "loi-2"},
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "entity loi-2 not found")
}

func TestAssertions_EntityExpectedAbsent(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name:  "entity-expected-absent",
		Steps: []Step{loiCreateStep("loi-1")},
		Assertions: []Assertion{
			{Type: AssertEntity, EntityID: "loi-1", Exists: boolPtr(false)},
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected absent")
}

func TestAssertions_GeometryMismatch(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name:  "geometry-mismatch",
		Steps: []Step{loiCreateStep("loi-1")},
		Assertions: []Assertion{
			{Type: AssertEntity, EntityID: "loi-1", Geometry: map[string]any{
				"type":        "point",
				"coordinates": map[string]any{"lat": 99.0, "lng": 99.0},
			}},
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "geometry")
}

func TestAssertions_PushOutcomeMismatch(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name: "push-outcome-mismatch",
		Steps: []Step{
			loiCreateStep("loi-1"),
			{Outcome: "fail"},
			{Drain: true},
		},
		Assertions: []Assertion{
			{Type: AssertPushes, Outcomes: []string{"ok"}},
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "push outcomes")
}

func TestAssertions_SubsetResponseMatch(t *testing.T) {
	result := runScenario(t, &Scenario{
		Name: "subset-response-match",
		Steps: []Step{
			{Apply: &MutationStep{
				Type:       "CREATE",
				EntityKind: "SUBMISSION",
				EntityID:   "sub-1",
				SurveyID:   "survey-1",
				JobID:      "job-1",
				LoiID:      "loi-1",
				TaskID:     "task-1",
				Deltas: []any{
					map[string]any{"field_id": "species", "new_response": map[string]any{"type": "text", "text": "oak"}},
					map[string]any{"field_id": "count", "new_response": map[string]any{"type": "number", "number": 3.0}},
				},
			}},
		},
		Assertions: []Assertion{
			// Only one of the two fields is asserted; extras are ignored.
			{Type: AssertEntity, EntityID: "sub-1", Responses: map[string]map[string]any{
				"species": {"type": "text", "text": "oak"},
			}},
		},
	})

	assert.True(t, result.Pass, "failures: %v", result.Errors)
}

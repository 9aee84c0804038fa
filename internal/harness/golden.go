package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/geofield/fieldsync/internal/model"
)

// TraceSnapshot is the golden-file form of a scenario trace.
type TraceSnapshot struct {
	Scenario string       `json:"scenario"`
	Trace    []TraceEvent `json:"trace"`
}

// toCanonicalMap builds the value tree for canonical serialization. Unset
// event fields are omitted so golden files stay minimal.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		doc := map[string]any{
			"seq":  ev.Seq,
			"type": ev.Type,
		}
		if ev.EntityID != "" {
			doc["entity_id"] = ev.EntityID
		}
		if ev.MutationID != 0 {
			doc["mutation_id"] = ev.MutationID
		}
		if ev.MutationType != "" {
			doc["mutation_type"] = ev.MutationType
		}
		if len(ev.Mutations) > 0 {
			ids := make([]any, len(ev.Mutations))
			for j, id := range ev.Mutations {
				ids[j] = id
			}
			doc["mutations"] = ids
		}
		if ev.Outcome != "" {
			doc["outcome"] = ev.Outcome
		}
		if ev.Kind != "" {
			doc["kind"] = ev.Kind
		}
		events[i] = doc
	}
	return map[string]any{
		"scenario": s.Scenario,
		"trace":    events,
	}
}

// RunWithGolden executes a scenario, fails the test on assertion failures,
// and pins the trace against testdata/golden/<name>.golden. Regenerate with
// go test -update.
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	if !result.Pass {
		for _, msg := range result.Errors {
			t.Errorf("scenario %s: %s", scenario.Name, msg)
		}
		return
	}

	snapshot := TraceSnapshot{Scenario: scenario.Name, Trace: result.Trace}
	data, err := model.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}

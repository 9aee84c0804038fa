package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a YAML-defined sync session: a sequence of local edits, remote
// events, and drain cycles, plus assertions on the final state.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Retry overrides the retry cap. Zero means the syncer default.
	Retry RetrySpec `yaml:"retry,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RetrySpec tunes the retry policy for a scenario.
type RetrySpec struct {
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// Step is one scenario action. Exactly one directive must be set.
type Step struct {
	// Apply enqueues a local mutation.
	Apply *MutationStep `yaml:"apply,omitempty"`

	// Outcome scripts the result of the next push: "ok", "fail" (retryable)
	// or "reject" (permanent). Unscripted pushes succeed.
	Outcome string `yaml:"outcome,omitempty"`

	// Drain runs one synchronous drain cycle.
	Drain bool `yaml:"drain,omitempty"`

	// Remote delivers a change-feed event.
	Remote *RemoteStep `yaml:"remote,omitempty"`

	// Discard removes a queue row by id.
	Discard int64 `yaml:"discard,omitempty"`
}

// MutationStep describes a mutation in YAML form. Geometry and deltas use
// the tagged JSON shapes, expressed as YAML.
type MutationStep struct {
	Type       string `yaml:"type"`
	EntityKind string `yaml:"entity_kind"`
	EntityID   string `yaml:"entity_id"`
	SurveyID   string `yaml:"survey_id"`
	JobID      string `yaml:"job_id"`
	LoiID      string `yaml:"loi_id,omitempty"`
	TaskID     string `yaml:"task_id,omitempty"`
	User       string `yaml:"user,omitempty"`

	Geometry map[string]any `yaml:"geometry,omitempty"`
	Deltas   []any          `yaml:"deltas,omitempty"`
}

// RemoteStep describes a change-feed event in YAML form.
type RemoteStep struct {
	Kind   string     `yaml:"kind"` // ADDED, MODIFIED, REMOVED
	Entity *EntityDoc `yaml:"entity,omitempty"`

	// EntityID is used by REMOVED, which carries no snapshot.
	EntityID string `yaml:"entity_id,omitempty"`
}

// EntityDoc is a remote entity snapshot in YAML form.
type EntityDoc struct {
	ID        string                    `yaml:"id"`
	Kind      string                    `yaml:"kind"`
	SurveyID  string                    `yaml:"survey_id"`
	JobID     string                    `yaml:"job_id"`
	LoiID     string                    `yaml:"loi_id,omitempty"`
	TaskID    string                    `yaml:"task_id,omitempty"`
	State     string                    `yaml:"state,omitempty"`
	Geometry  map[string]any            `yaml:"geometry,omitempty"`
	Responses map[string]map[string]any `yaml:"responses,omitempty"`
}

// Assertion validates the final queue, an entity, or the push trace.
type Assertion struct {
	Type string `yaml:"type"`

	// queue
	Pending    int `yaml:"pending,omitempty"`
	InProgress int `yaml:"in_progress,omitempty"`
	Failed     int `yaml:"failed,omitempty"`
	Stuck      int `yaml:"stuck,omitempty"`

	// entity
	EntityID  string                    `yaml:"entity_id,omitempty"`
	Exists    *bool                     `yaml:"exists,omitempty"`
	State     string                    `yaml:"state,omitempty"`
	Geometry  map[string]any            `yaml:"geometry,omitempty"`
	Responses map[string]map[string]any `yaml:"responses,omitempty"`

	// pushes
	Count    int      `yaml:"count,omitempty"`
	Outcomes []string `yaml:"outcomes,omitempty"`
}

// Assertion types.
const (
	AssertQueue  = "queue"
	AssertEntity = "entity"
	AssertPushes = "pushes"
)

// LoadScenario reads and validates a scenario file. Unknown YAML keys are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks structural invariants before a run.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		switch a.Type {
		case AssertQueue, AssertPushes:
		case AssertEntity:
			if a.EntityID == "" {
				return fmt.Errorf("assertion %d: entity_id is required", i)
			}
		default:
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}

func (step Step) validate() error {
	directives := 0
	if step.Apply != nil {
		directives++
	}
	if step.Outcome != "" {
		switch step.Outcome {
		case "ok", "fail", "reject":
		default:
			return fmt.Errorf("unknown outcome %q", step.Outcome)
		}
		directives++
	}
	if step.Drain {
		directives++
	}
	if step.Remote != nil {
		directives++
	}
	if step.Discard != 0 {
		directives++
	}
	if directives != 1 {
		return fmt.Errorf("exactly one directive per step, got %d", directives)
	}
	return nil
}

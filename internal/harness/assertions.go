package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/store"
)

// evaluate checks every assertion against the final store state and the
// recorded trace, returning one failure message per violated assertion.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertQueue:
			err = h.assertQueue(ctx, a)
		case AssertEntity:
			err = h.assertEntity(ctx, a)
		case AssertPushes:
			err = h.assertPushes(a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func (h *Harness) assertQueue(ctx context.Context, a Assertion) error {
	stats, err := h.store.Stats(ctx, h.retryCap)
	if err != nil {
		return err
	}
	want := store.QueueStats{
		Pending:    a.Pending,
		InProgress: a.InProgress,
		Failed:     a.Failed,
		Stuck:      a.Stuck,
	}
	if stats != want {
		return fmt.Errorf("queue is %+v, want %+v", stats, want)
	}
	return nil
}

func (h *Harness) assertEntity(ctx context.Context, a Assertion) error {
	entity, err := h.store.Entity(ctx, a.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		if a.Exists != nil && !*a.Exists {
			return nil
		}
		return fmt.Errorf("entity %s not found", a.EntityID)
	}
	if err != nil {
		return err
	}
	if a.Exists != nil && !*a.Exists {
		return fmt.Errorf("entity %s exists, expected absent", a.EntityID)
	}

	if a.State != "" && entity.State != model.EntityState(a.State) {
		return fmt.Errorf("entity %s state is %s, want %s", a.EntityID, entity.State, a.State)
	}
	if a.Geometry != nil {
		if err := compareGeometry(entity.Geometry, a.Geometry); err != nil {
			return fmt.Errorf("entity %s: %w", a.EntityID, err)
		}
	}
	if a.Responses != nil {
		if err := compareResponses(entity.Responses, a.Responses); err != nil {
			return fmt.Errorf("entity %s: %w", a.EntityID, err)
		}
	}
	return nil
}

// compareResponses is a subset match: every expected field must be present
// with an equal response. Extra fields are ignored.
func compareResponses(got model.ResponseMap, expected map[string]map[string]any) error {
	for fieldID, doc := range expected {
		want, err := decodeResponse(doc)
		if err != nil {
			return fmt.Errorf("field %q: %w", fieldID, err)
		}
		have, ok := got[fieldID]
		if !ok {
			return fmt.Errorf("field %q missing", fieldID)
		}
		if !responseEqual(have, want) {
			return fmt.Errorf("field %q is %v, want %v", fieldID, have, want)
		}
	}
	return nil
}

func decodeResponse(doc map[string]any) (model.Response, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return model.UnmarshalResponse(data)
}

func responseEqual(a, b model.Response) bool {
	da, err := model.MarshalResponse(a)
	if err != nil {
		return false
	}
	db, err := model.MarshalResponse(b)
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}

func compareGeometry(got model.Geometry, expected map[string]any) error {
	if got == nil {
		return errors.New("geometry missing")
	}
	want, err := decodeGeometry(expected)
	if err != nil {
		return err
	}
	da, err := model.MarshalGeometry(got)
	if err != nil {
		return err
	}
	db, err := model.MarshalGeometry(want)
	if err != nil {
		return err
	}
	if !bytes.Equal(da, db) {
		return fmt.Errorf("geometry is %s, want %s", da, db)
	}
	return nil
}

func (h *Harness) assertPushes(a Assertion) error {
	var outcomes []string
	for _, ev := range h.trace {
		if ev.Type == EventPush {
			outcomes = append(outcomes, ev.Outcome)
		}
	}
	if a.Count != 0 && len(outcomes) != a.Count {
		return fmt.Errorf("%d pushes recorded, want %d", len(outcomes), a.Count)
	}
	if a.Outcomes != nil {
		if len(outcomes) != len(a.Outcomes) {
			return fmt.Errorf("push outcomes %v, want %v", outcomes, a.Outcomes)
		}
		for i := range outcomes {
			if outcomes[i] != a.Outcomes[i] {
				return fmt.Errorf("push outcomes %v, want %v", outcomes, a.Outcomes)
			}
		}
	}
	return nil
}

package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/remote"
	"github.com/geofield/fieldsync/internal/store"
	"github.com/geofield/fieldsync/internal/syncer"
	"github.com/geofield/fieldsync/internal/testutil"
)

// scenarioBase is the first client timestamp of every run.
var scenarioBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// Harness executes one scenario against a fresh in-memory store.
type Harness struct {
	store      *store.Store
	syncer     *syncer.Syncer
	reconciler *syncer.Reconciler
	remote     *scriptedRemote
	clock      *testutil.DeterministicClock
	retryCap   int

	mu    sync.Mutex
	seq   int
	trace []TraceEvent
}

// Run executes a scenario and returns its result. An error means the
// scenario itself could not be executed; assertion failures are reported in
// the result instead.
func Run(scenario *Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:", logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	retry := syncer.RetryConfig{
		MaxAttempts:    scenario.Retry.MaxAttempts,
		InitialBackoff: time.Nanosecond,
		MaxBackoff:     time.Nanosecond,
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = syncer.DefaultRetryConfig().MaxAttempts
	}

	h := &Harness{
		store:    st,
		remote:   &scriptedRemote{},
		clock:    testutil.NewDeterministicClock(scenarioBase, time.Minute),
		retryCap: retry.MaxAttempts,
	}
	h.remote.record = h.recordPush

	h.syncer = syncer.New(st, h.remote, syncer.Config{
		PollInterval: time.Hour,
		Workers:      1,
		PushTimeout:  time.Minute,
		Retry:        retry,
	}, logger)
	h.reconciler = syncer.NewReconciler(st, h.remote, logger)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	failures := h.evaluate(ctx, scenario.Assertions)
	return &Result{
		Pass:   len(failures) == 0,
		Trace:  h.trace,
		Errors: failures,
	}, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case step.Apply != nil:
		return h.applyStep(ctx, step.Apply)
	case step.Outcome != "":
		h.remote.script(step.Outcome)
		return nil
	case step.Drain:
		h.syncer.DrainOnce(ctx)
		return nil
	case step.Remote != nil:
		return h.remoteStep(ctx, step.Remote)
	case step.Discard != 0:
		if err := h.store.DiscardMutation(ctx, step.Discard); err != nil {
			return fmt.Errorf("discard %d: %w", step.Discard, err)
		}
		h.record(TraceEvent{Type: EventDiscard, MutationID: step.Discard})
		return nil
	}
	return errors.New("empty step")
}

func (h *Harness) applyStep(ctx context.Context, ms *MutationStep) error {
	m, err := ms.toMutation(h.clock.Now())
	if err != nil {
		return err
	}
	id, err := h.store.ApplyAndEnqueue(ctx, m)
	if err != nil {
		return fmt.Errorf("apply %s %s: %w", m.Type, m.EntityID, err)
	}
	h.record(TraceEvent{
		Type:         EventApply,
		EntityID:     m.EntityID,
		MutationID:   id,
		MutationType: string(m.Type),
	})
	return nil
}

func (h *Harness) remoteStep(ctx context.Context, rs *RemoteStep) error {
	ev, err := rs.toEvent()
	if err != nil {
		return err
	}
	h.reconciler.Apply(ctx, ev)
	h.record(TraceEvent{
		Type:     EventRemote,
		EntityID: ev.Entity.ID,
		Kind:     string(ev.Kind),
	})
	return nil
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Seq = h.seq
	h.trace = append(h.trace, ev)
}

func (h *Harness) recordPush(entityID string, ids []int64, outcome string) {
	h.record(TraceEvent{
		Type:      EventPush,
		EntityID:  entityID,
		Mutations: ids,
		Outcome:   outcome,
	})
}

func (ms *MutationStep) toMutation(clientTime time.Time) (model.Mutation, error) {
	m := model.Mutation{
		Type:       model.MutationType(ms.Type),
		EntityKind: model.EntityKind(ms.EntityKind),
		EntityID:   ms.EntityID,
		SurveyID:   ms.SurveyID,
		JobID:      ms.JobID,
		LoiID:      ms.LoiID,
		TaskID:     ms.TaskID,
		UserID:     ms.User,
		ClientTime: clientTime,
	}
	if m.UserID == "" {
		m.UserID = "harness-user"
	}

	if ms.Geometry != nil {
		g, err := decodeGeometry(ms.Geometry)
		if err != nil {
			return model.Mutation{}, err
		}
		m.Geometry = g
	}
	if len(ms.Deltas) > 0 {
		data, err := json.Marshal(ms.Deltas)
		if err != nil {
			return model.Mutation{}, fmt.Errorf("encode deltas: %w", err)
		}
		deltas, err := model.UnmarshalDeltas(data)
		if err != nil {
			return model.Mutation{}, err
		}
		m.Deltas = deltas
	}
	return m, nil
}

func (rs *RemoteStep) toEvent() (remote.ChangeEvent, error) {
	kind := remote.EventKind(rs.Kind)
	switch kind {
	case remote.EventRemoved:
		id := rs.EntityID
		if id == "" && rs.Entity != nil {
			id = rs.Entity.ID
		}
		if id == "" {
			return remote.ChangeEvent{}, errors.New("REMOVED event needs entity_id")
		}
		return remote.ChangeEvent{Kind: kind, Entity: model.Entity{ID: id}}, nil
	case remote.EventAdded, remote.EventModified:
		if rs.Entity == nil {
			return remote.ChangeEvent{}, fmt.Errorf("%s event needs an entity", kind)
		}
		e, err := rs.Entity.toEntity()
		if err != nil {
			return remote.ChangeEvent{}, err
		}
		return remote.ChangeEvent{Kind: kind, Entity: e}, nil
	default:
		return remote.ChangeEvent{}, fmt.Errorf("unknown event kind %q", rs.Kind)
	}
}

func (doc *EntityDoc) toEntity() (model.Entity, error) {
	e := model.Entity{
		ID:       doc.ID,
		Kind:     model.EntityKind(doc.Kind),
		SurveyID: doc.SurveyID,
		JobID:    doc.JobID,
		LoiID:    doc.LoiID,
		TaskID:   doc.TaskID,
		State:    model.EntityState(doc.State),
	}
	if e.State == "" {
		e.State = model.StateDefault
	}
	if doc.Geometry != nil {
		g, err := decodeGeometry(doc.Geometry)
		if err != nil {
			return model.Entity{}, err
		}
		e.Geometry = g
	}
	if doc.Responses != nil {
		data, err := json.Marshal(doc.Responses)
		if err != nil {
			return model.Entity{}, fmt.Errorf("encode responses: %w", err)
		}
		responses, err := model.UnmarshalResponseMap(data)
		if err != nil {
			return model.Entity{}, err
		}
		e.Responses = responses
	}
	return e, nil
}

func decodeGeometry(m map[string]any) (model.Geometry, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return model.UnmarshalGeometry(data)
}

// scriptedRemote is a DataSource whose push outcomes come from the
// scenario. Unscripted pushes succeed.
type scriptedRemote struct {
	mu       sync.Mutex
	outcomes []string

	record func(entityID string, ids []int64, outcome string)
}

func (r *scriptedRemote) script(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *scriptedRemote) next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return "ok"
	}
	outcome := r.outcomes[0]
	r.outcomes = r.outcomes[1:]
	return outcome
}

func (r *scriptedRemote) PushMutations(ctx context.Context, mutations []model.Mutation) error {
	ids := make([]int64, len(mutations))
	entityID := ""
	for i, m := range mutations {
		ids[i] = m.ID
		entityID = m.EntityID
	}

	switch outcome := r.next(); outcome {
	case "ok":
		r.record(entityID, ids, "ok")
		return nil
	case "fail":
		r.record(entityID, ids, "failed")
		return &remote.RemoteError{Op: "push", Retryable: true, Err: errors.New("remote unreachable")}
	case "reject":
		r.record(entityID, ids, "rejected")
		return &remote.RemoteError{Op: "push", Retryable: false, Err: errors.New("rejected by remote")}
	default:
		return fmt.Errorf("unknown scripted outcome %q", outcome)
	}
}

// Subscribe satisfies remote.DataSource. Scenario remote steps are applied
// directly; the channel never delivers.
func (r *scriptedRemote) Subscribe(ctx context.Context, surveyID string) (<-chan remote.ChangeEvent, error) {
	return make(chan remote.ChangeEvent), nil
}

func (r *scriptedRemote) Close() error { return nil }

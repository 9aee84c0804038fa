package store

import (
	"context"
	"errors"
	"testing"

	"github.com/geofield/fieldsync/internal/model"
)

func TestIncompleteMutations_EnqueueOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	create := submissionCreate("sub-1",
		model.ResponseDelta{FieldID: "count", NewResponse: model.NumberResponse{Number: 1}},
	)
	if _, err := s.ApplyAndEnqueue(ctx, create); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for i := 2; i <= 4; i++ {
		update := submissionUpdate("sub-1",
			model.ResponseDelta{FieldID: "count", NewResponse: model.NumberResponse{Number: float64(i)}},
		)
		if _, err := s.ApplyAndEnqueue(ctx, update); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	mutations, err := s.IncompleteMutations(ctx, "sub-1")
	if err != nil {
		t.Fatalf("IncompleteMutations() failed: %v", err)
	}
	if len(mutations) != 4 {
		t.Fatalf("got %d mutations, want 4", len(mutations))
	}
	for i := 1; i < len(mutations); i++ {
		if mutations[i].ID <= mutations[i-1].ID {
			t.Errorf("mutations out of enqueue order: id %d before %d",
				mutations[i-1].ID, mutations[i].ID)
		}
	}
	if mutations[0].Type != model.MutationCreate {
		t.Errorf("first mutation type = %q, want CREATE", mutations[0].Type)
	}
}

func TestMarkInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-1"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	if err := s.MarkInProgress(ctx, id); err != nil {
		t.Fatalf("MarkInProgress() failed: %v", err)
	}

	var status string
	if err := s.db.QueryRow(
		"SELECT sync_status FROM mutations WHERE id = ?", id,
	).Scan(&status); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if status != string(model.SyncInProgress) {
		t.Errorf("sync_status = %q, want IN_PROGRESS", status)
	}
}

func TestMarkFailed_IncrementsRetryAndRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-1"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	if err := s.MarkFailed(ctx, "remote unavailable", id); err != nil {
		t.Fatalf("first MarkFailed() failed: %v", err)
	}
	if err := s.MarkFailed(ctx, "still unavailable", id); err != nil {
		t.Fatalf("second MarkFailed() failed: %v", err)
	}

	var status, lastError string
	var retries int
	if err := s.db.QueryRow(
		"SELECT sync_status, retry_count, last_error FROM mutations WHERE id = ?", id,
	).Scan(&status, &retries, &lastError); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if status != string(model.SyncFailed) {
		t.Errorf("sync_status = %q, want FAILED", status)
	}
	if retries != 2 {
		t.Errorf("retry_count = %d, want 2", retries)
	}
	if lastError != "still unavailable" {
		t.Errorf("last_error = %q, want latest diagnostic", lastError)
	}
}

func TestMarkCompleted_RemovesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-1"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}
	id2, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-2"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	if err := s.MarkCompleted(ctx, id1, id2); err != nil {
		t.Fatalf("MarkCompleted() failed: %v", err)
	}
	if n := countRows(t, s, "mutations"); n != 0 {
		t.Errorf("mutations rows = %d, want 0", n)
	}

	// Entities stay cached
	if _, err := s.Entity(ctx, "loi-1"); err != nil {
		t.Errorf("Entity() after completion failed: %v", err)
	}
}

func TestDiscardMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-1"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	if err := s.DiscardMutation(ctx, id); err != nil {
		t.Fatalf("DiscardMutation() failed: %v", err)
	}
	if n := countRows(t, s, "mutations"); n != 0 {
		t.Errorf("mutations rows = %d, want 0", n)
	}

	err = s.DiscardMutation(ctx, id)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestEntitiesWithIncompleteMutations_ExcludesInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-a"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}
	if _, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-b")); err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}
	idC, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-c"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	// loi-a has a push in flight; loi-c has failed once
	if err := s.MarkInProgress(ctx, idA); err != nil {
		t.Fatalf("MarkInProgress() failed: %v", err)
	}
	if err := s.MarkFailed(ctx, "timeout", idC); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}

	ids, err := s.EntitiesWithIncompleteMutations(ctx)
	if err != nil {
		t.Fatalf("EntitiesWithIncompleteMutations() failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "loi-b" || ids[1] != "loi-c" {
		t.Errorf("ids = %v, want [loi-b loi-c]", ids)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-a"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}
	if _, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-b")); err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}
	idC, err := s.ApplyAndEnqueue(ctx, loiCreate("loi-c"))
	if err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	if err := s.MarkInProgress(ctx, idA); err != nil {
		t.Fatalf("MarkInProgress() failed: %v", err)
	}
	// loi-c fails enough times to hit the retry cap
	for i := 0; i < 3; i++ {
		if err := s.MarkFailed(ctx, "unreachable", idC); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	st, err := s.Stats(ctx, 3)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	want := QueueStats{Pending: 1, InProgress: 1, Failed: 1, Stuck: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}
}

func TestMutationRoundTrip_PreservesPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	create := submissionCreate("sub-1",
		model.ResponseDelta{FieldID: "species", NewResponse: model.NewTextResponse("chêne")},
		model.ResponseDelta{FieldID: "photo", NewResponse: nil},
	)
	if _, err := s.ApplyAndEnqueue(ctx, create); err != nil {
		t.Fatalf("ApplyAndEnqueue() failed: %v", err)
	}

	mutations, err := s.IncompleteMutations(ctx, "sub-1")
	if err != nil {
		t.Fatalf("IncompleteMutations() failed: %v", err)
	}
	if len(mutations) != 1 {
		t.Fatalf("got %d mutations, want 1", len(mutations))
	}
	m := mutations[0]
	if m.Type != model.MutationCreate || m.EntityKind != model.KindSubmission {
		t.Errorf("unexpected header: %+v", m)
	}
	if m.LoiID != "loi-1" || m.TaskID != "task-1" {
		t.Errorf("loi/task = %q/%q, want loi-1/task-1", m.LoiID, m.TaskID)
	}
	if len(m.Deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(m.Deltas))
	}
	text, ok := m.Deltas[0].NewResponse.(model.TextResponse)
	if !ok || text.Text != "chêne" {
		t.Errorf("delta 0 = %v, want TextResponse{chêne}", m.Deltas[0].NewResponse)
	}
	if m.Deltas[1].NewResponse != nil {
		t.Errorf("delta 1 = %v, want nil (clear)", m.Deltas[1].NewResponse)
	}
	if !m.ClientTime.Equal(testTime) {
		t.Errorf("client time = %v, want %v", m.ClientTime, testTime)
	}
}

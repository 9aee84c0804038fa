package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/geofield/fieldsync/internal/model"
)

// ApplyAndEnqueue applies the mutation to the cached entity and appends it
// to the durable queue, in one atomic transaction:
//
//  1. validate the mutation (rejected mutations are never enqueued)
//  2. load the target entity, if any
//  3. compute the new entity state (geometry replace, delta fold, or
//     soft delete)
//  4. upsert the entity and insert the queue row as PENDING
//
// If any step fails the transaction is rolled back and neither the entity
// nor the queue is touched. Returns the queue id assigned to the mutation.
//
// Concurrent calls for the same entity id are serialized; distinct entities
// proceed in parallel.
func (s *Store) ApplyAndEnqueue(ctx context.Context, m model.Mutation) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, &InvalidMutationError{EntityID: m.EntityID, Reason: err}
	}
	if warned := s.warnUnknownFields(ctx, m); warned > 0 {
		s.logger.Warn("mutation carries deltas for fields not in task schema",
			"entity", m.EntityID, "task", m.TaskID, "unknown_fields", warned)
	}

	unlock := s.locks.lock(m.EntityID)
	defer unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // No-op if committed

	base, err := entityTx(ctx, tx, m.EntityID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("apply and enqueue: %w", err)
	}
	var basePtr *model.Entity
	if err == nil {
		basePtr = &base
	}

	next, err := m.Applied(basePtr)
	if err != nil {
		return 0, &InvalidMutationError{EntityID: m.EntityID, Reason: err}
	}

	if err := upsertEntityTx(ctx, tx, next); err != nil {
		return 0, fmt.Errorf("apply and enqueue: %w", err)
	}

	id, err := enqueueTx(ctx, tx, m)
	if err != nil {
		return 0, fmt.Errorf("apply and enqueue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("apply and enqueue: commit: %w", err)
	}

	s.logger.Debug("mutation enqueued",
		"id", id, "type", string(m.Type), "entity", m.EntityID)
	s.notify()
	return id, nil
}

// warnUnknownFields checks submission deltas against the stored survey
// definition. Unknown field ids are tolerated (schema-less tolerance) but
// counted so the caller can log them. A missing survey or task definition
// disables the check rather than failing the write.
func (s *Store) warnUnknownFields(ctx context.Context, m model.Mutation) int {
	if m.EntityKind != model.KindSubmission || len(m.Deltas) == 0 {
		return 0
	}
	survey, err := s.Survey(ctx, m.SurveyID)
	if err != nil {
		return 0
	}
	job, ok := survey.JobByID(m.JobID)
	if !ok {
		return 0
	}
	task, ok := job.TaskByID(m.TaskID)
	if !ok {
		return 0
	}
	unknown, err := m.CheckAgainst(task)
	if err != nil {
		// Type mismatches are logged, not fatal: the remote store is the
		// authority on schema versions and may be ahead of our snapshot.
		s.logger.Warn("response does not match task schema",
			"entity", m.EntityID, "task", m.TaskID, "error", err)
	}
	return len(unknown)
}

// MergeRemote reconciles a freshly observed remote entity with local state:
// any still-incomplete mutations queued for that entity are replayed on top
// of the remote snapshot, in enqueue order, before the result is written as
// the new cached entity. Local edits not yet acknowledged by the server are
// therefore never clobbered by a remote snapshot.
//
// Where the same field was edited both remotely and locally, the local
// pending delta wins (last write in replay order). Documented behavior.
func (s *Store) MergeRemote(ctx context.Context, remote model.Entity) error {
	if err := remote.Validate(); err != nil {
		return fmt.Errorf("merge remote: %w", err)
	}

	unlock := s.locks.lock(remote.ID)
	defer unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pending, err := incompleteMutationsTx(ctx, tx, remote.ID)
	if err != nil {
		return fmt.Errorf("merge remote: %w", err)
	}

	merged := remote
	for _, m := range pending {
		next, err := m.Applied(&merged)
		if err != nil {
			// A replay that no longer applies (e.g. remote resurrected an
			// id we created) is skipped, not fatal: the push path will
			// surface it as a sync failure with full context.
			s.logger.Warn("skipping non-applicable pending mutation during merge",
				"mutation", m.ID, "entity", remote.ID, "error", err)
			continue
		}
		merged = next
	}

	if err := upsertEntityTx(ctx, tx, merged); err != nil {
		return fmt.Errorf("merge remote: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("merge remote: commit: %w", err)
	}

	s.logger.Debug("remote entity merged",
		"entity", remote.ID, "replayed", len(pending))
	return nil
}

// UpsertEntity writes the entity unconditionally, replacing any cached
// copy. Used by the reconciler when no local mutations are pending.
func (s *Store) UpsertEntity(ctx context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}

	unlock := s.locks.lock(e.ID)
	defer unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertEntityTx(ctx, tx, e); err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert entity: commit: %w", err)
	}
	return nil
}

// DeleteEntity removes the entity row outright. Called only after a DELETE
// mutation has been acknowledged remotely (or the remote itself removed the
// document); soft deletion is the normal path until then.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) error {
	unlock := s.locks.lock(entityID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", entityID, err)
	}
	return nil
}

// PutSurvey stores a survey definition snapshot, replacing any previous
// version. Definitions come from the remote store or from local CUE files
// and are used for schema checks and display.
func (s *Store) PutSurvey(ctx context.Context, survey model.Survey, definition []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surveys (id, title, definition)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, definition = excluded.definition
	`, survey.ID, survey.Title, string(definition))
	if err != nil {
		return fmt.Errorf("put survey %s: %w", survey.ID, err)
	}
	return nil
}

func upsertEntityTx(ctx context.Context, tx *sql.Tx, e model.Entity) error {
	geometry, err := marshalGeometry(e.Geometry)
	if err != nil {
		return err
	}
	responses, err := marshalResponses(e.Responses)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities
		(id, kind, survey_id, job_id, loi_id, task_id, state,
		 geometry, responses,
		 created_user_id, created_client_time, created_server_time,
		 modified_user_id, modified_client_time, modified_server_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			geometry = excluded.geometry,
			responses = excluded.responses,
			modified_user_id = excluded.modified_user_id,
			modified_client_time = excluded.modified_client_time,
			modified_server_time = excluded.modified_server_time
	`,
		e.ID, string(e.Kind), e.SurveyID, e.JobID, e.LoiID, e.TaskID, string(e.State),
		geometry, responses,
		e.Created.UserID, timeToMillis(e.Created.ClientTime), serverTimeToNull(e.Created.ServerTime),
		e.LastModified.UserID, timeToMillis(e.LastModified.ClientTime), serverTimeToNull(e.LastModified.ServerTime),
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.ID, err)
	}
	return nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, m model.Mutation) (int64, error) {
	geometry, err := marshalGeometry(m.Geometry)
	if err != nil {
		return 0, err
	}
	deltas, err := marshalDeltas(m.Deltas)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO mutations
		(type, entity_kind, entity_id, survey_id, job_id, loi_id, task_id,
		 geometry, deltas, sync_status, retry_count, last_error, user_id, client_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
	`,
		string(m.Type), string(m.EntityKind), m.EntityID, m.SurveyID, m.JobID,
		m.LoiID, m.TaskID, geometry, deltas, string(model.SyncPending),
		m.UserID, timeToMillis(m.ClientTime),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue mutation for %s: %w", m.EntityID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue mutation for %s: last insert id: %w", m.EntityID, err)
	}
	return id, nil
}

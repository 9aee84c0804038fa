package store

import (
	"context"
	"fmt"

	"github.com/geofield/fieldsync/internal/model"
)

// Queue row bookkeeping. Mutations are immutable values; only the sync
// columns of the persisted row (status, retry count, last error) are ever
// updated, and COMPLETED rows are removed outright.

// MarkInProgress transitions the given queue rows to IN_PROGRESS.
func (s *Store) MarkInProgress(ctx context.Context, ids ...int64) error {
	return s.updateStatus(ctx, model.SyncInProgress, "", false, ids)
}

// MarkFailed transitions the given queue rows to FAILED, increments their
// retry count, and records the diagnostic. The rows stay queued: the syncer
// re-attempts them until the retry cap, after which they are surfaced as
// stuck rather than dropped.
func (s *Store) MarkFailed(ctx context.Context, lastError string, ids ...int64) error {
	return s.updateStatus(ctx, model.SyncFailed, lastError, true, ids)
}

// MarkCompleted removes the given queue rows. Called only after the remote
// store has acknowledged the push.
func (s *Store) MarkCompleted(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove completed mutation %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove completed mutations: commit: %w", err)
	}
	return nil
}

// RequeueInFlight resets IN_PROGRESS rows to PENDING and returns how many
// were reset. Called once at syncer startup: a row still IN_PROGRESS then
// belongs to a push that never finished.
func (s *Store) RequeueInFlight(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE mutations SET sync_status = ? WHERE sync_status = ?
	`, string(model.SyncPending), string(model.SyncInProgress))
	if err != nil {
		return 0, fmt.Errorf("requeue in-flight mutations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue in-flight mutations: %w", err)
	}
	return n, nil
}

// DiscardMutation removes a queue row without pushing it. This is the
// explicit user action for a stuck mutation; local entity state is left as
// is.
func (s *Store) DiscardMutation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("discard mutation %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("discard mutation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mutation %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) updateStatus(ctx context.Context, status model.SyncStatus, lastError string, bumpRetry bool, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var err error
		if bumpRetry {
			_, err = tx.ExecContext(ctx, `
				UPDATE mutations
				SET sync_status = ?, retry_count = retry_count + 1, last_error = ?
				WHERE id = ?
			`, string(status), lastError, id)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE mutations SET sync_status = ? WHERE id = ?
			`, string(status), id)
		}
		if err != nil {
			return fmt.Errorf("update mutation %d to %s: %w", id, status, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update mutations to %s: commit: %w", status, err)
	}
	return nil
}

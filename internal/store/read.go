package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/geofield/fieldsync/internal/model"
)

// Entity returns the cached entity with the given id, or ErrNotFound.
func (s *Store) Entity(ctx context.Context, entityID string) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, entityID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return model.Entity{}, fmt.Errorf("read entity %s: %w", entityID, err)
	}
	return e, nil
}

func entityTx(ctx context.Context, tx *sql.Tx, entityID string) (model.Entity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = ?`, entityID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entity{}, fmt.Errorf("entity %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return model.Entity{}, fmt.Errorf("read entity %s: %w", entityID, err)
	}
	return e, nil
}

// Entities returns all live (non-deleted) entities of a kind in a survey.
func (s *Store) Entities(ctx context.Context, surveyID string, kind model.EntityKind) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE survey_id = ? AND kind = ? AND state = ?
		ORDER BY id ASC
	`, surveyID, string(kind), string(model.StateDefault))
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			// One undecodable row must not hide its siblings.
			s.logger.Warn("skipping undecodable entity row", "error", err)
			continue
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	if entities == nil {
		entities = []model.Entity{}
	}
	return entities, nil
}

// IncompleteMutations returns the queued mutations for the given entity that
// are not COMPLETED, in enqueue order. Enqueue order per entity is the
// causal order in which deltas must be replayed and pushed.
func (s *Store) IncompleteMutations(ctx context.Context, entityID string) ([]model.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE entity_id = ? AND sync_status != ?
		ORDER BY id ASC
	`, entityID, string(model.SyncCompleted))
	if err != nil {
		return nil, fmt.Errorf("query mutations for %s: %w", entityID, err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

func incompleteMutationsTx(ctx context.Context, tx *sql.Tx, entityID string) ([]model.Mutation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE entity_id = ? AND sync_status != ?
		ORDER BY id ASC
	`, entityID, string(model.SyncCompleted))
	if err != nil {
		return nil, fmt.Errorf("query mutations for %s: %w", entityID, err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

// EntitiesWithIncompleteMutations returns the distinct entity ids that have
// at least one PENDING or FAILED mutation. IN_PROGRESS entities are excluded:
// each has a push in flight and must not be drained twice concurrently.
func (s *Store) EntitiesWithIncompleteMutations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM mutations
		WHERE sync_status IN (?, ?)
		ORDER BY entity_id ASC
	`, string(model.SyncPending), string(model.SyncFailed))
	if err != nil {
		return nil, fmt.Errorf("query entities with work: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}
	return ids, nil
}

// QueueStats summarizes the mutation queue for status displays.
type QueueStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	// Stuck counts FAILED mutations whose retry count has reached the
	// given cap: they need user intervention.
	Stuck int `json:"stuck"`
}

// Stats counts queue rows by status. retryCap marks FAILED rows as stuck.
func (s *Store) Stats(ctx context.Context, retryCap int) (QueueStats, error) {
	var st QueueStats
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_status, retry_count, COUNT(*) FROM mutations
		GROUP BY sync_status, retry_count
	`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var retries, count int
		if err := rows.Scan(&status, &retries, &count); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		switch model.SyncStatus(status) {
		case model.SyncPending:
			st.Pending += count
		case model.SyncInProgress:
			st.InProgress += count
		case model.SyncFailed:
			st.Failed += count
			if retryCap > 0 && retries >= retryCap {
				st.Stuck += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate stats: %w", err)
	}
	return st, nil
}

// Survey loads a stored survey definition, or ErrNotFound.
func (s *Store) Survey(ctx context.Context, surveyID string) (model.Survey, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM surveys WHERE id = ?`, surveyID).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Survey{}, fmt.Errorf("survey %s: %w", surveyID, ErrNotFound)
	}
	if err != nil {
		return model.Survey{}, fmt.Errorf("read survey %s: %w", surveyID, err)
	}
	var survey model.Survey
	if err := json.Unmarshal([]byte(definition), &survey); err != nil {
		return model.Survey{}, fmt.Errorf("decode survey %s: %w", surveyID, err)
	}
	return survey, nil
}

func collectMutations(rows *sql.Rows) ([]model.Mutation, error) {
	var mutations []model.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	if mutations == nil {
		mutations = []model.Mutation{}
	}
	return mutations, nil
}

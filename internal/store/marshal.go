package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/geofield/fieldsync/internal/model"
)

// Row conversion between model values and their storage encoding. Geometry,
// responses, and deltas are stored as canonical JSON TEXT so that identical
// values always produce identical rows. Timestamps are stored as unix
// milliseconds; server timestamps are NULL until the remote store assigns
// them.

func marshalGeometry(g model.Geometry) (sql.NullString, error) {
	if g == nil {
		return sql.NullString{}, nil
	}
	data, err := model.MarshalGeometry(g)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal geometry: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalGeometry(s sql.NullString) (model.Geometry, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	return model.UnmarshalGeometry([]byte(s.String))
}

func marshalResponses(m model.ResponseMap) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := model.MarshalResponseMap(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal responses: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalResponses(s sql.NullString) (model.ResponseMap, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	return model.UnmarshalResponseMap([]byte(s.String))
}

func marshalDeltas(deltas []model.ResponseDelta) (sql.NullString, error) {
	if len(deltas) == 0 {
		return sql.NullString{}, nil
	}
	data, err := model.MarshalDeltas(deltas)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal deltas: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalDeltas(s sql.NullString) ([]model.ResponseDelta, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	return model.UnmarshalDeltas([]byte(s.String))
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func serverTimeToNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullToServerTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const entityColumns = `id, kind, survey_id, job_id, loi_id, task_id, state,
	geometry, responses,
	created_user_id, created_client_time, created_server_time,
	modified_user_id, modified_client_time, modified_server_time`

func scanEntity(sc scanner) (model.Entity, error) {
	var (
		e                        model.Entity
		kind, state              string
		geometry, responses      sql.NullString
		createdMs, modifiedMs    int64
		createdSrv, modifiedSrv  sql.NullInt64
		createdUser, modUserName string
	)
	err := sc.Scan(
		&e.ID, &kind, &e.SurveyID, &e.JobID, &e.LoiID, &e.TaskID, &state,
		&geometry, &responses,
		&createdUser, &createdMs, &createdSrv,
		&modUserName, &modifiedMs, &modifiedSrv,
	)
	if err != nil {
		return model.Entity{}, err
	}
	e.Kind = model.EntityKind(kind)
	e.State = model.EntityState(state)
	if e.Geometry, err = unmarshalGeometry(geometry); err != nil {
		return model.Entity{}, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	if e.Responses, err = unmarshalResponses(responses); err != nil {
		return model.Entity{}, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	e.Created = model.AuditInfo{
		UserID:     createdUser,
		ClientTime: millisToTime(createdMs),
		ServerTime: nullToServerTime(createdSrv),
	}
	e.LastModified = model.AuditInfo{
		UserID:     modUserName,
		ClientTime: millisToTime(modifiedMs),
		ServerTime: nullToServerTime(modifiedSrv),
	}
	return e, nil
}

const mutationColumns = `id, type, entity_kind, entity_id, survey_id, job_id,
	loi_id, task_id, geometry, deltas,
	sync_status, retry_count, last_error, user_id, client_time`

func scanMutation(sc scanner) (model.Mutation, error) {
	var (
		m                      model.Mutation
		mtype, kind, status    string
		geometry, deltas       sql.NullString
		clientMs               int64
	)
	err := sc.Scan(
		&m.ID, &mtype, &kind, &m.EntityID, &m.SurveyID, &m.JobID,
		&m.LoiID, &m.TaskID, &geometry, &deltas,
		&status, &m.RetryCount, &m.LastError, &m.UserID, &clientMs,
	)
	if err != nil {
		return model.Mutation{}, err
	}
	m.Type = model.MutationType(mtype)
	m.EntityKind = model.EntityKind(kind)
	m.SyncStatus = model.SyncStatus(status)
	if m.Geometry, err = unmarshalGeometry(geometry); err != nil {
		return model.Mutation{}, fmt.Errorf("mutation %d: %w", m.ID, err)
	}
	if m.Deltas, err = unmarshalDeltas(deltas); err != nil {
		return model.Mutation{}, fmt.Errorf("mutation %d: %w", m.ID, err)
	}
	m.ClientTime = millisToTime(clientMs)
	return m, nil
}

package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/geofield/fieldsync/internal/model"
)

// Wire frames. One JSON object per websocket text message, discriminated by
// "type". Client to server: subscribe, push. Server to client: ack, added,
// modified, removed.
type frame struct {
	Type string `json:"type"`

	// push / ack correlation
	ID int64 `json:"id,omitempty"`

	// subscribe
	SurveyID string `json:"survey_id,omitempty"`

	// push
	Mutations []wireMutation `json:"mutations,omitempty"`

	// ack
	OK        bool   `json:"ok,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// added / modified
	Entity json.RawMessage `json:"entity,omitempty"`
	// removed
	EntityID string `json:"entity_id,omitempty"`
}

const (
	frameSubscribe = "subscribe"
	framePush      = "push"
	frameAck       = "ack"
	frameAdded     = "added"
	frameModified  = "modified"
	frameRemoved   = "removed"
)

type wireMutation struct {
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	SurveyID   string          `json:"survey_id"`
	JobID      string          `json:"job_id"`
	LoiID      string          `json:"loi_id,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Deltas     json.RawMessage `json:"deltas,omitempty"`
	UserID     string          `json:"user_id"`
	ClientTime int64           `json:"client_time"` // unix millis
}

type wireAudit struct {
	UserID     string `json:"user_id"`
	ClientTime int64  `json:"client_time"`           // unix millis
	ServerTime *int64 `json:"server_time,omitempty"` // unix millis
}

type wireEntity struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	SurveyID  string          `json:"survey_id"`
	JobID     string          `json:"job_id"`
	LoiID     string          `json:"loi_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	State     string          `json:"state"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
	Responses json.RawMessage `json:"responses,omitempty"`
	Created   wireAudit       `json:"created"`
	Modified  wireAudit       `json:"modified"`
}

func encodeMutation(m model.Mutation) (wireMutation, error) {
	w := wireMutation{
		Type:       string(m.Type),
		EntityKind: string(m.EntityKind),
		EntityID:   m.EntityID,
		SurveyID:   m.SurveyID,
		JobID:      m.JobID,
		LoiID:      m.LoiID,
		TaskID:     m.TaskID,
		UserID:     m.UserID,
		ClientTime: m.ClientTime.UnixMilli(),
	}
	if m.Geometry != nil {
		data, err := model.MarshalGeometry(m.Geometry)
		if err != nil {
			return wireMutation{}, fmt.Errorf("encode mutation for %s: %w", m.EntityID, err)
		}
		w.Geometry = data
	}
	if len(m.Deltas) > 0 {
		data, err := model.MarshalDeltas(m.Deltas)
		if err != nil {
			return wireMutation{}, fmt.Errorf("encode mutation for %s: %w", m.EntityID, err)
		}
		w.Deltas = data
	}
	return w, nil
}

func decodeEntity(data json.RawMessage) (model.Entity, error) {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Entity{}, fmt.Errorf("decode entity document: %w", err)
	}
	e := model.Entity{
		ID:           w.ID,
		Kind:         model.EntityKind(w.Kind),
		SurveyID:     w.SurveyID,
		JobID:        w.JobID,
		LoiID:        w.LoiID,
		TaskID:       w.TaskID,
		State:        model.EntityState(w.State),
		Created:      decodeAudit(w.Created),
		LastModified: decodeAudit(w.Modified),
	}
	if e.State == "" {
		e.State = model.StateDefault
	}
	if len(w.Geometry) > 0 {
		g, err := model.UnmarshalGeometry(w.Geometry)
		if err != nil {
			return model.Entity{}, fmt.Errorf("decode entity %s: %w", w.ID, err)
		}
		e.Geometry = g
	}
	if len(w.Responses) > 0 {
		r, err := model.UnmarshalResponseMap(w.Responses)
		if err != nil {
			return model.Entity{}, fmt.Errorf("decode entity %s: %w", w.ID, err)
		}
		e.Responses = r
	}
	if err := e.Validate(); err != nil {
		return model.Entity{}, fmt.Errorf("decode entity %s: %w", w.ID, err)
	}
	return e, nil
}

func decodeAudit(w wireAudit) model.AuditInfo {
	a := model.AuditInfo{
		UserID:     w.UserID,
		ClientTime: time.UnixMilli(w.ClientTime).UTC(),
	}
	if w.ServerTime != nil {
		t := time.UnixMilli(*w.ServerTime).UTC()
		a.ServerTime = &t
	}
	return a
}

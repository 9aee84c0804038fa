package model

import (
	"fmt"
	"time"
)

// MutationType enumerates the effects a mutation can have on its entity.
type MutationType string

const (
	MutationCreate MutationType = "CREATE"
	MutationUpdate MutationType = "UPDATE"
	MutationDelete MutationType = "DELETE"
)

// SyncStatus is the per-mutation state machine driven by the syncer.
//
// PENDING -> IN_PROGRESS -> COMPLETED (row removed)
//
//	\-> FAILED -> IN_PROGRESS (retry, until the retry cap)
type SyncStatus string

const (
	SyncPending    SyncStatus = "PENDING"
	SyncInProgress SyncStatus = "IN_PROGRESS"
	SyncCompleted  SyncStatus = "COMPLETED"
	SyncFailed     SyncStatus = "FAILED"
)

// Mutation is one queued local change to an entity, destined for remote
// replay. Mutations are immutable once enqueued; corrections are expressed
// as new mutations appended to the queue. Only the sync bookkeeping columns
// (status, retry count, last error) of the persisted row ever change.
type Mutation struct {
	// ID is the queue sequence assigned by the local store on enqueue;
	// zero until persisted. Enqueue order per entity is the causal order
	// deltas must be replayed in.
	ID int64

	Type       MutationType
	EntityKind EntityKind
	EntityID   string
	SurveyID   string
	JobID      string
	LoiID      string // submission mutations only
	TaskID     string // submission mutations only

	// Geometry is the new geometry for location-of-interest CREATE/UPDATE.
	Geometry Geometry

	// Deltas are the ordered field-level changes for submission
	// CREATE/UPDATE. Empty for DELETE.
	Deltas []ResponseDelta

	SyncStatus SyncStatus
	RetryCount int
	LastError  string

	UserID     string
	ClientTime time.Time
}

// Validate rejects malformed mutations before they reach the queue.
func (m Mutation) Validate() error {
	if m.EntityID == "" {
		return fmt.Errorf("mutation missing entity id")
	}
	if m.SurveyID == "" {
		return fmt.Errorf("mutation for %s missing survey id", m.EntityID)
	}
	if m.UserID == "" {
		return fmt.Errorf("mutation for %s missing user id", m.EntityID)
	}
	switch m.Type {
	case MutationCreate, MutationUpdate:
	case MutationDelete:
		if len(m.Deltas) > 0 {
			return fmt.Errorf("delete mutation for %s carries %d deltas", m.EntityID, len(m.Deltas))
		}
		if m.Geometry != nil {
			return fmt.Errorf("delete mutation for %s carries geometry", m.EntityID)
		}
	default:
		return fmt.Errorf("mutation for %s has unknown type %q", m.EntityID, m.Type)
	}
	switch m.EntityKind {
	case KindLocationOfInterest:
		if len(m.Deltas) > 0 {
			return fmt.Errorf("location mutation for %s carries response deltas", m.EntityID)
		}
		if m.Type != MutationDelete && m.Geometry == nil {
			return fmt.Errorf("%s location mutation for %s has no geometry", m.Type, m.EntityID)
		}
		if m.Geometry != nil {
			if err := m.Geometry.Validate(); err != nil {
				return fmt.Errorf("location mutation for %s: %w", m.EntityID, err)
			}
		}
	case KindSubmission:
		if m.Geometry != nil {
			return fmt.Errorf("submission mutation for %s carries geometry", m.EntityID)
		}
		if m.LoiID == "" {
			return fmt.Errorf("submission mutation for %s missing location of interest id", m.EntityID)
		}
		if m.TaskID == "" {
			return fmt.Errorf("submission mutation for %s missing task id", m.EntityID)
		}
		for i, d := range m.Deltas {
			if d.FieldID == "" {
				return fmt.Errorf("submission mutation for %s: delta %d missing field id", m.EntityID, i)
			}
			if d.NewResponse != nil {
				if err := d.NewResponse.Validate(); err != nil {
					return fmt.Errorf("submission mutation for %s: delta %d: %w", m.EntityID, i, err)
				}
			}
		}
	default:
		return fmt.Errorf("mutation for %s has unknown entity kind %q", m.EntityID, m.EntityKind)
	}
	return nil
}

// CheckAgainst verifies submission deltas against the task's field
// definitions. Unknown field ids are reported, not rejected: the store
// accepts them (schema-less tolerance) and surfaces the warnings to its
// logger.
func (m Mutation) CheckAgainst(task Task) (unknown []string, err error) {
	for _, d := range m.Deltas {
		f, ok := task.FieldByID(d.FieldID)
		if !ok {
			unknown = append(unknown, d.FieldID)
			continue
		}
		if d.NewResponse == nil {
			continue
		}
		if cerr := f.CheckResponse(d.NewResponse); cerr != nil {
			return unknown, cerr
		}
	}
	return unknown, nil
}

// Applied computes the entity state resulting from applying the mutation on
// top of base. A nil base means the entity does not exist locally. Pure: the
// base entity is never modified.
//
// Errors:
//   - CREATE over an existing live entity (programmer error - duplicate
//     client-generated id)
//   - UPDATE or DELETE of a missing entity
func (m Mutation) Applied(base *Entity) (Entity, error) {
	switch m.Type {
	case MutationCreate:
		if base != nil && !base.Deleted() {
			return Entity{}, fmt.Errorf("create mutation for existing entity %s", m.EntityID)
		}
		e := Entity{
			ID:           m.EntityID,
			Kind:         m.EntityKind,
			SurveyID:     m.SurveyID,
			JobID:        m.JobID,
			LoiID:        m.LoiID,
			TaskID:       m.TaskID,
			State:        StateDefault,
			Created:      AuditInfo{UserID: m.UserID, ClientTime: m.ClientTime},
			LastModified: AuditInfo{UserID: m.UserID, ClientTime: m.ClientTime},
		}
		if m.EntityKind == KindLocationOfInterest {
			e.Geometry = m.Geometry
		} else {
			e.Responses = ResponseMap{}.CopyWithDeltas(m.Deltas)
		}
		return e, nil

	case MutationUpdate:
		if base == nil {
			return Entity{}, fmt.Errorf("update mutation for missing entity %s", m.EntityID)
		}
		e := *base
		if m.EntityKind == KindLocationOfInterest {
			e.Geometry = m.Geometry
		} else {
			e.Responses = base.Responses.CopyWithDeltas(m.Deltas)
		}
		e.LastModified = AuditInfo{UserID: m.UserID, ClientTime: m.ClientTime}
		return e, nil

	case MutationDelete:
		if base == nil {
			return Entity{}, fmt.Errorf("delete mutation for missing entity %s", m.EntityID)
		}
		e := *base
		e.State = StateDeleted
		e.LastModified = AuditInfo{UserID: m.UserID, ClientTime: m.ClientTime}
		return e, nil

	default:
		return Entity{}, fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

// Incomplete reports whether the status still needs syncer attention.
func (s SyncStatus) Incomplete() bool {
	return s == SyncPending || s == SyncInProgress || s == SyncFailed
}

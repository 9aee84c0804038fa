package model

import (
	"fmt"
	"time"
)

// EntityKind distinguishes the two durable domain objects mutations apply to.
type EntityKind string

const (
	KindLocationOfInterest EntityKind = "LOI"
	KindSubmission         EntityKind = "SUBMISSION"
)

// EntityState marks whether an entity is live or soft-deleted. Soft-deleted
// rows stay in storage until the deletion is acknowledged remotely.
type EntityState string

const (
	StateDefault EntityState = "DEFAULT"
	StateDeleted EntityState = "DELETED"
)

// AuditInfo records who touched an entity and when. ServerTime is nil until
// the remote store has acknowledged the write.
type AuditInfo struct {
	UserID     string
	ClientTime time.Time
	ServerTime *time.Time
}

// Entity is a location of interest or a submission as cached locally.
//
// Exactly one of Geometry (locations of interest) and Responses
// (submissions) is populated, matching Kind. A submission additionally
// carries the id of the location of interest it was collected at (LoiID)
// and the task it answers (TaskID).
type Entity struct {
	ID       string
	Kind     EntityKind
	SurveyID string
	JobID    string
	LoiID    string // submissions only
	TaskID   string // submissions only
	State    EntityState

	Geometry  Geometry    // locations of interest only
	Responses ResponseMap // submissions only

	Created      AuditInfo
	LastModified AuditInfo
}

// Validate checks the entity's structural invariants.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity missing id")
	}
	if e.SurveyID == "" {
		return fmt.Errorf("entity %s missing survey id", e.ID)
	}
	switch e.Kind {
	case KindLocationOfInterest:
		if e.Geometry == nil {
			return fmt.Errorf("location of interest %s has no geometry", e.ID)
		}
		if e.Responses != nil {
			return fmt.Errorf("location of interest %s carries responses", e.ID)
		}
		if err := e.Geometry.Validate(); err != nil {
			return fmt.Errorf("location of interest %s: %w", e.ID, err)
		}
	case KindSubmission:
		if e.Geometry != nil {
			return fmt.Errorf("submission %s carries geometry", e.ID)
		}
		if e.LoiID == "" {
			return fmt.Errorf("submission %s missing location of interest id", e.ID)
		}
		if e.TaskID == "" {
			return fmt.Errorf("submission %s missing task id", e.ID)
		}
	default:
		return fmt.Errorf("entity %s has unknown kind %q", e.ID, e.Kind)
	}
	switch e.State {
	case StateDefault, StateDeleted:
	default:
		return fmt.Errorf("entity %s has unknown state %q", e.ID, e.State)
	}
	return nil
}

// Deleted reports whether the entity is soft-deleted.
func (e Entity) Deleted() bool { return e.State == StateDeleted }

// Package remote connects the local store to the shared remote store: it
// pushes queued mutations upstream and subscribes to the document change
// feed that drives reconciliation.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/geofield/fieldsync/internal/model"
)

// EventKind classifies a change-feed event.
type EventKind string

const (
	// EventAdded and EventModified carry a full entity snapshot. The feed
	// does not distinguish reliably between the two on reconnect, so
	// consumers treat them identically.
	EventAdded    EventKind = "ADDED"
	EventModified EventKind = "MODIFIED"
	// EventRemoved carries only the entity id (in Entity.ID).
	EventRemoved EventKind = "REMOVED"
	// EventError reports a malformed or undecodable feed document. The
	// subscription stays live.
	EventError EventKind = "ERROR"
)

// ChangeEvent is one observed change to a remote document.
type ChangeEvent struct {
	Kind   EventKind
	Entity model.Entity
	Err    error // EventError only
}

// DataSource is the remote store as seen by the syncer and reconciler.
//
// PushMutations uploads one entity's mutation batch in order; it returns
// nil only when the remote store has acknowledged the whole batch.
// Subscribe opens the change feed for a survey; the returned channel is
// closed when the subscription ends (ctx cancelled or connection lost).
type DataSource interface {
	PushMutations(ctx context.Context, mutations []model.Mutation) error
	Subscribe(ctx context.Context, surveyID string) (<-chan ChangeEvent, error)
	Close() error
}

// RemoteError is a failure reported by (or on the way to) the remote store.
type RemoteError struct {
	Op        string // "push", "subscribe", "dial"
	Retryable bool
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is worth retrying: network and
// timeout failures are, remote rejections are not.
func (e *RemoteError) Temporary() bool { return e.Retryable }

// IsTemporary reports whether err is a retryable remote failure. Errors
// that are not RemoteErrors are treated as retryable: an unclassified
// failure must not permanently wedge a mutation.
func IsTemporary(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return true
}

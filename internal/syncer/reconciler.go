package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/remote"
	"github.com/geofield/fieldsync/internal/store"
)

// Reconciler folds the remote change feed into the local cache.
//
// Snapshots go through store.MergeRemote, which replays still-queued local
// mutations on top of the remote baseline inside the entity's lock, so
// unacknowledged local edits survive. A remote removal that collides with
// queued local edits fails those edits rather than discarding user data.
type Reconciler struct {
	store  *store.Store
	remote remote.DataSource
	logger *slog.Logger
}

// NewReconciler creates a Reconciler. Call Run to start consuming the feed.
func NewReconciler(st *store.Store, rem remote.DataSource, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, remote: rem, logger: logger}
}

// ErrFeedClosed is returned by Run when the change feed ends without the
// context being cancelled, typically because the connection died.
var ErrFeedClosed = errors.New("change feed closed")

// Run subscribes to the survey's change feed and applies events until ctx
// is cancelled (returning ctx's error) or the feed closes (returning
// ErrFeedClosed). A closed feed is never a clean exit: the subscription is
// gone and the caller must redial or shut down loudly.
func (r *Reconciler) Run(ctx context.Context, surveyID string) error {
	events, err := r.remote.Subscribe(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	r.logger.Info("reconciler subscribed", "survey", surveyID)

	for ev := range events {
		r.Apply(ctx, ev)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("reconciler: survey %s: %w", surveyID, ErrFeedClosed)
}

// Apply folds one change event into the local cache. Failures are logged,
// not returned: one undecodable or unmergeable document must not stall the
// rest of the feed.
func (r *Reconciler) Apply(ctx context.Context, ev remote.ChangeEvent) {
	switch ev.Kind {
	case remote.EventAdded, remote.EventModified:
		r.applySnapshot(ctx, ev.Entity)
	case remote.EventRemoved:
		r.applyRemoval(ctx, ev.Entity.ID)
	case remote.EventError:
		r.logger.Warn("skipping undecodable remote document", "error", ev.Err)
	default:
		r.logger.Warn("skipping change event of unknown kind", "kind", string(ev.Kind))
	}
}

// applySnapshot always goes through MergeRemote: it re-reads the queue
// inside the entity-locked transaction, so a mutation committed by a
// concurrent ApplyAndEnqueue is replayed rather than overwritten. With an
// empty queue it reduces to a plain upsert.
func (r *Reconciler) applySnapshot(ctx context.Context, e model.Entity) {
	if err := r.store.MergeRemote(ctx, e); err != nil {
		r.logger.Error("merging remote entity failed", "entity", e.ID, "error", err)
	}
}

func (r *Reconciler) applyRemoval(ctx context.Context, entityID string) {
	queued, err := r.store.IncompleteMutations(ctx, entityID)
	if err != nil {
		r.logger.Error("loading queued mutations failed", "entity", entityID, "error", err)
		return
	}

	var deletes, edits []int64
	for _, m := range queued {
		if m.Type == model.MutationDelete {
			deletes = append(deletes, m.ID)
		} else {
			edits = append(edits, m.ID)
		}
	}

	if len(edits) > 0 {
		// The entity was removed remotely while local edits are still
		// unpushed. Keep the local entity and surface the conflict on the
		// queued edits; discarding the user's field data is never an
		// option here.
		if err := r.store.MarkFailed(ctx, "entity was deleted remotely", edits...); err != nil {
			r.logger.Error("failing conflicting mutations failed", "entity", entityID, "error", err)
			return
		}
		r.logger.Warn("remote removal conflicts with queued local edits",
			"entity", entityID, "edits", len(edits))
		return
	}

	// Any queued DELETEs are moot now; the remote store already agrees.
	if len(deletes) > 0 {
		if err := r.store.MarkCompleted(ctx, deletes...); err != nil {
			r.logger.Error("completing queued deletes failed", "entity", entityID, "error", err)
			return
		}
	}
	if err := r.store.DeleteEntity(ctx, entityID); err != nil {
		r.logger.Error("removing entity failed", "entity", entityID, "error", err)
	}
	r.logger.Debug("remote removal applied", "entity", entityID)
}

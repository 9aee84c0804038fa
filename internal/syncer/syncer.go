// Package syncer drains the local mutation queue into the remote store and
// reconciles the remote change feed back into the local cache.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geofield/fieldsync/internal/model"
	"github.com/geofield/fieldsync/internal/remote"
	"github.com/geofield/fieldsync/internal/store"
)

// Config holds syncer tuning.
type Config struct {
	// PollInterval bounds how long queued work can sit undetected if a
	// wakeup signal is missed. Default: 30s.
	PollInterval time.Duration

	// Workers caps how many entities are pushed concurrently. Per-entity
	// order is unaffected: one entity is never drained by two workers.
	// Default: 4.
	Workers int

	// PushTimeout bounds each remote push. A timed-out push counts as a
	// failed attempt. Default: 30s.
	PushTimeout time.Duration

	Retry RetryConfig
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = 30 * time.Second
	}
	c.Retry = c.Retry.normalized()
	return c
}

// Syncer uploads queued mutations. It wakes on the store's enqueue signal
// or on a poll tick, collects the entities with incomplete work, and pushes
// each entity's mutations in enqueue order.
type Syncer struct {
	store  *store.Store
	remote remote.DataSource
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	inFlight    map[string]bool
	nextAttempt map[string]time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a Syncer. Call Run to start draining.
func New(st *store.Store, rem remote.DataSource, cfg Config, logger *slog.Logger) *Syncer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:       st,
		remote:      rem,
		cfg:         cfg,
		logger:      logger,
		inFlight:    make(map[string]bool),
		nextAttempt: make(map[string]time.Time),
		sem:         make(chan struct{}, cfg.Workers),
	}
}

// Run drains the queue until ctx is cancelled. It always returns ctx's
// error; in-flight pushes are waited for before returning.
func (s *Syncer) Run(ctx context.Context) error {
	// Pushes interrupted by a previous shutdown never got their ack.
	if n, err := s.store.RequeueInFlight(ctx); err != nil {
		return err
	} else if n > 0 {
		s.logger.Info("requeued interrupted pushes", "count", n)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-s.store.Signal():
			s.drain(ctx)
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// DrainOnce runs a single drain pass and waits for the workers it started.
// Used by tests and the scenario harness; Run covers production use.
func (s *Syncer) DrainOnce(ctx context.Context) {
	s.drain(ctx)
	s.wg.Wait()
}

// drain starts a push worker for every entity with queued work that is not
// already in flight and not inside its retry backoff window.
func (s *Syncer) drain(ctx context.Context) {
	ids, err := s.store.EntitiesWithIncompleteMutations(ctx)
	if err != nil {
		s.logger.Error("listing queued entities failed", "error", err)
		return
	}

	now := time.Now()
	for _, entityID := range ids {
		s.mu.Lock()
		busy := s.inFlight[entityID] || now.Before(s.nextAttempt[entityID])
		if !busy {
			s.inFlight[entityID] = true
		}
		s.mu.Unlock()
		if busy {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			s.mu.Lock()
			delete(s.inFlight, entityID)
			s.mu.Unlock()
			return
		}

		s.wg.Add(1)
		go func(id string) {
			defer func() {
				<-s.sem
				s.mu.Lock()
				delete(s.inFlight, id)
				s.mu.Unlock()
				s.wg.Done()
			}()
			s.syncEntity(ctx, id)
		}(entityID)
	}
}

// syncEntity pushes one entity's queued mutations in enqueue order.
func (s *Syncer) syncEntity(ctx context.Context, entityID string) {
	mutations, err := s.store.IncompleteMutations(ctx, entityID)
	if err != nil {
		s.logger.Error("loading queued mutations failed", "entity", entityID, "error", err)
		return
	}

	batch := s.eligibleBatch(mutations)
	if len(batch) == 0 {
		return
	}

	ids := make([]int64, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}

	if err := s.store.MarkInProgress(ctx, ids...); err != nil {
		s.logger.Error("marking mutations in progress failed", "entity", entityID, "error", err)
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.cfg.PushTimeout)
	err = s.remote.PushMutations(pushCtx, batch)
	cancel()

	if err != nil {
		s.recordFailure(ctx, entityID, batch, ids, err)
		return
	}

	if err := s.store.MarkCompleted(ctx, ids...); err != nil {
		s.logger.Error("marking mutations completed failed", "entity", entityID, "error", err)
		return
	}
	s.mu.Lock()
	delete(s.nextAttempt, entityID)
	s.mu.Unlock()

	// An acknowledged DELETE is fully done: drop the soft-deleted row.
	if batch[len(batch)-1].Type == model.MutationDelete {
		if err := s.store.DeleteEntity(ctx, entityID); err != nil {
			s.logger.Error("removing deleted entity failed", "entity", entityID, "error", err)
		}
	}

	s.logger.Info("mutations pushed", "entity", entityID, "count", len(batch))
}

// eligibleBatch trims the per-entity queue to what may be pushed now:
//
//   - mutations past the retry cap are terminal until user intervention
//     and block everything after them (causal order; a later UPDATE must
//     not overtake a stuck CREATE), with one exception: a DELETE behind
//     only stuck mutations is pushed alone, since every earlier mutation
//     has reached a terminal state
//   - a DELETE is withheld until every earlier mutation for the entity is
//     terminal, so a batch never carries a DELETE behind other work
func (s *Syncer) eligibleBatch(mutations []model.Mutation) []model.Mutation {
	stuck := 0
	for stuck < len(mutations) && mutations[stuck].RetryCount >= s.cfg.Retry.MaxAttempts {
		stuck++
	}
	if stuck > 0 {
		if stuck < len(mutations) && mutations[stuck].Type == model.MutationDelete {
			return mutations[stuck : stuck+1]
		}
		s.logger.Warn("mutation stuck at retry cap, needs intervention",
			"mutation", mutations[0].ID, "entity", mutations[0].EntityID,
			"last_error", mutations[0].LastError)
		return nil
	}

	var batch []model.Mutation
	for i, m := range mutations {
		if m.RetryCount >= s.cfg.Retry.MaxAttempts {
			break
		}
		if m.Type == model.MutationDelete && i > 0 {
			break
		}
		batch = append(batch, m)
		if m.Type == model.MutationDelete {
			break
		}
	}
	return batch
}

func (s *Syncer) recordFailure(ctx context.Context, entityID string, batch []model.Mutation, ids []int64, pushErr error) {
	if err := s.store.MarkFailed(ctx, pushErr.Error(), ids...); err != nil {
		s.logger.Error("marking mutations failed failed", "entity", entityID, "error", err)
		return
	}

	// Gate the next attempt on the oldest mutation's failure count; it has
	// failed at least as often as the rest of the batch.
	attempts := batch[0].RetryCount + 1
	backoff := s.cfg.Retry.backoffFor(attempts)
	if !remote.IsTemporary(pushErr) {
		// A permanent rejection is retried only at the slowest cadence;
		// the retry cap turns it into a stuck mutation soon after.
		backoff = s.cfg.Retry.MaxBackoff
	}

	s.mu.Lock()
	s.nextAttempt[entityID] = time.Now().Add(backoff)
	s.mu.Unlock()

	s.logger.Warn("push failed",
		"entity", entityID, "count", len(ids), "attempts", attempts,
		"retry_in", backoff, "error", pushErr)
}

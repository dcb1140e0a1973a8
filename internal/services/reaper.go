package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"lcrd-backend/internal/artifacts"
	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
	"lcrd-backend/internal/repos"
	"lcrd-backend/internal/types"
)

// errSessionPromoted aborts the row-delete transaction when the conditional
// registry delete matched nothing, rolling back the prediction delete.
var errSessionPromoted = errors.New("session promoted during sweep")

// Reaper reclaims sessions that were never promoted within the TTL. It is a
// single periodic worker: sweeps never overlap, each session is cleaned
// independently, and a failure on one session does not stop the sweep.
//
// Per-session cleanup order is artifacts, then prediction row, then registry
// row. A crash mid-cleanup therefore leaves the registry row in place, so the
// next sweep finds and retries the session instead of stranding orphan
// artifacts with no accounting row.
type Reaper struct {
	db             *gorm.DB
	log            *logger.Logger
	sessionRepo    repos.SessionRepo
	predictionRepo repos.PredictionRepo
	store          artifacts.Store

	ttl      time.Duration
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewReaper(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	predictionRepo repos.PredictionRepo,
	store artifacts.Store,
	ttl time.Duration,
	interval time.Duration,
) *Reaper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Reaper{
		db:             db,
		log:            baseLog.With("service", "ExpiryReaper"),
		sessionRepo:    sessionRepo,
		predictionRepo: predictionRepo,
		store:          store,
		ttl:            ttl,
		interval:       interval,
	}
}

// Start launches the sweep loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.log.Info("reaper started", "ttl", r.ttl.String(), "interval", r.interval.String())
		for {
			select {
			case <-ctx.Done():
				r.log.Info("reaper stopped")
				return
			case <-ticker.C:
				r.SweepOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// SweepOnce runs a single sweep and reports how many sessions were fully
// reclaimed. Errors are logged per session and never propagate.
func (r *Reaper) SweepOnce(ctx context.Context) int {
	expired, err := r.sessionRepo.FindExpired(ctx, nil, r.ttl)
	if err != nil {
		r.log.Error("expiry query failed", "error", err)
		return 0
	}

	reaped := 0
	for _, session := range expired {
		if ctx.Err() != nil {
			return reaped
		}
		if r.reapOne(ctx, session) {
			reaped++
		}
	}
	if reaped > 0 {
		r.log.Info("sweep reclaimed sessions", "count", reaped)
	}
	return reaped
}

func (r *Reaper) reapOne(ctx context.Context, session *types.Session) bool {
	// The session may have been promoted since the expiry query ran.
	// Re-check right before deleting; a vanished row means someone else
	// already cleaned up, which is success, not failure.
	current, err := r.sessionRepo.GetByID(ctx, nil, session.ID)
	if err != nil {
		if apierr.IsNotFound(err) {
			return false
		}
		r.log.Warn("recheck failed, skipping session", "session_id", session.ID, "error", err)
		return false
	}
	if current.Saved {
		return false
	}

	for _, w := range r.store.DeleteSession(session.ID) {
		r.log.Warn("artifact cleanup warning", "session_id", session.ID, "warning", w)
	}

	// Both row deletes share a transaction, with the registry delete
	// conditional on saved still being false. A promotion that commits
	// after the recheck above therefore rolls the prediction delete back
	// and keeps the session intact.
	promoted := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.predictionRepo.DeleteBySessionID(ctx, tx, session.ID); err != nil {
			return err
		}
		deleted, err := r.sessionRepo.DeleteIfUnsaved(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if !deleted {
			promoted = true
			return errSessionPromoted
		}
		return nil
	})
	if promoted {
		r.log.Info("session promoted during sweep, left in place", "session_id", session.ID)
		return false
	}
	if err != nil {
		r.log.Warn("row cleanup failed, will retry next sweep", "session_id", session.ID, "error", err)
		return false
	}
	r.log.Info("session reclaimed", "session_id", session.ID)
	return true
}

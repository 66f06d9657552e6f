package syncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yourorg/listing-sync/internal/refresh"
)

// LockKey guards against passes running in two processes at once.
const LockKey = "listingsync:lock"

const passJobKey = "sync"

var (
	ErrLocked     = errors.New("another sync pass holds the lock")
	ErrNotRunning = errors.New("sync runner is not running")
)

// Locker is a TTL lock shared between processes.
type Locker interface {
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type RunnerConfig struct {
	Interval    time.Duration
	PassTimeout time.Duration
}

// Status is what the admin API reports about the runner.
type Status struct {
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Runner schedules passes so that at most one runs at a time.
type Runner struct {
	orch *Orchestrator
	lock Locker
	cfg  RunnerConfig
	log  *slog.Logger

	mu     sync.Mutex
	queue  *refresh.Refresher
	status Status
}

func NewRunner(orch *Orchestrator, lock Locker, cfg RunnerConfig, log *slog.Logger) *Runner {
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 180 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{orch: orch, lock: lock, cfg: cfg, log: log}
}

// Run starts with an immediate pass, then queues one per interval until ctx
// is done. Ticks that land while a pass is still running are dropped.
func (r *Runner) Run(ctx context.Context) error {
	q := refresh.New(ctx, 1, 1, r.cfg.PassTimeout, func(ctx context.Context, j refresh.Job) {
		r.log.Debug("Sync pass dequeued", "reason", j.Reason)
		_, _ = r.RunOnce(ctx)
	})
	r.mu.Lock()
	r.queue = q
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.queue = nil
		r.mu.Unlock()
		q.Close()
	}()

	q.Enqueue(refresh.Job{Key: passJobKey, Reason: "startup"})
	if r.cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Info("Sync scheduler started", "interval", r.cfg.Interval, "pass_timeout", r.cfg.PassTimeout)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Sync scheduler stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if !q.Enqueue(refresh.Job{Key: passJobKey, Reason: "schedule"}) {
				r.log.Debug("Sync pass still running, tick skipped")
			}
		}
	}
}

// Trigger queues an out of band pass. It returns false when one is already
// queued or running.
func (r *Runner) Trigger(reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue == nil {
		return false, ErrNotRunning
	}
	return r.queue.Enqueue(refresh.Job{Key: passJobKey, Reason: reason}), nil
}

// RunOnce runs a single pass bounded by the pass timeout, holding the
// shared lock when one is configured.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PassTimeout)
	defer cancel()

	if r.lock != nil {
		token := newToken()
		ok, err := r.lock.SetNX(ctx, LockKey, token, r.cfg.PassTimeout)
		if err != nil {
			r.finish(Report{}, err)
			return Report{}, err
		}
		if !ok {
			r.log.Info("Sync pass skipped, lock held elsewhere")
			return Report{}, ErrLocked
		}
		defer func() {
			// the pass context may already be done
			relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer relCancel()
			if err := r.lock.Release(relCtx, LockKey, token); err != nil {
				r.log.Warn("Sync lock release failed", "err", err)
			}
		}()
	}

	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	rep, err := r.orch.Synchronize(ctx)
	if err != nil {
		r.log.Error("Sync pass failed", "err", err)
	}
	r.finish(rep, err)
	return rep, err
}

func (r *Runner) finish(rep Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Running = false
	r.status.LastRun = time.Now()
	r.status.LastReport = &rep
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.LastReport != nil {
		rep := *s.LastReport
		s.LastReport = &rep
	}
	if r.queue != nil && r.queue.Busy(passJobKey) {
		s.Running = true
	}
	return s
}

// Orchestrator exposes the wrapped orchestrator for install and reset.
func (r *Runner) Orchestrator() *Orchestrator { return r.orch }

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package refresh

import (
	"context"
	"sync"
	"time"
)

type Job struct {
	Key    string
	Reason string
}

// Refresher runs queued jobs on a fixed set of workers. A job whose key is
// already queued or running is dropped.
type Refresher struct {
	ch      chan Job
	inFly   sync.Map // key -> struct{}
	base    context.Context
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	Do      func(ctx context.Context, j Job)
}

func New(base context.Context, capacity, workerCount int, timeout time.Duration, do func(ctx context.Context, j Job)) *Refresher {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := &Refresher{ch: make(chan Job, capacity), base: base, timeout: timeout, Do: do}
	r.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go r.worker()
	}
	return r
}

// Enqueue reports whether the job was accepted. Jobs offered after Close
// are refused.
func (r *Refresher) Enqueue(j Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	if _, exists := r.inFly.LoadOrStore(j.Key, struct{}{}); exists {
		return false
	}
	select {
	case r.ch <- j:
		return true
	default:
		// drop if saturated
		r.inFly.Delete(j.Key)
		return false
	}
}

// Busy reports whether a job with key is queued or running.
func (r *Refresher) Busy(key string) bool {
	_, ok := r.inFly.Load(key)
	return ok
}

// Close stops accepting jobs and waits for the workers to drain the queue.
func (r *Refresher) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Refresher) worker() {
	defer r.wg.Done()
	for j := range r.ch {
		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		func() {
			defer func() {
				r.inFly.Delete(j.Key)
				cancel()
			}()
			if r.Do != nil {
				r.Do(ctx, j)
			}
		}()
	}
}

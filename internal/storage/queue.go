// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrQueueClosed is returned by Flush after Close.
var ErrQueueClosed = errors.New("write queue closed")

// RetryPolicy bounds the retries of one remote write.
type RetryPolicy struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	AttemptLimit time.Duration // per-attempt timeout
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		BaseBackoff:  250 * time.Millisecond,
		MaxBackoff:   5 * time.Second,
		AttemptLimit: 15 * time.Second,
	}
}

type writeJob struct {
	op    string
	scope Scope
	run   func(ctx context.Context) error

	// done is set on flush markers only
	done chan struct{}
}

// writeQueue executes remote writes one at a time in submission order.
// Failures are logged and dropped; callers never observe them.
type writeQueue struct {
	mu      sync.Mutex
	pending []writeJob
	closed  bool

	wake    chan struct{}
	stopped chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	policy  RetryPolicy
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newWriteQueue(policy RetryPolicy, limiter *rate.Limiter, log zerolog.Logger) *writeQueue {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &writeQueue{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		policy:  policy,
		limiter: limiter,
		log:     log,
	}
	go q.loop()
	return q
}

// enqueue appends a job without blocking. It reports false after Close.
func (q *writeQueue) enqueue(job writeJob) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *writeQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Flush waits until every job enqueued before the call has finished.
func (q *writeQueue) Flush(ctx context.Context) error {
	marker := writeJob{done: make(chan struct{})}
	if !q.enqueue(marker) {
		return ErrQueueClosed
	}
	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and drains the queue. If ctx ends first,
// in-flight retries are abandoned and the remaining jobs are dropped.
func (q *writeQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.stopped:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.stopped
		return ctx.Err()
	}
}

// Pending returns the number of queued jobs.
func (q *writeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *writeQueue) loop() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		job := q.pending[0]
		q.pending[0] = writeJob{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if job.done != nil {
			close(job.done)
			continue
		}
		q.execute(job)
	}
}

func (q *writeQueue) execute(job writeJob) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = q.policy.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = q.policy.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(q.policy.MaxAttempts-1))
	b = backoff.WithContext(b, q.ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if attempt > 1 {
			remoteRetriesTotal.WithLabelValues(job.op).Inc()
		}
		if err := q.limiter.Wait(q.ctx); err != nil {
			return backoff.Permanent(err)
		}

		ctx := q.ctx
		if q.policy.AttemptLimit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(q.ctx, q.policy.AttemptLimit)
			defer cancel()
		}
		err := job.run(ctx)
		if errors.Is(err, ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, b); err != nil {
		remoteWritesTotal.WithLabelValues(job.op, "failed").Inc()
		q.log.Error().Stack().Err(err).
			Str("op", job.op).
			Str("scope", job.scope.String()).
			Int("attempts", attempt).
			Msg("remote write dropped")
		return
	}
	remoteWritesTotal.WithLabelValues(job.op, "ok").Inc()
	q.log.Debug().Str("op", job.op).Str("scope", job.scope.String()).Int("attempts", attempt).Msg("remote write")
}

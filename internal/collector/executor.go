package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/config"
	"github.com/paralink-network/paralink-node/internal/ipfs"
	"github.com/paralink-network/paralink-node/internal/metrics"
	"github.com/paralink-network/paralink-node/internal/pql"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// ErrExpired is returned by Handle when a request is abandoned after its
// on-chain expiration.
var ErrExpired = errors.New("request expired")

// Runner executes a raw PQL document.
type Runner interface {
	Execute(ctx context.Context, raw []byte) (pql.Value, error)
}

// Task is one Request event to answer.
type Task struct {
	ID      string
	Chain   chain.Chain
	Request chain.Request
}

// RetryPolicy is an exponential backoff.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig fills unset fields with defaults.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := RetryPolicy{InitialDelay: c.InitialDelay, MaxDelay: c.MaxDelay, BackoffFactor: c.BackoffFactor}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	return p
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * p.BackoffFactor)
	if n > p.MaxDelay {
		return p.MaxDelay
	}
	return n
}

// Executor fetches, executes and fulfills requests, retrying until the
// request's expiration.
type Executor struct {
	fetcher ipfs.Fetcher
	runner  Runner
	retry   RetryPolicy
	log     *logger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor.
func NewExecutor(fetcher ipfs.Fetcher, runner Runner, retry RetryPolicy, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault("executor")
	}
	return &Executor{
		fetcher: fetcher,
		runner:  runner,
		retry:   retry,
		log:     log,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Handle runs the task to completion. It returns nil once fulfilled,
// ErrExpired when the deadline passed, the permanent error when the chain
// refused the result, or ctx.Err() when cancelled.
func (e *Executor) Handle(ctx context.Context, task Task) error {
	req := task.Request
	chainName := task.Chain.Name()
	log := e.log.WithField("task_id", task.ID).
		WithField("chain", chainName).
		WithField("request_id", req.ID()).
		WithField("contract", req.Contract)

	delay := e.retry.InitialDelay
	for attempt := 1; ; attempt++ {
		metrics.RecordExecutorAttempt(chainName)
		err := e.attempt(ctx, task)
		if err == nil {
			metrics.RecordExecutorOutcome(chainName, "fulfilled")
			log.WithField("attempt", attempt).Info("request fulfilled")
			return nil
		}
		if ctx.Err() != nil {
			metrics.RecordExecutorOutcome(chainName, "cancelled")
			return ctx.Err()
		}
		if chain.IsPermanent(err) {
			metrics.RecordExecutorOutcome(chainName, "rejected")
			log.WithError(err).Error("request rejected")
			return err
		}

		now := e.now()
		if req.Expired(now) {
			metrics.RecordExecutorOutcome(chainName, "expired")
			log.WithError(err).
				WithField("requester", req.Requester).
				Warn("request expired")
			return ErrExpired
		}

		wait := delay
		if remaining := req.Expiration.Sub(now); remaining < wait {
			wait = remaining
		}
		log.WithError(err).WithField("attempt", attempt).WithField("retry_in", wait).Warn("request failed, retrying")
		if err := e.sleep(ctx, wait); err != nil {
			metrics.RecordExecutorOutcome(chainName, "cancelled")
			return err
		}
		delay = e.retry.next(delay)
	}
}

func (e *Executor) attempt(ctx context.Context, task Task) error {
	cid := ipfs.CIDFromBytes32(task.Request.IPFSHash)
	doc, err := e.fetcher.Fetch(ctx, cid)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", cid, err)
	}
	value, err := e.runner.Execute(ctx, doc)
	if err != nil {
		return fmt.Errorf("execute %s: %w", cid, err)
	}
	result, err := pql.Format(value)
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	return task.Chain.Fulfill(ctx, task.Request, result)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

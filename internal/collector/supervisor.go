// Package collector watches active chains for oracle Request events and
// answers each one with an executor task.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/paralink-network/paralink-node/internal/chain"
	"github.com/paralink-network/paralink-node/internal/config"
	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/metrics"
	"github.com/paralink-network/paralink-node/internal/store"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// ErrUnknownChain is returned by Restart for a chain missing from the store.
var ErrUnknownChain = errors.New("unknown chain")

// TaskHandler answers one request.
type TaskHandler interface {
	Handle(ctx context.Context, task Task) error
}

// ChainBuilder turns a configuration into a chain.
type ChainBuilder func(cfg chain.Config) (chain.Chain, error)

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	Source    store.Source
	Build     ChainBuilder
	Listeners ListenerFactory
	Handler   TaskHandler
	Collector config.CollectorConfig
	Logger    *logger.Logger
}

type runningChain struct {
	taskID string
	cancel context.CancelFunc
	done   chan struct{}
}

// ChainStatus describes the listener of one chain.
type ChainStatus struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	TaskID  string `json:"task_id,omitempty"`
	Running bool   `json:"running"`
}

// Supervisor owns one listener per active chain. Restarts replace the whole
// listener of a chain; filters are never patched in place.
type Supervisor struct {
	source    store.Source
	build     ChainBuilder
	listeners ListenerFactory
	handler   TaskHandler
	pool      *Pool
	poll      time.Duration
	retry     RetryPolicy
	schedule  string
	log       *logger.Logger
	cron      *cron.Cron

	mu           sync.Mutex
	root         context.Context
	cancel       context.CancelFunc
	running      map[string]*runningChain
	fingerprints map[string]string
	active       map[string]bool
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Source == nil || cfg.Handler == nil {
		return nil, errors.New("collector: source and handler are required")
	}
	if cfg.Build == nil {
		cfg.Build = func(c chain.Config) (chain.Chain, error) { return chain.New(c) }
	}
	if cfg.Listeners == nil {
		cfg.Listeners = DefaultListeners
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("collector")
	}
	poll := cfg.Collector.PollInterval
	if poll <= 0 {
		poll = chain.DefaultPollInterval
	}
	return &Supervisor{
		source:    cfg.Source,
		build:     cfg.Build,
		listeners: cfg.Listeners,
		handler:   cfg.Handler,
		pool: NewPool(PoolConfig{
			Workers:   cfg.Collector.Workers,
			QueueSize: cfg.Collector.QueueSize,
		}),
		poll:         poll,
		retry:        RetryPolicyFromConfig(cfg.Collector.Retry),
		schedule:     cfg.Collector.ReconcileSchedule,
		log:          cfg.Logger,
		root:         context.Background(),
		running:      make(map[string]*runningChain),
		fingerprints: make(map[string]string),
		active:       make(map[string]bool),
	}, nil
}

func (s *Supervisor) Name() string { return "collector" }

// Start launches a listener for every active chain and schedules
// reconciliation against the store.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.root, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.RestartAll(ctx); err != nil {
		return err
	}

	if s.schedule != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.schedule, func() {
			rctx, cancel := context.WithTimeout(s.root, time.Minute)
			defer cancel()
			if err := s.Reconcile(rctx); err != nil {
				s.log.WithError(err).Warn("reconcile failed")
			}
		})
		if err != nil {
			return fmt.Errorf("reconcile schedule %q: %w", s.schedule, err)
		}
		s.cron.Start()
	}
	s.log.WithField("workers", s.pool.Stats().Workers).Info("collector started")
	return nil
}

// Stop cancels every listener and waits for running executor tasks up to
// ctx's deadline.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	for name := range s.running {
		s.stopLocked(name)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.pool.Close()
	if err := s.pool.Wait(ctx); err != nil {
		return fmt.Errorf("wait for executor tasks: %w", err)
	}
	s.log.Info("collector stopped")
	return nil
}

// Restart tears down the listener of one chain and starts a fresh one from
// the current store contents, if the chain is active.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	configs, err := store.LoadChains(ctx, s.source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(name)
	for _, cfg := range configs {
		if cfg.Name == name {
			s.fingerprints[name] = fingerprint(cfg)
			s.active[name] = cfg.Active
			if !cfg.Active {
				return nil
			}
			return s.startLocked(cfg)
		}
	}
	delete(s.fingerprints, name)
	delete(s.active, name)
	return fmt.Errorf("%w: %s", ErrUnknownChain, name)
}

// RestartAll replaces every listener.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	configs, err := store.LoadChains(ctx, s.source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.running {
		s.stopLocked(name)
	}
	s.fingerprints = make(map[string]string, len(configs))
	s.active = make(map[string]bool, len(configs))
	for _, cfg := range configs {
		s.fingerprints[cfg.Name] = fingerprint(cfg)
		s.active[cfg.Name] = cfg.Active
		if cfg.Active {
			if err := s.startLocked(cfg); err != nil {
				s.log.WithError(err).WithField("chain", cfg.Name).Error("cannot start listener")
			}
		}
	}
	return nil
}

// Reconcile restarts the chains whose configuration changed since they were
// started and stops the ones that disappeared.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	configs, err := store.LoadChains(ctx, s.source)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		seen[cfg.Name] = true
		fp := fingerprint(cfg)
		if s.fingerprints[cfg.Name] == fp {
			continue
		}
		s.log.WithField("chain", cfg.Name).Info("chain configuration changed, restarting listener")
		s.stopLocked(cfg.Name)
		s.fingerprints[cfg.Name] = fp
		s.active[cfg.Name] = cfg.Active
		if cfg.Active {
			if err := s.startLocked(cfg); err != nil {
				s.log.WithError(err).WithField("chain", cfg.Name).Error("cannot start listener")
			}
		}
	}
	for name := range s.fingerprints {
		if !seen[name] {
			s.log.WithField("chain", name).Info("chain removed, stopping listener")
			s.stopLocked(name)
			delete(s.fingerprints, name)
			delete(s.active, name)
		}
	}
	return nil
}

// Status reports every known chain, sorted by name.
func (s *Supervisor) Status() []ChainStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChainStatus, 0, len(s.fingerprints))
	for name := range s.fingerprints {
		st := ChainStatus{Name: name, Active: s.active[name]}
		if rc, ok := s.running[name]; ok {
			st.TaskID = rc.taskID
			select {
			case <-rc.done:
			default:
				st.Running = true
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PoolStats exposes executor pool counters.
func (s *Supervisor) PoolStats() PoolStats { return s.pool.Stats() }

func (s *Supervisor) startLocked(cfg chain.Config) error {
	c, err := s.build(cfg)
	if err != nil {
		return err
	}
	log := s.log.With("chain", cfg.Name)
	l, err := s.listeners(c, s.poll, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.root)
	rc := &runningChain{taskID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	s.running[cfg.Name] = rc
	go s.runListener(ctx, c, l, rc, log.With("task_id", rc.taskID))
	return nil
}

// stopLocked cancels the listener of name and waits for it to exit.
func (s *Supervisor) stopLocked(name string) {
	rc, ok := s.running[name]
	if !ok {
		return
	}
	rc.cancel()
	<-rc.done
	delete(s.running, name)
}

func (s *Supervisor) runListener(ctx context.Context, c chain.Chain, l Listener, rc *runningChain, log *logger.Logger) {
	defer close(rc.done)
	metrics.ListenerStarted()
	defer metrics.ListenerStopped()

	log.Info("listener started")
	backoff := s.retry.InitialDelay
	for {
		err := l.Run(ctx, func(req chain.Request) { s.dispatch(c, req, log) })
		if ctx.Err() != nil {
			log.Info("listener stopped")
			return
		}
		if apperrors.HasCode(err, apperrors.CodeChainValidation) {
			log.WithError(err).Error("chain validation failed, listener not restarted")
			return
		}
		log.WithError(err).WithField("retry_in", backoff).Warn("listener failed, reconnecting")
		if sleepContext(ctx, backoff) != nil {
			log.Info("listener stopped")
			return
		}
		backoff = s.retry.next(backoff)
	}
}

// dispatch queues an executor task. Tasks run under the supervisor's root
// context, so restarting a listener does not cancel requests in flight.
func (s *Supervisor) dispatch(c chain.Chain, req chain.Request, log *logger.Logger) {
	metrics.RecordRequestEvent(c.Name())
	task := Task{ID: uuid.NewString(), Chain: c, Request: req}
	err := s.pool.Submit(s.root, func(ctx context.Context) {
		_ = s.handler.Handle(ctx, task)
	})
	if err != nil {
		log.WithError(err).WithField("request_id", req.ID()).Error("request dropped")
	}
}

func fingerprint(cfg chain.Config) string {
	tracked := append([]string(nil), cfg.TrackedContracts...)
	sort.Strings(tracked)
	return fmt.Sprintf("%t|%s|%s|%s", cfg.Active, cfg.Type, cfg.URL, strings.Join(tracked, ","))
}

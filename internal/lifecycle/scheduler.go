package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed Scheduler.
var ErrClosed = errors.New("lifecycle scheduler closed")

// PendingRestart is a restart that has been scheduled but not yet run.
type PendingRestart struct {
	Node string    `json:"node"`
	Due  time.Time `json:"due"`
}

type pendingRestart struct {
	gen    uint64
	due    time.Time
	cancel context.CancelFunc
}

// Scheduler stops members and restarts them after a delay. At most one
// restart is pending per node; scheduling another replaces it. Runtime calls
// for the same node never overlap, so a stop issued while a scheduled restart
// is running takes effect after it.
type Scheduler struct {
	runtime Runtime
	cfg     *SchedulerConfig

	mu      sync.Mutex
	pending map[string]*pendingRestart
	nodes   map[string]*sync.Mutex
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

func NewScheduler(runtime Runtime, opts ...SchedulerOption) *Scheduler {
	var cfg SchedulerConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Scheduler{
		runtime: runtime,
		cfg:     &cfg,
		pending: make(map[string]*pendingRestart),
		nodes:   make(map[string]*sync.Mutex),
	}
}

func (s *Scheduler) nodeLock(node string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.nodes[node]
	if !ok {
		l = &sync.Mutex{}
		s.nodes[node] = l
	}
	return l
}

// Stop cancels any pending restart of node, stops it, and schedules a restart
// after restartAfter when it is positive.
func (s *Scheduler) Stop(ctx context.Context, node string, restartAfter time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.Cancel(node)

	lock := s.nodeLock(node)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	err := s.runtime.Stop(opCtx, node)
	cancel()
	if err != nil {
		return err
	}

	s.cfg.Logger.Infow("Node stopped",
		"node", node,
		"restart_after", restartAfter,
	)

	if restartAfter > 0 {
		s.schedule(node, restartAfter)
	}
	return nil
}

// Start cancels any pending restart of node and starts it now.
func (s *Scheduler) Start(ctx context.Context, node string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.Cancel(node)

	lock := s.nodeLock(node)
	lock.Lock()
	defer lock.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.runtime.Start(opCtx, node); err != nil {
		return err
	}

	s.cfg.Logger.Infow("Node started", "node", node)
	return nil
}

// Cancel drops the pending restart of node and reports whether one existed.
func (s *Scheduler) Cancel(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[node]
	if !ok {
		return false
	}
	p.cancel()
	delete(s.pending, node)
	s.cfg.Logger.Debugw("Pending restart cancelled", "node", node)
	return true
}

// Pending lists scheduled restarts ordered by node.
func (s *Scheduler) Pending() []PendingRestart {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingRestart, 0, len(s.pending))
	for node, p := range s.pending {
		out = append(out, PendingRestart{Node: node, Due: p.due})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Close cancels every pending restart and waits for in-flight ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for node, p := range s.pending {
		p.cancel()
		delete(s.pending, node)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scheduler) schedule(node string, after time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if p, ok := s.pending[node]; ok {
		p.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.pending[node] = &pendingRestart{
		gen:    gen,
		due:    s.cfg.Clock().Add(after),
		cancel: cancel,
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()

		timer := time.NewTimer(after)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		lock := s.nodeLock(node)
		lock.Lock()
		if !s.isCurrent(node, gen) || ctx.Err() != nil {
			lock.Unlock()
			return
		}

		// The entry stays pending while the restart runs so that Cancel,
		// Stop and Start can still interrupt it.
		opCtx, opCancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := s.runtime.Start(opCtx, node)
		opCancel()

		s.mu.Lock()
		if p, ok := s.pending[node]; ok && p.gen == gen {
			delete(s.pending, node)
		}
		s.mu.Unlock()
		lock.Unlock()

		if err != nil {
			s.cfg.Logger.Errorw("Scheduled restart failed", "node", node, "error", err)
		} else {
			s.cfg.Logger.Infow("Scheduled restart completed", "node", node)
		}
		if s.cfg.OnRestart != nil {
			s.cfg.OnRestart(node, err)
		}
	}()
}

func (s *Scheduler) isCurrent(node string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[node]
	return ok && p.gen == gen
}

type SchedulerConfig struct {
	Logger  *zap.SugaredLogger
	Timeout time.Duration
	Clock   func() time.Time
	// OnRestart is called after every scheduled restart with its result.
	OnRestart func(node string, err error)
}

func (c *SchedulerConfig) Options(opts ...SchedulerOption) {
	for _, opt := range opts {
		opt.ConfigureScheduler(c)
	}
}

func (c *SchedulerConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type SchedulerOption interface {
	ConfigureScheduler(*SchedulerConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureScheduler(c *SchedulerConfig) {
	c.Logger = w.Logger
}

type WithTimeout time.Duration

func (w WithTimeout) ConfigureScheduler(c *SchedulerConfig) {
	c.Timeout = time.Duration(w)
}

type WithRestartHook func(node string, err error)

func (w WithRestartHook) ConfigureScheduler(c *SchedulerConfig) {
	c.OnRestart = w
}

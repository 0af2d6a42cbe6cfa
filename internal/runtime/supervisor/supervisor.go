package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "respawnbot/pkg/logx"
)

// Supervisor owns the long-running goroutines of the bot (poll loop, dispatch
// workers, transport pollers, config watcher). Each goroutine is named,
// recovers from panics and records its first error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	active  atomic.Int64

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	tasks map[string]*taskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		tasks:  map[string]*taskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// ---- stats ----

type taskStats struct {
	active    int64
	started   uint64
	restarts  uint64
	panics    uint64
	lastStart time.Time
	lastStop  time.Time
	lastErr   string
	runtime   time.Duration
}

// TaskStats is the exported view of one named goroutine. Goroutines sharing a
// name are aggregated.
type TaskStats struct {
	Name      string        `json:"name"`
	Active    int64         `json:"active"`
	Started   uint64        `json:"started"`
	Restarts  uint64        `json:"restarts"`
	Panics    uint64        `json:"panics"`
	LastStart time.Time     `json:"last_start"`
	LastStop  time.Time     `json:"last_stop"`
	LastErr   string        `json:"last_err,omitempty"`
	Runtime   time.Duration `json:"runtime"`
}

type Snapshot struct {
	Active     int64       `json:"active"`
	Started    uint64      `json:"started"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

// Snapshot is for the health endpoint; it is not a synchronization point.
func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	for name, st := range s.tasks {
		snap.Tasks = append(snap.Tasks, TaskStats{
			Name:      name,
			Active:    st.active,
			Started:   st.started,
			Restarts:  st.restarts,
			Panics:    st.panics,
			LastStart: st.lastStart,
			LastStop:  st.lastStop,
			LastErr:   st.lastErr,
			Runtime:   st.runtime,
		})
	}
	s.mu.Unlock()

	sort.Slice(snap.Tasks, func(i, j int) bool {
		a, b := snap.Tasks[i], snap.Tasks[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		return a.Name < b.Name
	})
	return snap
}

func (s *Supervisor) stat(name string) *taskStats {
	st := s.tasks[name]
	if st == nil {
		st = &taskStats{}
		s.tasks[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	st.started++
	st.active++
	st.lastStart = now
	if restart {
		st.restarts++
	}
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error, panicked bool) {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	if st.active > 0 {
		st.active--
	}
	st.lastStop = now
	st.runtime += now.Sub(startedAt)
	if panicked {
		st.panics++
	}
	if err != nil {
		st.lastErr = err.Error()
	}
	s.mu.Unlock()
}

// ---- goroutines ----

// runGuarded calls fn and converts a panic into an error.
func runGuarded(ctx context.Context, fn func(context.Context) error) (err error, panicked bool, stack string) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			panicked = true
			stack = string(debug.Stack())
		}
	}()
	return fn(ctx), false, ""
}

func (s *Supervisor) spawn(name string, body func()) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		body()
	}()
}

// Go runs fn once. A returned error (other than context.Canceled) or a panic
// is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func() {
		startedAt := s.noteStart(name, false)
		s.log.Debug("goroutine started", logx.String("name", name))

		err, panicked, stack := runGuarded(s.ctx, fn)
		if panicked {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Err(err), logx.String("stack", stack))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, startedAt, err, panicked)
			s.fail(err)
		} else {
			s.noteStop(name, startedAt, nil, false)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	})
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxRestarts     int // <=0: unlimited
	stopOnCleanExit bool
	publishFirstErr bool
}

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n failed runs. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithPublishFirstError records the first failure as the supervisor error
// while the loop keeps restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure to restart from.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnCleanExit = enabled }
}

// GoRestart keeps fn running until the context ends, restarting it after
// errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff:      250 * time.Millisecond,
		maxBackoff:      30 * time.Second,
		stopOnCleanExit: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.minBackoff)

	s.spawn(name+".restart", func() {
		backoff := cfg.minBackoff
		restarts := 0
		for s.ctx.Err() == nil {
			startedAt := s.noteStart(name, restarts > 0)

			err, panicked, stack := runGuarded(s.ctx, fn)
			if panicked {
				s.log.Error("goroutine panicked (restart)", logx.String("name", name), logx.Err(err), logx.String("stack", stack))
			}

			// A run that ends during shutdown is a clean stop, whatever it returned.
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, startedAt, nil, panicked)
				return
			}
			if err == nil {
				if cfg.stopOnCleanExit {
					s.noteStop(name, startedAt, nil, false)
					return
				}
				err = errors.New("exited")
			}

			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, startedAt, err, panicked)
			if cfg.publishFirstErr {
				s.setErr(err)
			}

			restarts++
			if cfg.maxRestarts > 0 && restarts > cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}

			wait := min(backoff, cfg.maxBackoff)
			if j := int64(wait) / 5; j > 0 {
				wait += time.Duration(rand.Int64N(j + 1))
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	})
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

// Stop cancels the context and waits for every goroutine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

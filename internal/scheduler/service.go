package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "respawnbot/pkg/logx"
)

type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	run     Job
	entryID cron.EntryID
	spread  time.Duration
}

// Service wraps a robfig/cron instance. Definitions survive Stop/Start and
// a location change; Add with an existing name replaces that job.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	base   context.Context
	defs   []*jobDef
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log: log.With(logx.String("comp", "scheduler")),
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		base:   context.Background(),
	}
}

// Add registers job under name with a schedule string (see ParseSchedule).
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %q: %w", schedule, err)
		}
	}
	return s.add(&jobDef{name: name, spec: ps, timeout: timeout, run: job})
}

// AddRandom registers job to run after a random delay in [min, max],
// re-drawn after every run.
func (s *Service) AddRandom(name string, min, max, timeout time.Duration, job Job) error {
	if min <= 0 || max <= 0 {
		return errors.New("random interval bounds must be > 0")
	}
	return s.add(&jobDef{name: name, spec: ParsedSpec{Kind: SpecRandom, Min: min, Max: max, Source: "random"}, timeout: timeout, run: job})
}

func (s *Service) add(d *jobDef) error {
	if strings.TrimSpace(d.name) == "" {
		return errors.New("name required")
	}
	if d.run == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
		s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", describe(d.spec)), logx.Time("next", s.c.Entry(d.entryID).Next))
	}
	return nil
}

// Remove unschedules name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(name)
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *jobDef) {
	now := time.Now().In(s.loc)
	var sched cron.Schedule
	switch d.spec.Kind {
	case SpecInterval:
		sched, d.spread = intervalWithSpread(d.spec.Every, now, d.name)
	case SpecRandom:
		sched = newRandomSchedule(d.spec.Min, d.spec.Max, uint64(now.UnixNano())^fnv64a(d.name))
	default:
		var err error
		sched, err = s.parser.Parse(d.spec.Cron)
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
			return
		}
	}
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.runJob(d) }))
}

func (s *Service) runJob(d *jobDef) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx := base
	var cancel context.CancelFunc = func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	start := time.Now()
	if err := d.run(ctx); err != nil {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scheduled job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

// Start begins triggering. ctx is the parent of every job context; canceling
// it cancels in-flight jobs but does not stop the scheduler (use Stop).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if ctx != nil {
		s.base = ctx
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

// SetLocation restarts triggering in loc when running.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc.String() == loc.String() {
		return
	}
	s.loc = loc
	if s.c != nil {
		<-s.c.Stop().Done()
		s.startLocked()
		s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
	}
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.name, Spec: describe(d.spec)}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}

func describe(ps ParsedSpec) string {
	switch ps.Kind {
	case SpecInterval:
		return "@every " + ps.Every.String()
	case SpecRandom:
		return ps.Min.String() + ".." + ps.Max.String()
	default:
		return ps.Cron
	}
}

// cronLogger routes robfig/cron's logr-style messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		if k == "" {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

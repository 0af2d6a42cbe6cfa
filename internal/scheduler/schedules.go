package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// startupSpreadSchedule delays the first run of an interval job by a small
// per-job jitter, then delegates to the base schedule.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func intervalWithSpread(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := min(every, maxStartupSpread)
	if spread <= 0 {
		return base, 0
	}
	rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), fnv64a(name)))
	jitter := time.Duration(rng.Int64N(int64(spread)))
	return &startupSpreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// randomSchedule fires after a delay drawn uniformly from [min, max]. cron
// asks for Next once per run, so every run re-draws the delay.
type randomSchedule struct {
	min, max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newRandomSchedule(min, max time.Duration, seed uint64) *randomSchedule {
	if max < min {
		min, max = max, min
	}
	return &randomSchedule{min: min, max: max, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *randomSchedule) Next(t time.Time) time.Time {
	return t.Add(r.draw())
}

func (r *randomSchedule) draw() time.Duration {
	span := r.max - r.min
	if span <= 0 {
		return r.min
	}
	r.mu.Lock()
	d := r.min + time.Duration(r.rng.Int64N(int64(span)+1))
	r.mu.Unlock()
	return d
}

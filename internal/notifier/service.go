package notifier

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"respawnbot/internal/eventbus"
	rtsup "respawnbot/internal/runtime/supervisor"
	"respawnbot/internal/timer"
	kit "respawnbot/internal/transport"
	"respawnbot/internal/view"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

const repostJob = "notifier.repost"

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type dm struct {
	userID string
	boss   string
	text   string
}

type Options struct {
	Timers    Timers
	Adapter   kit.Adapter
	Scheduler Scheduler // optional; no reposts without it
	Bus       eventbus.Bus
	Log       logx.Logger
	Loc       *time.Location
	Style     chatui.Style
	Now       func() time.Time
}

// Service is safe for concurrent use. Tick may also be called directly.
type Service struct {
	mu sync.Mutex

	timers  Timers
	adapter kit.Adapter
	sched   Scheduler
	bus     eventbus.Bus
	log     logx.Logger
	loc     *time.Location
	style   chatui.Style
	now     func() time.Time

	cfg     Config
	limiter *rate.Limiter
	queue   chan dm
	sup     *rtsup.Supervisor

	// tableMu serializes live table edits and reposts.
	tableMu   sync.Mutex
	tableRef  kit.MessageRef
	tableHash uint64
}

func New(cfg Config, opts Options) *Service {
	s := &Service{
		timers:  opts.Timers,
		adapter: opts.Adapter,
		sched:   opts.Scheduler,
		bus:     opts.Bus,
		log:     opts.Log,
		loc:     opts.Loc,
		style:   opts.Style,
		now:     opts.Now,
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "notifier"))
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.style == nil {
		s.style = chatui.Plain{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.RepostMin <= 0 {
		cfg.RepostMin = 30 * time.Minute
	}
	if cfg.RepostMax <= 0 {
		cfg.RepostMax = 60 * time.Minute
	}
	if cfg.RepostMax < cfg.RepostMin {
		cfg.RepostMax = cfg.RepostMin
	}
	if cfg.DMDelay <= 0 {
		cfg.DMDelay = time.Second
	}
	if cfg.DMQueueSize <= 0 {
		cfg.DMQueueSize = 256
	}
	if cfg.MaxThrottleWait <= 0 {
		cfg.MaxThrottleWait = 30 * time.Second
	}
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Every(cfg.DMDelay), 1)
	} else {
		s.limiter.SetLimit(rate.Every(cfg.DMDelay))
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) target() kit.ChatTarget {
	cfg := s.config()
	return kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
}

// Apply swaps the configuration. Intervals and pacing take effect on the next
// tick; a changed repost range re-registers the repost job. The DM queue size
// only changes on restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.applyLocked(cfg)
	cur := s.cfg
	running := s.sup != nil
	s.mu.Unlock()

	if prev.ChatID != cur.ChatID || prev.ThreadID != cur.ThreadID {
		s.tableMu.Lock()
		s.tableRef = kit.MessageRef{}
		s.tableHash = 0
		s.tableMu.Unlock()
	}
	if running && (prev.RepostMin != cur.RepostMin || prev.RepostMax != cur.RepostMax || prev.ChatID != cur.ChatID) {
		s.registerRepost(cur)
	}
}

// Supervisor returns the internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the tick loop and the DM worker. It is a no-op when disabled
// or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.queue = make(chan dm, cfg.DMQueueSize)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// a broken notifier must not take the bot down
		rtsup.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	sup.GoRestart0("tick", s.tickLoop, rtsup.WithPublishFirstError(true))
	sup.GoRestart0("dm", func(c context.Context) { s.dmLoop(c, q) }, rtsup.WithPublishFirstError(true))
	s.registerRepost(cfg)

	s.log.Info("notifier started",
		logx.Duration("poll", cfg.PollInterval),
		logx.Duration("dm_delay", cfg.DMDelay),
		logx.Bool("live_table", cfg.LiveTable),
		logx.String("chat_id", cfg.ChatID),
	)
}

func (s *Service) registerRepost(cfg Config) {
	if s.sched == nil {
		return
	}
	// The full table is reposted whether or not live edits are on, so it
	// stays within the channel's visible history.
	if !cfg.Enabled || cfg.ChatID == "" {
		s.sched.Remove(repostJob)
		return
	}
	if err := s.sched.AddRandom(repostJob, cfg.RepostMin, cfg.RepostMax, time.Minute, s.Repost); err != nil {
		s.log.Warn("repost schedule rejected", logx.Err(err))
	}
}

// Stop cancels the loops. Direct notices still queued are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.queue = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if s.sched != nil {
		s.sched.Remove(repostJob)
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("notifier stop", logx.Err(err))
	}
}

func (s *Service) tickLoop(ctx context.Context) {
	for {
		t := time.NewTimer(s.config().PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		s.Tick(ctx, s.now())
	}
}

// Tick runs one poll pass: broadcast, direct notices, then the live table.
// It returns what the poll produced.
func (s *Service) Tick(ctx context.Context, now time.Time) []timer.Transition {
	cfg := s.config()
	trs := s.timers.Poll(ctx, now)

	if len(trs) > 0 {
		s.broadcast(ctx, trs, now)
		for _, tr := range trs {
			if tr.Kind != timer.TransitionOpened {
				continue
			}
			text := view.DirectNotice(tr, s.loc)
			for _, uid := range tr.Subscribers {
				s.enqueueDM(dm{userID: uid, boss: tr.Pair.Boss, text: text})
			}
		}
	}

	if cfg.LiveTable {
		if err := s.refreshTable(ctx, now, false); err != nil {
			s.log.Warn("live table refresh failed", logx.Err(err))
		}
	}
	return trs
}

func (s *Service) broadcast(ctx context.Context, trs []timer.Transition, now time.Time) {
	to := s.target()
	if to.IsZero() {
		s.log.Debug("no channel configured; broadcast skipped", logx.Int("transitions", len(trs)))
		return
	}
	msg := view.Broadcast(trs, now, view.Options{Loc: s.loc, Style: s.style})
	if msg.Text == "" {
		return
	}
	var ref kit.MessageRef
	err := s.deliver(ctx, "broadcast", func(c context.Context) error {
		var err error
		ref, err = s.adapter.SendText(c, to, msg.Text, msg.Opt)
		return err
	})
	if err != nil {
		s.log.Warn("broadcast failed", logx.Err(err), logx.Int("transitions", len(trs)))
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierBroadcast, Data: BroadcastEvent{Transitions: len(trs), MessageID: ref.MessageID}})
}

func (s *Service) enqueueDM(j dm) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	err := ErrStopped
	if q != nil {
		select {
		case q <- j:
			return
		default:
			err = ErrQueueFull
		}
	}
	s.log.Warn("direct notice dropped", logx.String("user_id", j.userID), logx.String("boss", j.boss), logx.Err(err))
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDMDropped, Data: DMEvent{UserID: j.userID, Boss: j.boss, Error: err.Error()}})
}

func (s *Service) dmLoop(ctx context.Context, q <-chan dm) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.sendDM(ctx, j)
		}
	}
}

func (s *Service) sendDM(ctx context.Context, j dm) {
	err := s.deliver(ctx, "dm", func(c context.Context) error {
		return s.adapter.SendDirect(c, j.userID, j.text)
	})
	switch {
	case err == nil:
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDMSent, Data: DMEvent{UserID: j.userID, Boss: j.boss}})
		return
	case errors.Is(err, kit.ErrForbidden):
		s.log.Debug("direct notice refused by recipient", logx.String("user_id", j.userID), logx.Err(err))
	default:
		s.log.Warn("direct notice failed", logx.String("user_id", j.userID), logx.String("boss", j.boss), logx.Err(err))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDMDropped, Data: DMEvent{UserID: j.userID, Boss: j.boss, Error: err.Error()}})
}

// deliver runs send with a per-call timeout and, when the platform throttles,
// waits for its hint and tries exactly once more.
func (s *Service) deliver(ctx context.Context, what string, send func(ctx context.Context) error) error {
	attempt := 0
	return kit.RetryOnce(ctx, s.config().MaxThrottleWait, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.log.Debug("throttled; retrying once", logx.String("op", what))
		}
		callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return send(callCtx)
	})
}

// Repost sends a fresh table and makes it the live message.
func (s *Service) Repost(ctx context.Context) error {
	if err := s.refreshTable(ctx, s.now(), true); err != nil {
		return err
	}
	s.tableMu.Lock()
	id := s.tableRef.MessageID
	s.tableMu.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierTableReposted, Data: TableEvent{MessageID: id}})
	return nil
}

// LiveTable reports the message the notifier currently edits.
func (s *Service) LiveTable() kit.MessageRef {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	return s.tableRef
}

func (s *Service) refreshTable(ctx context.Context, now time.Time, fresh bool) error {
	to := s.target()
	if to.IsZero() {
		return nil
	}
	cfg := s.config()
	msg := view.TableMessage(s.timers.Snapshot(), now, view.Options{Loc: s.loc, Style: s.style, Compact: cfg.TableCompact})
	h := textHash(msg.Text)

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	if !fresh && !s.tableRef.IsZero() {
		if h == s.tableHash {
			return nil
		}
		ref := s.tableRef
		err := s.deliver(ctx, "table.edit", func(c context.Context) error {
			return s.adapter.EditText(c, ref, msg.Text, msg.Opt)
		})
		if err == nil {
			s.tableHash = h
			return nil
		}
		if !errors.Is(err, kit.ErrMessageNotFound) {
			return err
		}
		s.log.Info("live table message is gone; posting a new one", logx.String("message_id", ref.MessageID))
	}

	var ref kit.MessageRef
	err := s.deliver(ctx, "table.send", func(c context.Context) error {
		var err error
		ref, err = s.adapter.SendText(c, to, msg.Text, msg.Opt)
		return err
	})
	if err != nil {
		return err
	}
	s.tableRef, s.tableHash = ref, h
	return nil
}

func textHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

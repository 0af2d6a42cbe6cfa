// Package commands is the chat surface of the bot: timer commands, views,
// subscriptions and owner backup tools, registered on the router.
package commands

import (
	"context"
	"time"

	"respawnbot/internal/backup"
	"respawnbot/internal/boss"
	"respawnbot/internal/timer"
	"respawnbot/internal/transport/router"
	"respawnbot/internal/view"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

// Timers is the part of *timer.Service the commands drive.
type Timers interface {
	Record(ctx context.Context, bossInput string, room int, death time.Time, by timer.Recorder) (timer.Entry, error)
	Clear(ctx context.Context, bossInput string, room int, by timer.Recorder) (int, error)
	Subscribe(ctx context.Context, userID, bossInput string) (bool, string, error)
	Unsubscribe(ctx context.Context, userID, bossInput string) (bool, string, error)
	Subscriptions(userID string) []string
	Snapshot() timer.Snapshot
	Registry() *boss.Registry
}

// Backups is the part of *backup.Service the owner commands drive.
type Backups interface {
	Create(ctx context.Context) (backup.Info, error)
	List() ([]backup.Info, error)
	Restore(ctx context.Context, id string) (backup.Document, error)
}

type Options struct {
	Timers  Timers
	Backups Backups // nil disables the backup commands
	Loc     *time.Location
	Log     logx.Logger
	Now     func() time.Time

	RankingLimit int // default 10
}

type Set struct {
	timers  Timers
	backups Backups
	loc     *time.Location
	log     logx.Logger
	now     func() time.Time
	rankN   int
}

func New(opts Options) *Set {
	s := &Set{
		timers:  opts.Timers,
		backups: opts.Backups,
		loc:     opts.Loc,
		log:     opts.Log,
		now:     opts.Now,
		rankN:   opts.RankingLimit,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "commands"))
	if s.now == nil {
		s.now = time.Now
	}
	if s.rankN <= 0 {
		s.rankN = 10
	}
	return s
}

func (s *Set) viewOpts(req *router.Request, compact bool) view.Options {
	return view.Options{Loc: s.loc, Style: req.Style, Compact: compact}
}

func recorder(req *router.Request) timer.Recorder {
	name := req.FromName
	if name == "" {
		name = req.FromID
	}
	return timer.Recorder{ID: req.FromID, Name: name}
}

// Commands lists every chat command. /help is added by the router.
func (s *Set) Commands() []router.Command {
	cmds := []router.Command{
		{
			Route:       "record",
			Aliases:     []string{"r", "kill"},
			Description: "record a boss kill",
			Usage:       "/record <boss> <room> <HH:MM> [-y]",
			BoolFlags:   []string{"y", "yesterday"},
			Timeout:     15 * time.Second,
			Handle:      s.record,
		},
		{
			Route:       "clear",
			Aliases:     []string{"c"},
			Description: "reset a room, or every room of a boss",
			Usage:       "/clear <boss> [room]",
			Timeout:     15 * time.Second,
			Handle:      s.clear,
		},
		{
			Route:       "sub",
			Aliases:     []string{"subscribe"},
			Description: "get a DM when a boss opens",
			Usage:       "/sub <boss>",
			Handle:      s.subscribe,
		},
		{
			Route:       "unsub",
			Aliases:     []string{"unsubscribe"},
			Description: "stop DMs for a boss",
			Usage:       "/unsub <boss>",
			Handle:      s.unsubscribe,
		},
		{
			Route:       "subs",
			Description: "list your subscriptions",
			Usage:       "/subs",
			Handle:      s.subscriptions,
		},
		{
			Route:       "table",
			Aliases:     []string{"t", "timers"},
			Description: "show every timer",
			Usage:       "/table [-c]",
			BoolFlags:   []string{"c", "compact"},
			Handle:      s.table,
		},
		{
			Route:       "ranking",
			Aliases:     []string{"rank", "top"},
			Description: "who recorded the most kills",
			Usage:       "/ranking",
			Handle:      s.ranking,
		},
		{
			Route:       "next",
			Aliases:     []string{"n"},
			Description: "upcoming respawns and open windows",
			Usage:       "/next",
			Handle:      s.next,
		},
		{
			Route:       "bosses",
			Description: "list bosses, rooms and aliases",
			Usage:       "/bosses",
			Handle:      s.bosses,
		},
	}
	if s.backups != nil {
		cmds = append(cmds,
			router.Command{
				Route:       "backup",
				Description: "write a backup now",
				Usage:       "/backup",
				Access:      router.AccessOwnerOnly,
				Timeout:     time.Minute,
				Handle:      s.backupNow,
			},
			router.Command{
				Route:       "backups",
				Description: "list backups",
				Usage:       "/backups",
				Access:      router.AccessOwnerOnly,
				Handle:      s.listBackups,
			},
			router.Command{
				Route:       "restore",
				Description: "replace all data with a backup",
				Usage:       "/restore <backup id>",
				Access:      router.AccessOwnerOnly,
				Timeout:     time.Minute,
				Handle:      s.restore,
			},
		)
	}
	return cmds
}

func (s *Set) Callbacks() []router.CallbackRoute {
	route := func(action string, h router.CallbackHandlerFunc) router.CallbackRoute {
		return router.CallbackRoute{
			Plugin:  view.CallbackPlugin,
			Action:  action,
			Access:  router.AccessEveryone,
			Timeout: 15 * time.Second,
			Handle:  h,
		}
	}
	return []router.CallbackRoute{
		route(view.ActionRefresh, s.cbRefresh),
		route(view.ActionCompact, s.cbCompact),
		route(view.ActionFull, s.cbFull),
		route(view.ActionNext, s.cbNext),
		route(view.ActionSub, s.cbSubscribe),
	}
}

// send replies and logs delivery failures; there is nobody else to tell.
func send(ctx context.Context, req *router.Request, msg chatui.Message) error {
	if _, err := req.Reply(ctx, msg); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
		return err
	}
	return nil
}

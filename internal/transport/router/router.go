// Package router turns chat updates into command and callback handler calls.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "respawnbot/internal/runtime/supervisor"
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "record" or "backup list".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["r", "kill"]
	Description string
	Usage       string
	Access      Access

	// BoolFlags names flags that never take a value ("y", "yesterday").
	BoolFlags []string
	Timeout   time.Duration
	Handle    HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Plugin  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   string
	FromName string
	Path     []string // matched command path
	Command  string   // route, or "cb:plugin:action"
	Args     []string
	Payload  string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Style   chatui.Style
	Logger  logx.Logger
	Owner   bool

	answered bool
}

// Flag reports whether any of the named bool flags was given.
func (r *Request) Flag(names ...string) bool {
	for _, n := range names {
		if r.BoolFlags[n] {
			return true
		}
	}
	return false
}

// MessageRef is the message a callback button was pressed on.
func (r *Request) MessageRef() kit.MessageRef {
	if r.Update.Callback == nil {
		return kit.MessageRef{}
	}
	cb := r.Update.Callback
	return kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
}

// Answer acknowledges a callback with a short toast. The router acks
// unanswered callbacks itself once the handler returns.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Update.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Update.Callback.ID, text)
}

// Reply sends msg to the request's chat. A throttled send is retried once
// after the platform's hint.
func (r *Request) Reply(ctx context.Context, msg chatui.Message) (kit.MessageRef, error) {
	var ref kit.MessageRef
	err := kit.RetryOnce(ctx, 0, func(ctx context.Context) error {
		var err error
		ref, err = r.Adapter.SendText(ctx, r.Chat, msg.Text, msg.Opt)
		return err
	})
	return ref, err
}

// ReplyText sends text escaped for the request's style.
func (r *Request) ReplyText(ctx context.Context, text string) error {
	_, err := r.Reply(ctx, chatui.New(r.Style).Line(text).Build())
	return err
}

type Options struct {
	Log     logx.Logger
	Adapter kit.Adapter
	Style   chatui.Style

	Owners   []string
	Prefixes []string // default "/" and "!"
	Workers  int      // default NumCPU, at least 2
	Queue    int      // default 256

	// Supervisor, when set, runs the menu update so shutdown cancels it.
	Supervisor *rtsup.Supervisor
}

type Router struct {
	mu       sync.RWMutex
	root     *cmdNode
	alias    map[string]*cmdNode
	owners   []string
	prefixes []string

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	log     logx.Logger
	adapter kit.Adapter
	style   chatui.Style
	appSup  *rtsup.Supervisor
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(opts Options) *Router {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	style := opts.Style
	if style == nil {
		style = chatui.Plain{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	queue := opts.Queue
	if queue <= 0 {
		queue = 256
	}
	r := &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "router")),
		adapter:   opts.Adapter,
		style:     style,
		appSup:    opts.Supervisor,
		workers:   workers,
		jobs:      make(chan func(), queue),
	}
	r.SetOwners(opts.Owners)
	r.SetPrefixes(opts.Prefixes)
	return r
}

func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue tolerates the jobs channel being closed during shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []string) {
	cp := make([]string, 0, len(owners))
	for _, o := range owners {
		if o = strings.TrimSpace(o); o != "" {
			cp = append(cp, o)
		}
	}
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) SetPrefixes(prefixes []string) {
	cp := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cp = append(cp, p)
		}
	}
	if len(cp) == 0 {
		cp = []string{"/", "!"}
	}
	// longest first so "!!" wins over "!"
	slices.SortStableFunc(cp, func(a, b string) int { return len(b) - len(a) })
	r.mu.Lock()
	r.prefixes = cp
	r.mu.Unlock()
}

func (r *Router) IsOwner(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, userID)
}

func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpMessage(req.Args, req.Style))
			return err
		},
	}
	cmds = append(slices.Clone(cmds), helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		// Multi-token routes get a menu-safe alias ("backup list" -> backup_list).
		// A single-token route is never aliased to itself, or its subcommands
		// would become unreachable.
		if menu, ok := menuNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
			if _, exists := alias[menu]; !exists {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		p, a := strings.TrimSpace(rt.Plugin), strings.TrimSpace(rt.Action)
		if p == "" || a == "" || rt.Handle == nil {
			continue
		}
		if cb[p] == nil {
			cb[p] = map[string]CallbackRoute{}
		}
		cb[p][a] = rt
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()

	r.cbMu.Lock()
	r.callbacks = cb
	r.cbMu.Unlock()

	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(root)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
	if r.appSup != nil {
		r.appSup.Go0("router.menu.update", run)
	} else {
		go run(context.Background())
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx ends or the
// channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route handles one update. Handlers run on the worker pool.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

// commandWord strips a configured prefix and a trailing @botname.
func (r *Router) commandWord(token string) (string, bool) {
	r.mu.RLock()
	prefixes := r.prefixes
	r.mu.RUnlock()
	for _, p := range prefixes {
		if !strings.HasPrefix(token, p) {
			continue
		}
		word := token[len(p):]
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		word = strings.ToLower(word)
		return word, word != ""
	}
	return "", false
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := r.commandWord(parts[0])
	if !ok {
		return
	}
	args := parts[1:]
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	if leaf, ok := alias[word]; ok && leaf != nil && leaf.cmd != nil {
		r.enqueueCommand(ctx, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		_, _ = r.adapter.SendText(ctx, to, "Unknown command. Try /help", nil)
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		m := r.helpMessage(path, r.style)
		_, _ = r.adapter.SendText(ctx, to, m.Text, m.Opt)
		return
	}
	r.enqueueCommand(ctx, up, *cur.cmd, path, args)
}

func (r *Router) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	owner := r.IsOwner(msg.FromID)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = r.adapter.SendText(ctx, to, "⛔ Owner only.", nil)
		return
	}

	known := map[string]bool{}
	for _, f := range cmd.BoolFlags {
		known[strings.ToLower(f)] = true
	}
	pos, flags, bools := parseFlags(raw, known)

	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      to,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   r.adapter,
		Style:     r.style,
		Owner:     owner,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("chat_id", msg.ChatID),
			logx.String("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, to, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	plugin, action, payload, ok := chatui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		return
	}

	r.cbMu.RLock()
	route, ok := r.callbacks[plugin][action]
	r.cbMu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	owner := r.IsOwner(cb.FromID)
	if route.Access == AccessOwnerOnly && !owner {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Owner only")
		return
	}

	key := "cb:" + plugin + ":" + action
	rid := newReqID()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		FromName: cb.FromName,
		Command:  key,
		Payload:  payload,
		ReqID:    rid,
		Adapter:  r.adapter,
		Style:    r.style,
		Owner:    owner,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("chat_id", cb.ChatID),
			logx.String("from_id", cb.FromID),
			logx.String("cmd", key),
		),
	}

	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, payload) }
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		// stops the client's loading spinner
		_ = req.Answer(ctx, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Busy")
	}
}

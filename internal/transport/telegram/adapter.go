// Package telegram is the Telegram transport, built on telebot.
package telegram

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "respawnbot/internal/runtime/supervisor"
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

const textLimit = 4000

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.APIURL),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: false,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// Style is the formatting the adapter sends with.
func (a *Adapter) Style() chatui.Style { return chatui.HTML{} }

func (a *Adapter) registerHandlers() {
	// Handlers forward to the current output channel; Start may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. It can return early on some failures, so
	// it runs under a restart loop.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop never blocks shutdown for long on the getUpdates long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chatID, err := parseChatID(to.ChatID)
	if err != nil {
		return kit.MessageRef{}, err
	}
	chat := &tele.Chat{ID: chatID}
	thread := parseThreadID(to.ThreadID)

	var first kit.MessageRef
	for i, chunk := range chatui.Split(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// markup rides on the first chunk only
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, thread, i == 0))
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

// EditText edits ref in place. Text beyond one message goes out as new
// messages after it.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chatID, err := parseChatID(ref.ChatID)
	if err != nil {
		return err
	}
	chunks := chatui.Split(text, textLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	m := tele.StoredMessage{MessageID: ref.MessageID, ChatID: chatID}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, 0, true)); err != nil && !notModified(err) {
		return mapError(err)
	}

	thread := parseThreadID(ref.ThreadID)
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: chatID}, chunk, sendOptions(opt, thread, false)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// SendDirect sends a private message. Telegram user ids double as private
// chat ids.
func (a *Adapter) SendDirect(ctx context.Context, userID string, text string) error {
	id, err := parseChatID(userID)
	if err != nil {
		return err
	}
	for _, chunk := range chatui.Split(text, textLimit, "") {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(&tele.Chat{ID: id}, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// UpdateMenuCommands calls setMyCommands, but only when the list changed.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}
	list := menuCommands(cmds)
	if err := a.bot.SetCommands(list); err != nil {
		return mapError(err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Description))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// menuCommands applies Telegram's limits: 100 commands, 256-char
// descriptions, lowercase names.
func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Command))
		if name == "" {
			continue
		}
		d := strings.TrimSpace(c.Description)
		if d == "" {
			d = name
		}
		out = append(out, tele.Command{Text: name, Description: chatui.TruncRunes(d, 255)})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// Package console is a local transport on a readline prompt. Operators use
// it for dry runs; every line typed is a message from one fixed user.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"

	rtsup "respawnbot/internal/runtime/supervisor"
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

type Config struct {
	UserID      string
	UserName    string
	ChatID      string
	Prompt      string
	HistoryFile string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.UserID) == "" {
		c.UserID = "console"
	}
	if strings.TrimSpace(c.UserName) == "" {
		c.UserName = c.UserID
	}
	if strings.TrimSpace(c.ChatID) == "" {
		c.ChatID = "console"
	}
	if c.Prompt == "" {
		c.Prompt = "respawn> "
	}
	return c
}

type lineReader interface {
	Readline() (string, error)
	Stdout() io.Writer
	Close() error
}

type Adapter struct {
	cfg Config
	log logx.Logger
	rl  lineReader

	// onExit runs when the operator types exit or closes stdin.
	onExit func()

	seq atomic.Uint64

	mu        sync.Mutex
	lastKeyed string // newest message carrying buttons

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger, onExit func()) (*Adapter, error) {
	cfg = cfg.withDefaults()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return newAdapter(cfg, log, rl, onExit), nil
}

func newAdapter(cfg Config, log logx.Logger, rl lineReader, onExit func()) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "console")), rl: rl, onExit: onExit}
}

func (a *Adapter) Style() chatui.Style { return chatui.Plain{} }

// Stdout coordinates with the prompt; route log output through it.
func (a *Adapter) Stdout() io.Writer { return a.rl.Stdout() }

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup.Go0("console.read", func(c context.Context) { a.readLoop(c, out) })
	fmt.Fprintln(a.rl.Stdout(), "Type commands as in chat (/help). 'cb <data>' presses a button, 'exit' quits.")
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, out chan<- kit.Update) {
	for ctx.Err() == nil {
		line, err := a.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			a.exit()
			return
		}
		up, quit, ok := a.parseLine(line)
		if quit {
			a.exit()
			return
		}
		if !ok {
			continue
		}
		select {
		case out <- up:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) exit() {
	fmt.Fprintln(a.rl.Stdout(), "Exiting...")
	if a.onExit != nil {
		a.onExit()
	}
}

// parseLine turns one prompt line into an update. "cb <data> [message]"
// presses a button, by default on the newest message that has buttons.
func (a *Adapter) parseLine(line string) (up kit.Update, quit bool, ok bool) {
	input := strings.TrimSpace(line)
	switch strings.ToLower(input) {
	case "":
		return kit.Update{}, false, false
	case "exit", "quit":
		return kit.Update{}, true, false
	}
	id := strconv.FormatUint(a.seq.Add(1), 10)

	if fields := strings.Fields(input); strings.EqualFold(fields[0], "cb") {
		if len(fields) < 2 {
			fmt.Fprintln(a.rl.Stdout(), "Usage: cb <data> [message]")
			return kit.Update{}, false, false
		}
		msgID := ""
		if len(fields) > 2 {
			msgID = fields[2]
		} else {
			a.mu.Lock()
			msgID = a.lastKeyed
			a.mu.Unlock()
		}
		return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
			ID:        id,
			FromID:    a.cfg.UserID,
			FromName:  a.cfg.UserName,
			ChatID:    a.cfg.ChatID,
			MessageID: msgID,
			Data:      fields[1],
		}}, false, true
	}

	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:       id,
		ChatID:   a.cfg.ChatID,
		FromID:   a.cfg.UserID,
		FromName: a.cfg.UserName,
		Text:     input,
		IsGroup:  true,
	}}, false, true
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.sup.Cancel()
	// Close unblocks Readline.
	err := a.rl.Close()
	if werr := a.sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
		a.log.Debug("console stop", logx.Err(werr))
	}
	a.sup = nil
	return err
}

func (a *Adapter) print(header, text string, buttons [][]kit.Button) {
	w := a.rl.Stdout()
	fmt.Fprintf(w, "── %s\n%s\n", header, text)
	for _, row := range buttons {
		cells := make([]string, 0, len(row))
		for _, b := range row {
			cells = append(cells, fmt.Sprintf("[%s] %s", b.Text, b.Data))
		}
		fmt.Fprintln(w, "   "+strings.Join(cells, "   "))
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	id := "m" + strconv.FormatUint(a.seq.Add(1), 10)
	var buttons [][]kit.Button
	if opt != nil {
		buttons = opt.Buttons
	}
	header := "#" + to.ChatID
	if to.ThreadID != "" {
		header += "/" + to.ThreadID
	}
	a.print(header+" "+id, text, buttons)
	if len(buttons) > 0 {
		a.mu.Lock()
		a.lastKeyed = id
		a.mu.Unlock()
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.MessageID == "" {
		return kit.NotFound(nil)
	}
	var buttons [][]kit.Button
	if opt != nil {
		buttons = opt.Buttons
	}
	a.print("#"+ref.ChatID+" "+ref.MessageID+" (edited)", text, buttons)
	return nil
}

func (a *Adapter) SendDirect(ctx context.Context, userID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.print("DM → "+userID, text, nil)
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if text != "" {
		fmt.Fprintf(a.rl.Stdout(), "   (%s)\n", text)
	}
	return nil
}

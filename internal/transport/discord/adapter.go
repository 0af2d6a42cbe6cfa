// Package discord is the Discord transport, built on discordgo.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "respawnbot/internal/runtime/supervisor"
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
	logx "respawnbot/pkg/logx"
)

const (
	textLimit = 2000

	// Discord drops interactions that are not acknowledged in time.
	interactionTTL = 15 * time.Minute
)

type Config struct {
	Token string
}

type pendingInteraction struct {
	in *discordgo.Interaction
	at time.Time
}

type Adapter struct {
	log logx.Logger
	s   *discordgo.Session

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	removes []func()

	droppedUpdates atomic.Uint64

	pendMu  sync.Mutex
	pending map[string]pendingInteraction
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Rate limits surface as errors so the notifier applies its own retry policy.
	s.ShouldRetryOnRateLimit = false

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		log:     log.With(logx.String("comp", "discord")),
		s:       s,
		pending: map[string]pendingInteraction{},
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Style() chatui.Style { return chatui.Markdown{} }

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
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

func (a *Adapter) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil {
		return
	}
	if up, ok := messageUpdate(m.Message); ok {
		a.sendUpdate(up)
	}
}

func (a *Adapter) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil {
		return
	}
	up, ok := interactionUpdate(i.Interaction)
	if !ok {
		return
	}
	a.remember(i.Interaction, time.Now())
	a.sendUpdate(up)
}

func (a *Adapter) remember(in *discordgo.Interaction, now time.Time) {
	a.pendMu.Lock()
	defer a.pendMu.Unlock()
	for id, p := range a.pending {
		if now.Sub(p.at) > interactionTTL {
			delete(a.pending, id)
		}
	}
	a.pending[in.ID] = pendingInteraction{in: in, at: now}
}

func (a *Adapter) take(id string) (*discordgo.Interaction, bool) {
	a.pendMu.Lock()
	defer a.pendMu.Unlock()
	p, ok := a.pending[id]
	delete(a.pending, id)
	return p.in, ok
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	a.removes = []func(){
		a.s.AddHandler(a.onMessage),
		a.s.AddHandler(a.onInteraction),
	}
	if err := a.s.Open(); err != nil {
		for _, rm := range a.removes {
			rm()
		}
		a.removes = nil
		return err
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := a.droppedUpdates.Swap(0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	for _, rm := range a.removes {
		rm()
	}
	a.removes = nil

	err := a.s.Close()
	if a.sup != nil {
		if werr := a.sup.Stop(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			a.log.Debug("discord supervisor stop", logx.Err(werr))
		}
		a.sup = nil
	}
	return err
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	channel := to.ChatID
	if strings.TrimSpace(to.ThreadID) != "" {
		channel = to.ThreadID
	}
	var first kit.MessageRef
	for i, chunk := range chatui.Split(text, textLimit, opt.ParseMode) {
		data := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}
		if i == 0 {
			data.Components = components(opt.Buttons)
		}
		if opt.DisablePreview {
			data.Flags = discordgo.MessageFlagsSuppressEmbeds
		}
		msg, err := a.s.ChannelMessageSendComplex(channel, data, discordgo.WithContext(ctx))
		if err != nil {
			return first, mapError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	channel := ref.ChatID
	if strings.TrimSpace(ref.ThreadID) != "" {
		channel = ref.ThreadID
	}
	chunks := chatui.Split(text, textLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	comps := components(opt.Buttons)
	edit := discordgo.NewMessageEdit(channel, ref.MessageID).SetContent(chunks[0])
	edit.Components = &comps
	if _, err := a.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	for _, chunk := range chunks[1:] {
		if _, err := a.s.ChannelMessageSend(channel, chunk, discordgo.WithContext(ctx)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (a *Adapter) SendDirect(ctx context.Context, userID string, text string) error {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	for _, chunk := range chatui.Split(text, textLimit, "") {
		if _, err := a.s.ChannelMessageSend(ch.ID, chunk, discordgo.WithContext(ctx)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// AnswerCallback acknowledges a button press. With text it replies
// ephemerally; without, it acks the component update silently.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	in, ok := a.take(callbackID)
	if !ok {
		return nil
	}
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	return mapError(a.s.InteractionRespond(in, resp, discordgo.WithContext(ctx)))
}

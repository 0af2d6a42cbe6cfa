package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// IDs are strings so Telegram (int64) and Discord (snowflake) fit the same shape.
type Message struct {
	ID       string
	ChatID   string
	ThreadID string // telegram forum topic / discord thread ("" if none)
	FromID   string
	FromName string // display name used for "recorded by"
	Text     string
	IsGroup  bool
}

type Callback struct {
	ID        string
	FromID    string
	FromName  string
	ChatID    string
	ThreadID  string
	MessageID string
	Data      string
}

type ChatTarget struct {
	ChatID   string
	ThreadID string
}

func (t ChatTarget) IsZero() bool { return t.ChatID == "" }

type MessageRef struct {
	ChatID    string
	ThreadID  string
	MessageID string
}

func (r MessageRef) IsZero() bool { return r.MessageID == "" }

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }

// Button is a platform-neutral interactive control. Data uses the router's
// "plugin:action:payload" format.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        [][]Button
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SendDirect(ctx context.Context, userID string, text string) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

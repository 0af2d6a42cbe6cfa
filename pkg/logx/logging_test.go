package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kit "respawnbot/internal/transport"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *recordingSender) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *recordingSender) Stop(ctx context.Context) error                         { return nil }
func (r *recordingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	r.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, MessageID: "1"}, nil
}
func (r *recordingSender) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (r *recordingSender) SendDirect(ctx context.Context, userID, text string) error { return nil }
func (r *recordingSender) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestFormatChatJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"store write failed","comp":"timer","boss":"Hell Maine"}` + "\n")
	got := formatChatJSON(line)
	want := "[WARN] store write failed\n- boss=Hell Maine\n- comp=timer"
	if got != want {
		t.Fatalf("formatChatJSON = %q, want %q", got, want)
	}

	raw := formatChatJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw fallback = %q", raw)
	}
}

func TestNewWriterEmitsFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected log line: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be logged")
	}
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: false, RatePerSec: 10}}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	svc.SetChatTarget(kit.ChatTarget{ChatID: "ops"})
	svc.Apply(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}})

	log.Info("ignored")
	log.Warn("disk almost full", String("comp", "backup"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := sender.messages(); len(msgs) > 0 {
			if len(msgs) != 1 {
				t.Fatalf("expected exactly one forwarded line, got %v", msgs)
			}
			if !strings.HasPrefix(msgs[0], "[WARN] disk almost full") {
				t.Fatalf("unexpected chat line %q", msgs[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("warning was not forwarded to the chat sink")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Warn("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger is a real logger")
	}
}

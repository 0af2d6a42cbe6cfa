package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	logx "respawnbot/pkg/logx"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"transport":{"driver":"console"},"notifier":{"enabled":true,"chat_id":"-100"},"logging":{"level":"info"}}`,
		},
		{
			name: "jsonc",
			file: "config.jsonc",
			body: `{
				// chat platform
				"transport": {"driver": "console",},
				/* broadcasts */
				"notifier": {"enabled": true, "chat_id": "-100"},
				"logging": {"level": "info"},
			}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "transport:\n  driver: console\nnotifier:\n  enabled: true\n  chat_id: \"-100\"\nlogging:\n  level: info\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.body)
			cfg, err := NewConfigManager(path).Parse()
			if err != nil {
				t.Fatalf("Parse() = %v", err)
			}
			if cfg.Transport.Driver != "console" || cfg.Notifier == nil || cfg.Notifier.ChatID != "-100" || cfg.Logging.Level != "info" {
				t.Fatalf("unexpected config: %+v", cfg)
			}
		})
	}
}

func TestParseIsStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"transport":{"driver":"console","tokn":"x"}}`},
		{name: "unknown yaml field", file: "c.yml", body: "plugins:\n  echo: {}\n"},
		{name: "trailing data", file: "c.json", body: `{"timezone":"UTC"} {"timezone":"UTC"}`},
		{name: "bad yaml", file: "c.yaml", body: "transport: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.body)
			if _, err := NewConfigManager(path).Parse(); err == nil {
				t.Fatal("Parse() accepted invalid config")
			}
		})
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	for _, tz := range []string{"UTC", "Asia/Jakarta", "Europe/Berlin"} {
		m.publish(&Config{Timezone: tz})
	}
	if got := <-ch; got.Timezone != "Europe/Berlin" {
		t.Fatalf("got %q, want the newest config", got.Timezone)
	}
	m.Unsubscribe(ch)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	m.publish(&Config{})
}

func TestReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"timezone":"UTC"}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(4)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged content must not be republished")
	}

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Timezone == "Mars/Base" {
			return errors.New("no such zone")
		}
		return nil
	})
	writeFile(t, path, `{"timezone":"Mars/Base"}`)
	if m.reload(ctx) {
		t.Fatal("rejected config was published")
	}
	if m.Get().Timezone != "UTC" {
		t.Fatalf("rejected config was committed: %q", m.Get().Timezone)
	}

	writeFile(t, path, `{"timezone":"Asia/Jakarta"}`)
	if !m.reload(ctx) {
		t.Fatal("valid change was not published")
	}
	select {
	case c := <-ch:
		if c.Timezone != "Asia/Jakarta" {
			t.Fatalf("published %q", c.Timezone)
		}
	default:
		t.Fatal("subscriber missed the reload")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() = %v", err)
		}
	}()

	// The watcher may not be registered yet; keep editing until it sees one.
	deadline := time.Now().Add(5 * time.Second)
	for i := 0; time.Now().Before(deadline); i++ {
		writeFile(t, path, fmt.Sprintf(`{"logging":{"level":"debug","chat":{"rate_per_sec":%d}}}`, i+1))
		select {
		case c := <-ch:
			if c.Logging.Level != "debug" {
				t.Fatalf("published level %q", c.Logging.Level)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	t.Fatal("Watch did not publish the edited config")
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Transport: TransportConfig{Driver: "telegram", Owners: []string{"1"}, Telegram: &TelegramConfig{Token: "old-secret"}},
		Storage:   &StorageConfig{Driver: "sqlserver", Password: "pw-one"},
	}
	newCfg := &Config{
		Transport: TransportConfig{Driver: "telegram", Owners: []string{"1", "2"}, Telegram: &TelegramConfig{Token: "new-secret"}},
		Storage:   &StorageConfig{Driver: "sqlserver", Password: "pw-two"},
		Notifier:  &NotifierConfig{Enabled: true, ChatID: "-100"},
		Logging:   LoggingConfig{Level: "debug"},
	}

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if want := []string{"logging", "notifier", "storage", "transport"}; !slices.Equal(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if want := []string{"transport.telegram", "storage"}; !slices.Equal(restart, want) {
		t.Fatalf("restart = %v, want %v", restart, want)
	}

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config reloaded", attrs...)
	for _, secret := range []string{"old-secret", "new-secret", "pw-one", "pw-two"} {
		if strings.Contains(buf.String(), secret) {
			t.Fatalf("summary leaks %q: %s", secret, buf.String())
		}
	}

	// Owner edits alone are live.
	live := *oldCfg
	live.Transport.Owners = []string{"9"}
	_, _, restart = SummarizeConfigChange(oldCfg, &live)
	if len(restart) != 0 {
		t.Fatalf("owner change should not need a restart: %v", restart)
	}

	if changed, _, _ := SummarizeConfigChange(nil, &Config{}); len(changed) != 0 {
		t.Fatalf("nil vs empty reported changes: %v", changed)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", " 90s ", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("explicit: %v, %v", d, err)
	}
	if _, err := ParseDurationField("notifier.dm_delay", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	_, err := ParseDurationField("notifier.dm_delay", "soon")
	if err == nil || !strings.Contains(err.Error(), "notifier.dm_delay") {
		t.Fatalf("error should name the field: %v", err)
	}
}

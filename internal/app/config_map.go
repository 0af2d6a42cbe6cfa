package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	"respawnbot/internal/backup"
	"respawnbot/internal/boss"
	"respawnbot/internal/config"
	"respawnbot/internal/httpapi"
	"respawnbot/internal/notifier"
	"respawnbot/internal/scheduler"
	"respawnbot/internal/storage"
	"respawnbot/internal/timefmt"
	kit "respawnbot/internal/transport"
	logx "respawnbot/pkg/logx"
)

const (
	DriverTelegram = "telegram"
	DriverDiscord  = "discord"
	DriverConsole  = "console"
)

func driverOf(cfg *config.Config) string {
	return strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
}

// validateConfig rejects a config before it is committed, at startup and on
// every hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch d := driverOf(cfg); d {
	case DriverTelegram:
		if cfg.Transport.Telegram == nil || strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			return fmt.Errorf("transport.telegram.token is required when transport.driver=telegram")
		}
		if _, err := config.ParseDurationField("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout); err != nil {
			return err
		}
	case DriverDiscord:
		if cfg.Transport.Discord == nil || strings.TrimSpace(cfg.Transport.Discord.Token) == "" {
			return fmt.Errorf("transport.discord.token is required when transport.driver=discord")
		}
	case DriverConsole:
	case "":
		return fmt.Errorf("transport.driver is required (telegram, discord or console)")
	default:
		return fmt.Errorf("unknown transport.driver: %s", d)
	}
	if cfg.Transport.Workers < 0 || cfg.Transport.QueueSize < 0 {
		return fmt.Errorf("transport.workers and transport.queue_size must be >= 0")
	}
	for _, p := range cfg.Transport.CommandPrefixes {
		if strings.TrimSpace(p) == "" || strings.ContainsAny(p, " \t") {
			return fmt.Errorf("transport.command_prefixes: invalid prefix %q", p)
		}
	}

	if _, err := timefmt.LoadLocation(cfg.Timezone); err != nil {
		return err
	}
	if _, err := mapBosses(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapBackupConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapBosses(cfg *config.Config) ([]boss.Boss, error) {
	if len(cfg.Bosses) == 0 {
		return boss.Default(), nil
	}
	out := make([]boss.Boss, 0, len(cfg.Bosses))
	for _, b := range cfg.Bosses {
		out = append(out, boss.Boss{Name: strings.TrimSpace(b.Name), Aliases: b.Aliases, Rooms: b.Rooms})
	}
	// boss.New owns the catalog rules (unique names, rooms >= 1, ...).
	if _, err := boss.New(out); err != nil {
		return nil, fmt.Errorf("bosses: %w", err)
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "sqlserver", "mssql":
		if strings.TrimSpace(sc.DSN) == "" && strings.TrimSpace(sc.Server) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn or storage.server is required when storage.driver=sqlserver")
		}
		if sc.Port < 0 || sc.Port > 65535 {
			return storage.Config{}, fmt.Errorf("storage.port out of range: %d", sc.Port)
		}
		return storage.Config{
			Driver:   "sqlserver",
			DSN:      strings.TrimSpace(sc.DSN),
			Server:   strings.TrimSpace(sc.Server),
			Port:     sc.Port,
			User:     sc.User,
			Password: sc.Password,
			Database: strings.TrimSpace(sc.Database),
			Encrypt:  strings.TrimSpace(sc.Encrypt),
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:      nc.Enabled,
		ChatID:       strings.TrimSpace(nc.ChatID),
		ThreadID:     strings.TrimSpace(nc.ThreadID),
		DMQueueSize:  nc.DMQueueSize,
		LiveTable:    nc.LiveTable,
		TableCompact: nc.TableCompact,
	}
	if out.Enabled && out.ChatID == "" {
		return notifier.Config{}, fmt.Errorf("notifier.chat_id is required when notifier.enabled=true")
	}
	if nc.DMQueueSize < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.dm_queue_size must be >= 0")
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"notifier.poll_interval", nc.PollInterval, &out.PollInterval},
		{"notifier.repost_min", nc.RepostMin, &out.RepostMin},
		{"notifier.repost_max", nc.RepostMax, &out.RepostMax},
		{"notifier.dm_delay", nc.DMDelay, &out.DMDelay},
		{"notifier.max_throttle_wait", nc.MaxThrottleWait, &out.MaxThrottleWait},
	}
	for _, d := range durations {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return notifier.Config{}, err
		}
		*d.dst = v
	}
	if out.PollInterval > 0 && out.PollInterval < time.Second {
		return notifier.Config{}, fmt.Errorf("notifier.poll_interval must be at least 1s")
	}
	if out.RepostMin > 0 && out.RepostMax > 0 && out.RepostMax < out.RepostMin {
		return notifier.Config{}, fmt.Errorf("notifier.repost_max must be >= notifier.repost_min")
	}
	return out, nil
}

// mapBackupConfig reports enabled=false when the section is omitted.
func mapBackupConfig(cfg *config.Config) (backup.Config, bool, error) {
	if cfg.Backup == nil {
		return backup.Config{}, false, nil
	}
	bc := cfg.Backup
	if bc.Keep < 0 {
		return backup.Config{}, false, fmt.Errorf("backup.keep must be >= 0")
	}
	if s := strings.TrimSpace(bc.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			return backup.Config{}, false, fmt.Errorf("backup.schedule: %w", err)
		}
	}
	return backup.Config{
		Dir:      strings.TrimSpace(bc.Dir),
		Compress: bc.Compress,
		Keep:     bc.Keep,
		Schedule: strings.TrimSpace(bc.Schedule),
	}, true, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	if cfg.HTTP == nil {
		return httpapi.Config{}, nil
	}
	hc := cfg.HTTP
	out := httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		PprofPrefix:   strings.TrimSpace(hc.PprofPrefix),
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	// 0 keeps /debug/pprof/profile usable.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second); err != nil {
		return httpapi.Config{}, err
	}
	if out.Addr != "" {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return httpapi.Config{}, fmt.Errorf("http.addr: %w", err)
		}
	}
	return out, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: strings.TrimSpace(lc.File.Path)},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled && strings.TrimSpace(lc.Chat.ChatID) != "",
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func logChatTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{
		ChatID:   strings.TrimSpace(cfg.Logging.Chat.ChatID),
		ThreadID: strings.TrimSpace(cfg.Logging.Chat.ThreadID),
	}
}

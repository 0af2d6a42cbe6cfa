package config

// Config is the file-level configuration. Durations are Go duration strings
// ("90s", "30m"); empty means the component default.
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Timezone is the IANA zone used to read kill times and render clocks.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// Bosses replaces the built-in catalog when non-empty.
	Bosses []BossConfig `json:"bosses,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Backup   *BackupConfig   `json:"backup,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
	Logging  LoggingConfig   `json:"logging"`
}

// TransportConfig selects the chat platform. Only the block for the chosen
// driver is read.
type TransportConfig struct {
	// Driver is "telegram", "discord" or "console".
	Driver string `json:"driver"`

	// Owners are platform user ids allowed to run owner-only commands.
	Owners []string `json:"owners,omitempty"`
	// CommandPrefixes default to "/" and "!".
	CommandPrefixes []string `json:"command_prefixes,omitempty"`

	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Console  *ConsoleConfig  `json:"console,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type ConsoleConfig struct {
	UserID      string `json:"user_id,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	HistoryFile string `json:"history_file,omitempty"`
}

type BossConfig struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Rooms   []int    `json:"rooms"`
}

// NotifierConfig controls broadcasts, DMs and the live table.
//
// If the whole section is omitted the notifier stays disabled: there is no
// channel to broadcast to.
type NotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	ChatID   string `json:"chat_id"`
	ThreadID string `json:"thread_id,omitempty"`

	PollInterval    string `json:"poll_interval,omitempty"`
	RepostMin       string `json:"repost_min,omitempty"`
	RepostMax       string `json:"repost_max,omitempty"`
	DMDelay         string `json:"dm_delay,omitempty"`
	DMQueueSize     int    `json:"dm_queue_size,omitempty"`
	MaxThrottleWait string `json:"max_throttle_wait,omitempty"`

	LiveTable    bool `json:"live_table"`
	TableCompact bool `json:"table_compact,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./respawn.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// sqlserver; DSN wins over the discrete fields.
	DSN      string `json:"dsn,omitempty"`
	Server   string `json:"server,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	Database string `json:"database,omitempty"`
	Encrypt  string `json:"encrypt,omitempty"`
}

type BackupConfig struct {
	Dir      string `json:"dir"`
	Compress bool   `json:"compress,omitempty"`
	Keep     int    `json:"keep,omitempty"`
	// Schedule is a cron spec or "@every 6h". Empty disables automatic backups.
	Schedule string `json:"schedule,omitempty"`
}

// HTTPConfig controls the status API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ lines to a chat on the active transport.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	ThreadID   string `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "respawnbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) attrs that are
// safe to log (tokens and passwords only ever show up as *_set booleans) and
// (3) the changes that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		restart []string
		attrs   = make([]logx.Field, 0, 16)
	)

	// Transport: owners and prefixes are live; driver and credentials are not.
	ot, nt := oldCfg.Transport, newCfg.Transport
	driverChanged := !strings.EqualFold(strings.TrimSpace(ot.Driver), strings.TrimSpace(nt.Driver))
	credsChanged := !reflect.DeepEqual(ot.Telegram, nt.Telegram) ||
		!reflect.DeepEqual(ot.Discord, nt.Discord) ||
		!reflect.DeepEqual(ot.Console, nt.Console)
	poolChanged := ot.Workers != nt.Workers || ot.QueueSize != nt.QueueSize
	if driverChanged || credsChanged || poolChanged ||
		!slices.Equal(ot.Owners, nt.Owners) ||
		!slices.Equal(ot.CommandPrefixes, nt.CommandPrefixes) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", strings.TrimSpace(nt.Driver)),
			logx.Int("transport.owner_count", len(nt.Owners)),
			logx.Strs("transport.prefixes", nt.CommandPrefixes),
			logx.Bool("transport.token_set", transportTokenSet(nt)),
		)
		if driverChanged {
			restart = append(restart, "transport.driver")
		}
		if credsChanged {
			restart = append(restart, "transport."+strings.ToLower(strings.TrimSpace(nt.Driver)))
		}
		if poolChanged {
			restart = append(restart, "transport.workers")
		}
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		restart = append(restart, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	if !reflect.DeepEqual(oldCfg.Bosses, newCfg.Bosses) {
		changed = append(changed, "bosses")
		restart = append(restart, "bosses")
		attrs = append(attrs, logx.Int("bosses.count", len(newCfg.Bosses)))
	}

	// Notifier: nil means disabled.
	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Bool("notifier.chat_set", strings.TrimSpace(nn.ChatID) != ""),
			logx.String("notifier.poll_interval", strings.TrimSpace(nn.PollInterval)),
			logx.String("notifier.dm_delay", strings.TrimSpace(nn.DMDelay)),
			logx.Bool("notifier.live_table", nn.LiveTable),
		)
	}

	ost, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(ost, ns) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(ns.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(ns.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(ns.DSN) != ""),
			logx.Bool("storage.password_set", ns.Password != ""),
		)
	}

	ob, nb := derefBackup(oldCfg.Backup), derefBackup(newCfg.Backup)
	if ob != nb {
		changed = append(changed, "backup")
		attrs = append(attrs,
			logx.String("backup.dir", strings.TrimSpace(nb.Dir)),
			logx.Bool("backup.compress", nb.Compress),
			logx.Int("backup.keep", nb.Keep),
			logx.String("backup.schedule", strings.TrimSpace(nb.Schedule)),
		)
	}

	oh, nh := derefHTTP(oldCfg.HTTP), derefHTTP(newCfg.HTTP)
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("http.allow_insecure", nh.AllowInsecure),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func transportTokenSet(t TransportConfig) bool {
	switch strings.ToLower(strings.TrimSpace(t.Driver)) {
	case "telegram":
		return t.Telegram != nil && strings.TrimSpace(t.Telegram.Token) != ""
	case "discord":
		return t.Discord != nil && strings.TrimSpace(t.Discord.Token) != ""
	}
	return false
}

func derefNotifier(c *NotifierConfig) NotifierConfig {
	if c == nil {
		return NotifierConfig{}
	}
	return *c
}

func derefStorage(c *StorageConfig) StorageConfig {
	if c == nil {
		return StorageConfig{}
	}
	return *c
}

func derefBackup(c *BackupConfig) BackupConfig {
	if c == nil {
		return BackupConfig{}
	}
	return *c
}

func derefHTTP(c *HTTPConfig) HTTPConfig {
	if c == nil {
		return HTTPConfig{}
	}
	return *c
}

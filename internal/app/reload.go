package app

import (
	"context"
	"strings"

	"respawnbot/internal/config"
	logx "respawnbot/pkg/logx"
	"respawnbot/pkg/systemd"
)

// reloadLoop applies every committed config to the live components. Changes
// that need a restart are logged and otherwise ignored.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strs("keys", restart))
	}

	// Target before Apply, so enabling the chat sink never sees an empty target.
	a.logs.SetChatTarget(logChatTarget(newCfg))
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.router.SetOwners(newCfg.Transport.Owners)
	a.router.SetPrefixes(newCfg.Transport.CommandPrefixes)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := oldCfg.Notifier != nil && oldCfg.Notifier.Enabled
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			a.notif.Stop(ctx)
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if hcfg, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hcfg)
	}

	if a.backups != nil {
		if bc, enabled, err := mapBackupConfig(newCfg); err != nil {
			a.log.Warn("invalid backup config; keeping previous", logx.Err(err))
		} else if enabled {
			if err := a.backups.Apply(bc); err != nil {
				a.log.Warn("backup config rejected", logx.Err(err))
			} else if err := a.backups.Schedule(a.sched); err != nil {
				a.log.Warn("backup schedule rejected", logx.Err(err))
			}
		} else {
			// Turning backups off entirely needs a restart; stop the automatic job now.
			a.backups.Unschedule(a.sched)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

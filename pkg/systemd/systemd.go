// Package systemd speaks the sd_notify protocol for Type=notify units. Every
// call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "respawnbot/pkg/logx"
)

// Ready tells systemd startup is complete.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Reloading marks a config reload; call Ready when it is applied.
func Reloading() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReloading) }

// Status sets the one-line status shown by systemctl status.
func Status(msg string) (bool, error) { return daemon.SdNotify(false, "STATUS="+msg) }

// Watchdog pings the service manager at half the configured WatchdogSec
// until ctx ends. healthy is consulted before every ping; a false result
// skips it so systemd restarts the unit. It returns immediately when the
// watchdog is not enabled.
func Watchdog(ctx context.Context, log logx.Logger, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	log.Info("watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("watchdog ping skipped: unhealthy")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}

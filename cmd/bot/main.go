package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"respawnbot/internal/app"
)

func main() {
	var (
		cfgPath  string
		console  bool
		logLevel string
	)
	pflag.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json, jsonc or yaml)")
	pflag.BoolVar(&console, "console", false, "use the terminal instead of the configured chat transport")
	pflag.StringVar(&logLevel, "log-level", "", "override logging.level")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.New(app.Options{ConfigPath: cfgPath, Console: console, LogLevel: logLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := bot.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-bot.Exit():
		reason = app.StopExit
	case <-bot.Done():
		// Done also closes on a signal; only a recorded error is fatal.
		if bot.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := bot.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if reason == app.StopFatalError {
		if err := bot.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}

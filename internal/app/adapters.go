package app

import (
	"fmt"
	"strings"

	"respawnbot/internal/config"
	kit "respawnbot/internal/transport"
	"respawnbot/internal/transport/console"
	"respawnbot/internal/transport/discord"
	"respawnbot/internal/transport/telegram"
	logx "respawnbot/pkg/logx"
)

func newAdapter(cfg *config.Config, log logx.Logger, onExit func()) (kit.Adapter, error) {
	tc := cfg.Transport
	switch driverOf(cfg) {
	case DriverTelegram:
		poll, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", tc.Telegram.PollTimeout, 0)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:       strings.TrimSpace(tc.Telegram.Token),
			PollTimeout: poll,
			APIURL:      strings.TrimSpace(tc.Telegram.APIURL),
		}, log)
	case DriverDiscord:
		return discord.New(discord.Config{Token: strings.TrimSpace(tc.Discord.Token)}, log)
	case DriverConsole:
		var cc console.Config
		if c := tc.Console; c != nil {
			cc = console.Config{
				UserID:      c.UserID,
				UserName:    c.UserName,
				ChatID:      c.ChatID,
				Prompt:      c.Prompt,
				HistoryFile: c.HistoryFile,
			}
		}
		ad, err := console.New(cc, log, onExit)
		if err != nil {
			return nil, err
		}
		// Log lines must not tear the prompt.
		logx.SetStdout(ad.Stdout())
		return ad, nil
	default:
		return nil, fmt.Errorf("unknown transport.driver: %s", tc.Driver)
	}
}

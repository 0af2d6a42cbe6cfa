package telegram

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "respawnbot/internal/transport"
)

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// mapError converts telebot errors into the transport error kinds the
// notifier understands. Unknown errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.Throttled(err, time.Duration(fe.RetryAfter)*time.Second)
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return kit.Throttled(err, time.Duration(fep.RetryAfter)*time.Second)
	}

	desc := strings.ToLower(err.Error())
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		desc = strings.ToLower(te.Description)
		switch te.Code {
		case 429:
			return kit.Throttled(err, retryHint(desc))
		case 403:
			return kit.Forbidden(err)
		}
	}

	switch {
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message to delete not found"):
		return kit.NotFound(err)
	case strings.Contains(desc, "bot was blocked"),
		strings.Contains(desc, "user is deactivated"),
		strings.Contains(desc, "bot can't initiate conversation"):
		return kit.Forbidden(err)
	case strings.Contains(desc, "too many requests"):
		return kit.Throttled(err, retryHint(desc))
	}
	return err
}

func retryHint(desc string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(desc)
	if len(m) != 2 {
		return time.Second
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Second
	}
	return time.Duration(n) * time.Second
}

// notModified is Telegram refusing an edit whose content is unchanged.
func notModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

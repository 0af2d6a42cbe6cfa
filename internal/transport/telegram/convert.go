package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "respawnbot/internal/transport"
)

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}

func threadID(m *tele.Message) string {
	if m == nil || m.ThreadID == 0 {
		return ""
	}
	return strconv.Itoa(m.ThreadID)
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:       strconv.Itoa(m.ID),
			ChatID:   strconv.FormatInt(m.Chat.ID, 10),
			ThreadID: threadID(m),
			FromID:   strconv.FormatInt(m.Sender.ID, 10),
			FromName: displayName(m.Sender),
			Text:     m.Text,
			IsGroup:  m.Chat.Type != tele.ChatPrivate,
		},
	}, true
}

func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil || cb.Sender == nil {
		return kit.Update{}, false
	}
	m := cb.Message
	return kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID:        cb.ID,
			FromID:    strconv.FormatInt(cb.Sender.ID, 10),
			FromName:  displayName(cb.Sender),
			ChatID:    strconv.FormatInt(m.Chat.ID, 10),
			ThreadID:  threadID(m),
			MessageID: strconv.Itoa(m.ID),
			Data:      strings.TrimPrefix(cb.Data, "\f"),
		},
	}, true
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", s, err)
	}
	return id, nil
}

func parseThreadID(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func markup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	for _, r := range rows {
		row := make([]tele.InlineButton, 0, len(r))
		for _, b := range r {
			row = append(row, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rm.InlineKeyboard = append(rm.InlineKeyboard, row)
	}
	return rm
}

func sendOptions(opt *kit.SendOptions, thread int, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              thread,
	}
	if withMarkup {
		so.ReplyMarkup = markup(opt.Buttons)
	}
	return so
}

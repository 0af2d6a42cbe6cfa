package discord

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "respawnbot/internal/transport"
)

const (
	maxButtonsPerRow = 5
	maxRows          = 5
)

func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && strings.TrimSpace(member.Nick) != "" {
		return strings.TrimSpace(member.Nick)
	}
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.GlobalName) != "" {
		return strings.TrimSpace(u.GlobalName)
	}
	return u.Username
}

func messageUpdate(m *discordgo.Message) (kit.Update, bool) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:       m.ID,
			ChatID:   m.ChannelID,
			FromID:   m.Author.ID,
			FromName: displayName(m.Author, m.Member),
			Text:     m.Content,
			IsGroup:  m.GuildID != "",
		},
	}, true
}

// interactionUpdate converts a button press. Other interaction types are
// ignored.
func interactionUpdate(i *discordgo.Interaction) (kit.Update, bool) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return kit.Update{}, false
	}
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
	}
	if u == nil {
		return kit.Update{}, false
	}
	cb := &kit.Callback{
		ID:       i.ID,
		FromID:   u.ID,
		FromName: displayName(u, i.Member),
		ChatID:   i.ChannelID,
		Data:     i.MessageComponentData().CustomID,
	}
	if i.Message != nil {
		cb.MessageID = i.Message.ID
	}
	return kit.Update{Kind: kit.UpdateCallback, Callback: cb}, true
}

// components lays buttons out as action rows within Discord's 5x5 limit.
func components(rows [][]kit.Button) []discordgo.MessageComponent {
	var out []discordgo.MessageComponent
	for _, r := range rows {
		if len(out) == maxRows {
			break
		}
		var row []discordgo.MessageComponent
		for _, b := range r {
			if len(row) == maxButtonsPerRow {
				break
			}
			row = append(row, discordgo.Button{
				Label:    b.Text,
				Style:    discordgo.SecondaryButton,
				CustomID: b.Data,
			})
		}
		if len(row) > 0 {
			out = append(out, discordgo.ActionsRow{Components: row})
		}
	}
	return out
}

// mapError converts discordgo errors into the transport error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl != nil && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return kit.Throttled(err, rl.RetryAfter)
	}

	var re *discordgo.RESTError
	if !errors.As(err, &re) || re == nil {
		return err
	}
	if re.Message != nil {
		switch re.Message.Code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return kit.Forbidden(err)
		case discordgo.ErrCodeUnknownMessage:
			return kit.NotFound(err)
		}
	}
	if re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusTooManyRequests:
			return kit.Throttled(err, retryAfterHeader(re.Response.Header))
		case http.StatusForbidden:
			return kit.Forbidden(err)
		case http.StatusNotFound:
			return kit.NotFound(err)
		}
	}
	return err
}

func retryAfterHeader(h http.Header) time.Duration {
	if h == nil {
		return time.Second
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return time.Second
	}
	return time.Duration(f * float64(time.Second))
}

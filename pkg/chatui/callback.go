package chatui

import (
	"errors"
	"strings"

	kit "respawnbot/internal/transport"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes. Discord
// allows 100 for custom_id, so the smaller one wins.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("chatui: callback data too long")

// Data formats callback data as "plugin:action:payload". The payload is kept
// as-is and may itself contain colons.
func Data(plugin, action, payload string) string {
	plugin = strings.TrimSpace(plugin)
	action = strings.TrimSpace(action)
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

// ParseData splits callback data produced by Data.
func ParseData(data string) (plugin, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// Btn builds a button, rejecting data that would not fit every platform.
func Btn(text, data string) (kit.Button, error) {
	if len(data) > MaxCallbackDataLen {
		return kit.Button{}, ErrCallbackDataTooLong
	}
	return kit.Button{Text: text, Data: data}, nil
}

// Keyboard collects button rows. Buttons with oversized data are skipped.
type Keyboard struct {
	rows [][]kit.Button
}

func (k *Keyboard) Row(btns ...kit.Button) *Keyboard {
	row := make([]kit.Button, 0, len(btns))
	for _, b := range btns {
		if b.Text == "" || b.Data == "" || len(b.Data) > MaxCallbackDataLen {
			continue
		}
		row = append(row, b)
	}
	if len(row) > 0 {
		k.rows = append(k.rows, row)
	}
	return k
}

// Rows returns a copy of the rows, or nil when the keyboard is empty.
func (k *Keyboard) Rows() [][]kit.Button {
	if k == nil || len(k.rows) == 0 {
		return nil
	}
	out := make([][]kit.Button, len(k.rows))
	for i, r := range k.rows {
		out[i] = append([]kit.Button(nil), r...)
	}
	return out
}

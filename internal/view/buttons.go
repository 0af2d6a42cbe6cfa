package view

import (
	kit "respawnbot/internal/transport"
	"respawnbot/pkg/chatui"
)

func kitButton(text, action string) kit.Button {
	return kit.Button{Text: text, Data: chatui.Data(CallbackPlugin, action, "")}
}

// SubButton subscribes the presser to a boss.
func SubButton(bossName string) kit.Button {
	return kit.Button{Text: "🔔 " + bossName, Data: chatui.Data(CallbackPlugin, ActionSub, bossName)}
}

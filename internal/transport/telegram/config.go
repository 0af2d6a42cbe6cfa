package telegram

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides the Bot API endpoint (local bot API server).
	APIURL string
}

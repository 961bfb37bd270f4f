package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// inbound is a client frame: {"event": "...", "data": {...}}.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func newConnID() string {
	return uuid.NewString()
}

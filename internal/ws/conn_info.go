package ws

import "time"

// ConnInfo is the handshake metadata published with connection events.
type ConnInfo struct {
	ConnID      string
	TenantID    string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

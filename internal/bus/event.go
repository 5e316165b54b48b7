package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core pipeline. Subscribers filter by
// namespace prefix ("session.", "message.", "ai.").
const (
	KindSessionStateChanged = "session.state_changed"
	KindSessionConnected    = "session.connected"
	KindSessionDisconnected = "session.disconnected"
	KindMessageReceived     = "message.received"
	KindMessageSent         = "message.sent"
	KindMessageSendFailed   = "message.send_failed"
	KindGenerationFailed    = "ai.generation_failed"
)

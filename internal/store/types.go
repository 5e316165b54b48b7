package store

// BotStatus tracks whether a bot's channel connection is live.
type BotStatus string

const (
	BotInactive   BotStatus = "inactive"
	BotConnecting BotStatus = "connecting"
	BotActive     BotStatus = "active"
)

// Bot is a configured auto-responder bound to one channel address.
type Bot struct {
	ID             string
	OwnerID        string
	DisplayName    string
	ChannelAddress string
	AIProvider     string
	AIModel        string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	Status         BotStatus
	CreatedAt      int64
	UpdatedAt      int64
}

// Conversation is the message thread between one bot and one counterpart address.
type Conversation struct {
	ID                 string
	BotID              string
	CounterpartAddress string
	CounterpartName    string
	IsActive           bool
	AssignedToAgent    bool
	LastMessageAt      int64
	CreatedAt          int64
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Delivery statuses for messages. Inbound rows use "received"; outbound rows
// move pending -> sent (-> delivered -> read) or pending -> failed.
const (
	StatusReceived  = "received"
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID             string
	ConversationID string
	Content        string
	Direction      string
	MsgType        string // text, image, audio, document
	Status         string
	TokensUsed     int
	LatencyMs      int64
	Timestamp      int64
	CreatedAt      int64
}

// Package channel abstracts the messaging-channel backend a bot connects to.
// The production backend speaks the real protocol; the simulated backend is
// used for in-dashboard bot testing and in tests.
package channel

import (
	"context"
	"time"
)

// Message types carried on the wire.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeDocument = "document"
)

// Artifact is the opaque pairing credential a counterpart device presents to
// authorize the connection: a code string plus an optional rendered QR image.
type Artifact struct {
	Code     string
	QRImage  []byte // PNG, empty for backends without a scannable artifact
	IssuedAt time.Time
}

// InboundFunc receives a message from the counterpart side of the channel.
type InboundFunc func(fromAddress, displayName, content, msgType string)

// Transport is the capability interface over one bot's channel connection.
type Transport interface {
	// IssuePairingArtifact begins the pairing handshake and returns the
	// artifact the counterpart must approve. Blocks until the artifact is
	// available or ctx is done.
	IssuePairingArtifact(ctx context.Context) (*Artifact, error)

	// OnPaired registers the callback fired when the counterpart approves
	// the pairing. Must be registered before IssuePairingArtifact.
	OnPaired(fn func())

	// OnMessage registers the callback for inbound end-user messages.
	OnMessage(fn InboundFunc)

	// Send delivers content to the given counterpart address.
	Send(ctx context.Context, address, content string) error

	// Close tears the connection down and releases resources.
	Close() error
}

// Factory creates a transport for one bot. The registry calls it once per
// live session.
type Factory func(botID string) (Transport, error)

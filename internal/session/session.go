// Package session tracks the channel-connection lifecycle of each bot.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/bus"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// State represents a connection session's lifecycle state.
type State string

const (
	Disconnected    State = "disconnected"
	Connecting      State = "connecting"
	PairingRequired State = "pairing_required"
	Connected       State = "connected"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting},
	Connecting:      {PairingRequired, Connected, Disconnected},
	PairingRequired: {Connected, Disconnected},
	Connected:       {Disconnected},
}

var (
	// ErrAlreadyActive is returned by Start when the session is not Disconnected.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound is returned by the registry for bots without a live session.
	ErrNotFound = errors.New("session not found")
)

// BotStatusStore is the slice of the conversation store a session mutates.
type BotStatusStore interface {
	UpdateBotStatus(id string, status store.BotStatus) error
}

// Session is the per-bot connection state machine. All transitions are
// serialized on one mutex so CompletePairing and the pairing timeout can
// never both apply their side effects.
type Session struct {
	botID          string
	transport      channel.Transport
	db             BotStatusStore
	bus            *bus.Bus
	logger         *zap.Logger
	pairingTimeout time.Duration
	createdAt      time.Time

	mu       sync.Mutex
	state    State
	artifact *channel.Artifact
	timer    *time.Timer
}

func newSession(botID string, transport channel.Transport, db BotStatusStore, b *bus.Bus, logger *zap.Logger, pairingTimeout time.Duration) *Session {
	s := &Session{
		botID:          botID,
		transport:      transport,
		db:             db,
		bus:            b,
		logger:         logger,
		pairingTimeout: pairingTimeout,
		createdAt:      time.Now(),
		state:          Disconnected,
	}
	transport.OnPaired(func() { _ = s.CompletePairing() })
	return s
}

// BotID returns the owning bot's id.
func (s *Session) BotID() string { return s.botID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Artifact returns the current pairing artifact, or nil outside PairingRequired.
func (s *Session) Artifact() *channel.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Transport exposes the underlying channel transport.
func (s *Session) Transport() channel.Transport { return s.transport }

// transitionLocked applies a state change; callers hold s.mu.
func (s *Session) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	from := s.state
	s.state = to
	s.bus.Publish(bus.Event{
		Kind:    bus.KindSessionStateChanged,
		Payload: StateChange{BotID: s.botID, From: from, To: to},
	})
	return nil
}

// Start begins the pairing handshake. Valid only from Disconnected; any
// other state returns ErrAlreadyActive. On success the session is in
// PairingRequired, the pairing timer is armed and the artifact is returned.
func (s *Session) Start(ctx context.Context) (*channel.Artifact, error) {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: bot %s is %s", ErrAlreadyActive, s.botID, s.state)
	}
	_ = s.transitionLocked(Connecting)
	s.mu.Unlock()

	if err := s.db.UpdateBotStatus(s.botID, store.BotConnecting); err != nil {
		s.logger.Warn("bot status update failed", zap.String("bot_id", s.botID), zap.Error(err))
	}

	artifact, err := s.transport.IssuePairingArtifact(ctx)
	if err != nil {
		s.mu.Lock()
		_ = s.transitionLocked(Disconnected)
		s.mu.Unlock()
		_ = s.db.UpdateBotStatus(s.botID, store.BotInactive)
		return nil, fmt.Errorf("issue pairing artifact: %w", err)
	}

	s.mu.Lock()
	switch s.state {
	case Connected:
		// The counterpart approved while the artifact was being issued
		// (credential resume). Nothing left to arm.
		s.mu.Unlock()
		return artifact, nil
	case Connecting:
		_ = s.transitionLocked(PairingRequired)
		s.artifact = artifact
		s.timer = time.AfterFunc(s.pairingTimeout, s.onPairingTimeout)
		s.mu.Unlock()
	default:
		// Disconnect won the issuance window. The artifact is dead; arming
		// a timer here would fire into a later, unrelated pairing attempt.
		s.mu.Unlock()
		return nil, fmt.Errorf("pairing aborted: session for bot %s disconnected", s.botID)
	}

	s.logger.Info("pairing required",
		zap.String("bot_id", s.botID),
		zap.Duration("timeout", s.pairingTimeout))
	return artifact, nil
}

// CompletePairing records the counterpart's approval. Valid only from
// PairingRequired (or Connecting during a credential resume); exactly one of
// CompletePairing and the pairing timeout wins.
func (s *Session) CompletePairing() error {
	s.mu.Lock()
	if s.state != PairingRequired && s.state != Connecting {
		s.mu.Unlock()
		return fmt.Errorf("cannot complete pairing from %s", s.state)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.artifact = nil
	_ = s.transitionLocked(Connected)
	s.mu.Unlock()

	if err := s.db.UpdateBotStatus(s.botID, store.BotActive); err != nil {
		s.logger.Warn("bot status update failed", zap.String("bot_id", s.botID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSessionConnected, Payload: s.botID})
	s.logger.Info("pairing complete", zap.String("bot_id", s.botID))
	return nil
}

// onPairingTimeout fires when the artifact expires unused. It loses cleanly
// to a CompletePairing that already moved the session out of PairingRequired.
func (s *Session) onPairingTimeout() {
	s.mu.Lock()
	if s.state != PairingRequired {
		s.mu.Unlock()
		return
	}
	s.artifact = nil
	s.timer = nil
	_ = s.transitionLocked(Disconnected)
	s.mu.Unlock()

	_ = s.transport.Close()
	if err := s.db.UpdateBotStatus(s.botID, store.BotInactive); err != nil {
		s.logger.Warn("bot status update failed", zap.String("bot_id", s.botID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSessionDisconnected, Payload: s.botID})
	s.logger.Info("pairing timed out", zap.String("bot_id", s.botID))
}

// Disconnect tears the connection down. Valid from any non-Disconnected
// state; cancels a pending pairing timer. Already-enqueued outbound sends
// are not retracted.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.artifact = nil
	_ = s.transitionLocked(Disconnected)
	s.mu.Unlock()

	_ = s.transport.Close()
	if err := s.db.UpdateBotStatus(s.botID, store.BotInactive); err != nil {
		s.logger.Warn("bot status update failed", zap.String("bot_id", s.botID), zap.Error(err))
	}
	s.bus.Publish(bus.Event{Kind: bus.KindSessionDisconnected, Payload: s.botID})
	return nil
}

// StateChange is the payload for session.state_changed events.
type StateChange struct {
	BotID string
	From  State
	To    State
}

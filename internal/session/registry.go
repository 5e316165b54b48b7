package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/bus"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
)

// InboundHandler receives inbound channel messages routed by bot id.
type InboundHandler func(botID, fromAddress, displayName, content, msgType string)

// Registry owns the set of live sessions, at most one per bot.
type Registry struct {
	factory        channel.Factory
	db             BotStatusStore
	bus            *bus.Bus
	logger         *zap.Logger
	pairingTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	handler  InboundHandler
}

// NewRegistry creates an empty session registry.
func NewRegistry(factory channel.Factory, db BotStatusStore, b *bus.Bus, logger *zap.Logger, pairingTimeout time.Duration) *Registry {
	return &Registry{
		factory:        factory,
		db:             db,
		bus:            b,
		logger:         logger,
		pairingTimeout: pairingTimeout,
		sessions:       make(map[string]*Session),
	}
}

// SetInboundHandler wires the processor that inbound messages are routed to.
// Must be called before any session is created.
func (r *Registry) SetInboundHandler(h InboundHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// GetOrCreate returns the live session for a bot, creating one (and its
// transport) if needed. Safe under concurrent calls for the same bot id.
func (r *Registry) GetOrCreate(botID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[botID]; ok {
		return s, nil
	}

	transport, err := r.factory(botID)
	if err != nil {
		return nil, fmt.Errorf("create transport for bot %s: %w", botID, err)
	}

	s := newSession(botID, transport, r.db, r.bus, r.logger, r.pairingTimeout)
	handler := r.handler
	transport.OnMessage(func(from, displayName, content, msgType string) {
		if handler != nil {
			handler(botID, from, displayName, content, msgType)
		}
	})

	r.sessions[botID] = s
	return s, nil
}

// Get returns the live session for a bot or ErrNotFound.
func (r *Registry) Get(botID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[botID]
	if !ok {
		return nil, fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	return s, nil
}

// Status returns the lifecycle state of a bot's session, or ErrNotFound when
// no session is live.
func (r *Registry) Status(botID string) (State, error) {
	s, err := r.Get(botID)
	if err != nil {
		return Disconnected, err
	}
	return s.State(), nil
}

// Artifact returns the pending pairing artifact for a bot, or nil when no
// session is live or pairing is not in progress.
func (r *Registry) Artifact(botID string) *channel.Artifact {
	s, err := r.Get(botID)
	if err != nil {
		return nil
	}
	return s.Artifact()
}

// Remove disconnects and discards a bot's session. Removing an unknown bot
// is a no-op.
func (r *Registry) Remove(botID string) error {
	r.mu.Lock()
	s, ok := r.sessions[botID]
	delete(r.sessions, botID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Disconnect()
}

// CloseAll disconnects every live session. Used at daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Disconnect(); err != nil {
			r.logger.Warn("disconnect on shutdown", zap.String("bot_id", s.BotID()), zap.Error(err))
		}
	}
}

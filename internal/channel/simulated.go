package channel

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Simulated is an in-memory Transport. Pairing is approved by an explicit
// Pair() call and inbound traffic is injected with Inject(), which is what
// the dashboard's bot-testing mode drives.
type Simulated struct {
	mu        sync.Mutex
	onPaired  func()
	onMessage InboundFunc
	sends     []SimulatedSend
	sendErr   error
	closed    bool
	paired    bool
}

// SimulatedSend records one delivered message.
type SimulatedSend struct {
	Address string
	Content string
}

// NewSimulated creates a simulated transport.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// IssuePairingArtifact returns a random six-digit pairing code.
func (s *Simulated) IssuePairingArtifact(_ context.Context) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("transport closed")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Code:     fmt.Sprintf("%06d", n.Int64()),
		IssuedAt: time.Now(),
	}, nil
}

// OnPaired implements Transport.
func (s *Simulated) OnPaired(fn func()) {
	s.mu.Lock()
	s.onPaired = fn
	s.mu.Unlock()
}

// OnMessage implements Transport.
func (s *Simulated) OnMessage(fn InboundFunc) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// Send implements Transport, recording the delivery.
func (s *Simulated) Send(_ context.Context, address, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sends = append(s.sends, SimulatedSend{Address: address, Content: content})
	return nil
}

// Close implements Transport.
func (s *Simulated) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Pair simulates the counterpart approving the pairing artifact.
func (s *Simulated) Pair() {
	s.mu.Lock()
	fn := s.onPaired
	s.paired = true
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Paired reports whether Pair has been called.
func (s *Simulated) Paired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paired
}

// Inject simulates an inbound message from the given counterpart.
func (s *Simulated) Inject(fromAddress, displayName, content string) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(fromAddress, displayName, content, TypeText)
	}
}

// Sends returns a copy of everything delivered so far.
func (s *Simulated) Sends() []SimulatedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedSend, len(s.sends))
	copy(out, s.sends)
	return out
}

// FailSends makes subsequent Send calls return err (nil restores success).
func (s *Simulated) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

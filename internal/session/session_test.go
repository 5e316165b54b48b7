package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/bus"
	"github.com/Ericobon/EsferaZap-sub001/internal/channel"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// statusRecorder captures bot status writes.
type statusRecorder struct {
	mu      sync.Mutex
	updates []store.BotStatus
}

func (r *statusRecorder) UpdateBotStatus(_ string, status store.BotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, status)
	return nil
}

func (r *statusRecorder) last() store.BotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return ""
	}
	return r.updates[len(r.updates)-1]
}

func testSession(t *testing.T, timeout time.Duration) (*Session, *channel.Simulated, *statusRecorder, *bus.Bus) {
	t.Helper()
	tr := channel.NewSimulated()
	rec := &statusRecorder{}
	b := bus.New()
	s := newSession("bot-1", tr, rec, b, zap.NewNop(), timeout)
	return s, tr, rec, b
}

func TestStartIssuesArtifactAndRequiresPairing(t *testing.T) {
	s, _, rec, _ := testSession(t, time.Minute)

	art, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if art == nil || art.Code == "" {
		t.Fatal("expected a non-empty pairing artifact")
	}
	if got := s.State(); got != PairingRequired {
		t.Errorf("state = %s, want pairing_required", got)
	}
	if s.Artifact() == nil {
		t.Error("artifact not retained while pairing required")
	}
	if rec.last() != store.BotConnecting {
		t.Errorf("bot status = %q, want connecting", rec.last())
	}
}

func TestStartWhileActiveReturnsAlreadyActive(t *testing.T) {
	s, _, _, _ := testSession(t, time.Minute)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := s.Start(context.Background())
	if !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("err = %v, want ErrAlreadyActive", err)
	}
}

func TestCompletePairingOnlyFromPairingRequired(t *testing.T) {
	s, _, _, _ := testSession(t, time.Minute)

	if err := s.CompletePairing(); err == nil {
		t.Error("CompletePairing from disconnected should fail")
	}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.CompletePairing(); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != Connected {
		t.Errorf("state = %s, want connected", got)
	}
	// Pairing again from connected is invalid.
	if err := s.CompletePairing(); err == nil {
		t.Error("CompletePairing from connected should fail")
	}
}

func TestTransportPairCallbackCompletesPairing(t *testing.T) {
	s, tr, rec, _ := testSession(t, time.Minute)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.Pair()

	if got := s.State(); got != Connected {
		t.Errorf("state = %s, want connected", got)
	}
	if rec.last() != store.BotActive {
		t.Errorf("bot status = %q, want active", rec.last())
	}
	if s.Artifact() != nil {
		t.Error("artifact should be cleared once connected")
	}
}

// gatedTransport holds IssuePairingArtifact open until released, exposing
// the window between Connecting and PairingRequired.
type gatedTransport struct {
	*channel.Simulated
	release chan struct{}
}

func (g *gatedTransport) IssuePairingArtifact(ctx context.Context) (*channel.Artifact, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &channel.Artifact{Code: "654321", IssuedAt: time.Now()}, nil
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

type startResult struct {
	art *channel.Artifact
	err error
}

func TestDisconnectDuringArtifactIssuance(t *testing.T) {
	tr := &gatedTransport{Simulated: channel.NewSimulated(), release: make(chan struct{})}
	rec := &statusRecorder{}
	s := newSession("bot-1", tr, rec, bus.New(), zap.NewNop(), time.Minute)

	done := make(chan startResult, 1)
	go func() {
		art, err := s.Start(context.Background())
		done <- startResult{art, err}
	}()

	waitForState(t, s, Connecting)
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	close(tr.release)

	res := <-done
	if res.err == nil {
		t.Fatal("Start should fail when disconnected mid-issuance")
	}
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	if s.Artifact() != nil {
		t.Error("stale artifact retained after aborted start")
	}
	s.mu.Lock()
	armed := s.timer != nil
	s.mu.Unlock()
	if armed {
		t.Error("pairing timer armed for a disconnected session")
	}

	// The session is cleanly Disconnected, so a fresh Start works.
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != PairingRequired {
		t.Errorf("state after restart = %s, want pairing_required", got)
	}
}

func TestPairingApprovedDuringIssuanceConnects(t *testing.T) {
	tr := &gatedTransport{Simulated: channel.NewSimulated(), release: make(chan struct{})}
	rec := &statusRecorder{}
	s := newSession("bot-1", tr, rec, bus.New(), zap.NewNop(), time.Minute)

	done := make(chan startResult, 1)
	go func() {
		art, err := s.Start(context.Background())
		done <- startResult{art, err}
	}()

	// Stored credentials resume before any QR is shown: the transport fires
	// pair-success while the session is still Connecting.
	waitForState(t, s, Connecting)
	if err := s.CompletePairing(); err != nil {
		t.Fatal(err)
	}
	close(tr.release)

	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.art == nil {
		t.Error("Start should still hand back the issued artifact")
	}
	if got := s.State(); got != Connected {
		t.Errorf("state = %s, want connected", got)
	}
	if rec.last() != store.BotActive {
		t.Errorf("bot status = %q, want active", rec.last())
	}
	s.mu.Lock()
	armed := s.timer != nil
	s.mu.Unlock()
	if armed {
		t.Error("pairing timer armed for a connected session")
	}
}

func TestPairingTimeoutDisconnects(t *testing.T) {
	s, _, rec, b := testSession(t, 20*time.Millisecond)
	events, unsub := b.Subscribe("session.disconnected", 10)
	defer unsub()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for session.disconnected")
	}
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
	if rec.last() != store.BotInactive {
		t.Errorf("bot status = %q, want inactive", rec.last())
	}
	if s.Artifact() != nil {
		t.Error("artifact should be invalidated on timeout")
	}
}

func TestPairingRaceHasExactlyOneWinner(t *testing.T) {
	for range 20 {
		s, _, _, b := testSession(t, time.Millisecond)
		terminal, unsub := b.Subscribe("session.", 32)

		if _, err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		// Let CompletePairing race the timer.
		_ = s.CompletePairing()
		time.Sleep(10 * time.Millisecond)

		state := s.State()
		if state != Connected && state != Disconnected {
			t.Fatalf("state = %s, want connected or disconnected", state)
		}

		var connected, disconnected int
		for {
			select {
			case evt := <-terminal:
				switch evt.Kind {
				case bus.KindSessionConnected:
					connected++
				case bus.KindSessionDisconnected:
					disconnected++
				}
				continue
			default:
			}
			break
		}
		if connected+disconnected != 1 {
			t.Fatalf("terminal transitions = %d (connected=%d disconnected=%d), want exactly 1",
				connected+disconnected, connected, disconnected)
		}
		unsub()
	}
}

func TestDisconnectCancelsPairingTimer(t *testing.T) {
	s, _, _, b := testSession(t, 30*time.Millisecond)
	events, unsub := b.Subscribe("session.disconnected", 10)
	defer unsub()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	<-events

	// If the timer were still armed it would publish a second disconnect.
	time.Sleep(60 * time.Millisecond)
	select {
	case evt := <-events:
		t.Errorf("unexpected extra event after disconnect: %v", evt)
	default:
	}
}

func TestDisconnectFromDisconnectedIsNoop(t *testing.T) {
	s, _, rec, _ := testSession(t, time.Minute)
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if len(rec.updates) != 0 {
		t.Error("no-op disconnect should not touch bot status")
	}
}

func TestRegistryGetOrCreateIsSingleton(t *testing.T) {
	rec := &statusRecorder{}
	var factoryCalls int
	var mu sync.Mutex
	factory := func(string) (channel.Transport, error) {
		mu.Lock()
		factoryCalls++
		mu.Unlock()
		return channel.NewSimulated(), nil
	}
	r := NewRegistry(factory, rec, bus.New(), zap.NewNop(), time.Minute)

	var wg sync.WaitGroup
	sessions := make([]*Session, 16)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate("bot-1")
			if err != nil {
				t.Error(err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions")
		}
	}
	if factoryCalls != 1 {
		t.Errorf("factory called %d times, want 1", factoryCalls)
	}
}

func TestRegistryStatusAndRemove(t *testing.T) {
	rec := &statusRecorder{}
	factory := func(string) (channel.Transport, error) { return channel.NewSimulated(), nil }
	r := NewRegistry(factory, rec, bus.New(), zap.NewNop(), time.Minute)

	if _, err := r.Status("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	s, err := r.GetOrCreate("bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	state, err := r.Status("bot-1")
	if err != nil {
		t.Fatal(err)
	}
	if state != PairingRequired {
		t.Errorf("state = %s, want pairing_required", state)
	}

	if err := r.Remove("bot-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Status("bot-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after remove err = %v, want ErrNotFound", err)
	}
	// Removing again is a no-op.
	if err := r.Remove("bot-1"); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryRoutesInboundByBot(t *testing.T) {
	rec := &statusRecorder{}
	transports := map[string]*channel.Simulated{}
	factory := func(botID string) (channel.Transport, error) {
		tr := channel.NewSimulated()
		transports[botID] = tr
		return tr, nil
	}
	r := NewRegistry(factory, rec, bus.New(), zap.NewNop(), time.Minute)

	type inbound struct{ botID, from, content string }
	var mu sync.Mutex
	var got []inbound
	r.SetInboundHandler(func(botID, from, _, content, _ string) {
		mu.Lock()
		got = append(got, inbound{botID, from, content})
		mu.Unlock()
	})

	if _, err := r.GetOrCreate("bot-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetOrCreate("bot-b"); err != nil {
		t.Fatal(err)
	}

	transports["bot-a"].Inject("+551100", "", "to a")
	transports["bot-b"].Inject("+551199", "", "to b")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d inbound messages, want 2", len(got))
	}
	if got[0].botID != "bot-a" || got[1].botID != "bot-b" {
		t.Errorf("routing = %+v", got)
	}
}

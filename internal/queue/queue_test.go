package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	attempts []string
	dropped  []string
	dropErrs []error
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	r.attempts = append(r.attempts, id)
	r.mu.Unlock()
}

func (r *recorder) drop(item Item[string], err error) {
	r.mu.Lock()
	r.dropped = append(r.dropped, item.ID)
	r.dropErrs = append(r.dropErrs, err)
	r.mu.Unlock()
}

func (r *recorder) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func (r *recorder) droppedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dropped)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testConfig() Config {
	return Config{TickInterval: 2 * time.Millisecond, MaxRetries: 3}
}

func TestFIFOOrder(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		rec.record(item.Payload)
		return nil
	}, nil, nil, zap.NewNop())
	defer q.Close()

	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("C")

	waitFor(t, func() bool { return rec.attemptCount() == 3 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.attempts[0] != "A" || rec.attempts[1] != "B" || rec.attempts[2] != "C" {
		t.Errorf("order = %v, want [A B C]", rec.attempts)
	}
}

func TestAlwaysFailingItemIsAttemptedMaxRetriesPlusOneThenDropped(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("provider down")
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		rec.record(item.ID)
		return boom
	}, rec.drop, nil, zap.NewNop())
	defer q.Close()

	id := q.Enqueue("doomed")

	waitFor(t, func() bool { return rec.droppedCount() == 1 })

	if got := rec.attemptCount(); got != 4 { // maxRetries(3) + 1
		t.Errorf("attempts = %d, want 4", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dropped[0] != id {
		t.Errorf("dropped id = %q, want %q", rec.dropped[0], id)
	}
	if !errors.Is(rec.dropErrs[0], boom) {
		t.Errorf("drop err = %v, want wrapped cause", rec.dropErrs[0])
	}

	// No further attempts after the drop.
	time.Sleep(20 * time.Millisecond)
	if got := len(rec.attempts); got != 4 {
		t.Errorf("attempts after drop = %d, want 4", got)
	}
}

func TestItemSucceedingOnAttemptKIsNotRetriedFurther(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	failures := 2
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		rec.record(item.ID)
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return errors.New("transient")
		}
		return nil
	}, rec.drop, nil, zap.NewNop())
	defer q.Close()

	q.Enqueue("flaky")

	waitFor(t, func() bool { return rec.attemptCount() == 3 })
	time.Sleep(20 * time.Millisecond)

	if got := rec.attemptCount(); got != 3 {
		t.Errorf("attempts = %d, want 3 (success on third)", got)
	}
	if rec.droppedCount() != 0 {
		t.Error("successful item was dropped")
	}
}

func TestRetriedItemLosesItsPositionToNewerItems(t *testing.T) {
	rec := &recorder{}
	var once sync.Once
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		var failed bool
		if item.Payload == "A" {
			once.Do(func() { failed = true })
		}
		if failed {
			return errors.New("transient")
		}
		rec.record(item.Payload)
		return nil
	}, nil, nil, zap.NewNop())
	defer q.Close()

	q.Enqueue("A")
	q.Enqueue("B")

	waitFor(t, func() bool { return rec.attemptCount() == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// A failed once and re-entered at the tail, so B completes first.
	if rec.attempts[0] != "B" || rec.attempts[1] != "A" {
		t.Errorf("order = %v, want [B A]", rec.attempts)
	}
}

func TestTerminalClassificationSkipsRetry(t *testing.T) {
	rec := &recorder{}
	terminal := errors.New("malformed")
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		rec.record(item.ID)
		return terminal
	}, rec.drop, func(err error) bool { return !errors.Is(err, terminal) }, zap.NewNop())
	defer q.Close()

	q.Enqueue("bad")

	waitFor(t, func() bool { return rec.droppedCount() == 1 })
	if got := rec.attemptCount(); got != 1 {
		t.Errorf("attempts = %d, want 1 for terminal error", got)
	}
}

func TestDriverStopsWhenEmptyAndRestartsOnEnqueue(t *testing.T) {
	rec := &recorder{}
	q := New(testConfig(), func(_ context.Context, item Item[string]) error {
		rec.record(item.Payload)
		return nil
	}, nil, nil, zap.NewNop())
	defer q.Close()

	q.Enqueue("one")
	waitFor(t, func() bool { return rec.attemptCount() == 1 })

	// Give the driver time to observe the empty queue and stop.
	time.Sleep(20 * time.Millisecond)
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()
	if running {
		t.Error("driver still running on empty queue")
	}

	q.Enqueue("two")
	waitFor(t, func() bool { return rec.attemptCount() == 2 })
}

func TestConcurrentEnqueueProcessesEverythingOnce(t *testing.T) {
	rec := &recorder{}
	q := New(Config{TickInterval: time.Millisecond, MaxRetries: 0}, func(_ context.Context, item Item[string]) error {
		rec.record(item.Payload)
		return nil
	}, nil, nil, zap.NewNop())
	defer q.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(string(rune('a' + i%26)))
		}(i)
	}
	wg.Wait()

	waitFor(t, func() bool { return rec.attemptCount() == n })
	time.Sleep(20 * time.Millisecond)
	if got := rec.attemptCount(); got != n {
		t.Errorf("attempts = %d, want %d", got, n)
	}
}

func TestEnqueueHonorsCallerSuppliedID(t *testing.T) {
	q := New(testConfig(), func(_ context.Context, _ Item[string]) error { return nil }, nil, nil, zap.NewNop())
	defer q.Close()

	if got := q.Enqueue("x", "my-id"); got != "my-id" {
		t.Errorf("id = %q, want my-id", got)
	}
	if got := q.Enqueue("y"); got == "" {
		t.Error("generated id is empty")
	}
}

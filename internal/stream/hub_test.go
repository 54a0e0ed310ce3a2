package stream

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
	sendErr  error
}

func (s *stubSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *stubSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubSubscriber) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func (s *stubSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestHubDeliversInPublishOrder(t *testing.T) {
	h := NewHub(32)
	defer h.Close()

	sub := &stubSubscriber{}
	h.Register(sub)
	waitFor(t, func() bool { return h.Count() == 1 })

	const n = 20
	for i := 0; i < n; i++ {
		h.Broadcast([]byte(fmt.Sprintf("event-%d", i)))
	}
	waitFor(t, func() bool { return len(sub.received()) == n })

	for i, payload := range sub.received() {
		if string(payload) != fmt.Sprintf("event-%d", i) {
			t.Fatalf("payload %d out of order: %s", i, payload)
		}
	}
}

func TestHubEvictsFailingSubscriber(t *testing.T) {
	h := NewHub(16)
	defer h.Close()

	healthy := &stubSubscriber{}
	broken := &stubSubscriber{sendErr: errors.New("slow consumer")}
	h.Register(healthy)
	h.Register(broken)
	waitFor(t, func() bool { return h.Count() == 2 })

	h.Broadcast([]byte("first"))
	waitFor(t, func() bool { return h.Count() == 1 })
	if !broken.isClosed() {
		t.Fatal("failing subscriber must be closed on eviction")
	}

	h.Broadcast([]byte("second"))
	waitFor(t, func() bool { return len(healthy.received()) == 2 })
	if got := healthy.received(); string(got[0]) != "first" || string(got[1]) != "second" {
		t.Fatalf("healthy subscriber delivery broken: %q %q", got[0], got[1])
	}
}

func TestHubLateSubscriberGetsNoBacklog(t *testing.T) {
	h := NewHub(16)
	defer h.Close()

	early := &stubSubscriber{}
	h.Register(early)
	waitFor(t, func() bool { return h.Count() == 1 })

	h.Broadcast([]byte("before"))
	waitFor(t, func() bool { return len(early.received()) == 1 })

	late := &stubSubscriber{}
	h.Register(late)
	waitFor(t, func() bool { return h.Count() == 2 })

	h.Broadcast([]byte("after"))
	waitFor(t, func() bool { return len(late.received()) == 1 })
	if string(late.received()[0]) != "after" {
		t.Fatalf("late subscriber must only see live events, got %s", late.received()[0])
	}
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(16)
	defer h.Close()

	sub := &stubSubscriber{}
	h.Register(sub)
	waitFor(t, func() bool { return h.Count() == 1 })

	h.Unregister(sub)
	waitFor(t, func() bool { return h.Count() == 0 })

	h.Broadcast([]byte("gone"))
	time.Sleep(20 * time.Millisecond)
	if len(sub.received()) != 0 {
		t.Fatal("unregistered subscriber must not receive broadcasts")
	}
}

type stalledSubscriber struct {
	unblock chan struct{}
}

func (s *stalledSubscriber) Send(payload []byte) error {
	<-s.unblock
	return nil
}

func (s *stalledSubscriber) Close() {}

func TestHubBroadcastNeverBlocksOnStalledSubscriber(t *testing.T) {
	h := NewHub(1)
	defer h.Close()

	sub := &stalledSubscriber{unblock: make(chan struct{})}
	defer close(sub.unblock)
	h.Register(sub)
	waitFor(t, func() bool { return h.Count() == 1 })

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Broadcast([]byte(fmt.Sprintf("event-%d", i)))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast must not block behind a stalled subscriber")
	}
}

// gatedSubscriber blocks its first Send until released and records every
// delivered payload.
type gatedSubscriber struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	payloads [][]byte
}

func newGatedSubscriber() *gatedSubscriber {
	return &gatedSubscriber{
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (s *gatedSubscriber) Send(payload []byte) error {
	var first bool
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.gate
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	return nil
}

func (s *gatedSubscriber) Close() {}

func (s *gatedSubscriber) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func TestHubFullQueueShedsOldest(t *testing.T) {
	h := NewHub(2)
	defer h.Close()

	sub := newGatedSubscriber()
	h.Register(sub)
	waitFor(t, func() bool { return h.Count() == 1 })

	// park the run goroutine inside Send, then overflow the queue
	h.Broadcast([]byte("e0"))
	<-sub.entered
	for _, payload := range []string{"e1", "e2", "e3", "e4"} {
		h.Broadcast([]byte(payload))
	}
	close(sub.gate)

	payloads := waitFor3(t, sub)
	if string(payloads[0]) != "e0" || string(payloads[1]) != "e3" || string(payloads[2]) != "e4" {
		t.Fatalf("expected e0, e3, e4 with the oldest overflow shed, got %q %q %q",
			payloads[0], payloads[1], payloads[2])
	}
}

func waitFor3(t *testing.T, sub *gatedSubscriber) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sub.received(); len(got) >= 3 {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected 3 delivered payloads, got %d", len(sub.received()))
	return nil
}

func TestHubCloseIsIdempotent(t *testing.T) {
	h := NewHub(1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Close()
		}()
	}
	wg.Wait()
	h.Close()
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	h := NewHub(16)

	sub := &stubSubscriber{}
	h.Register(sub)
	waitFor(t, func() bool { return h.Count() == 1 })

	h.Close()
	waitFor(t, func() bool { return sub.isClosed() })
	if h.Count() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", h.Count())
	}

	// must not block after shutdown
	h.Broadcast([]byte("ignored"))
	h.Register(&stubSubscriber{})
}

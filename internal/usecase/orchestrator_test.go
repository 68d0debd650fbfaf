package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

// fakeStore is an in-memory credential store that, like the real one,
// notifies subscribers outside its lock.
type fakeStore struct {
	mu     sync.Mutex
	secret string
	ok     bool
	subs   map[int]func(string, bool)
	nextID int
}

func newFakeStore(secret string) *fakeStore {
	s := &fakeStore{subs: map[int]func(string, bool){}}
	if secret != "" {
		s.secret, s.ok = secret, true
	}
	return s
}

func (s *fakeStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret, s.ok
}

func (s *fakeStore) Set(secret string) {
	s.mu.Lock()
	s.secret, s.ok = secret, true
	subs := s.snapshotSubs()
	s.mu.Unlock()
	for _, fn := range subs {
		fn(secret, true)
	}
}

func (s *fakeStore) Clear() {
	s.mu.Lock()
	s.secret, s.ok = "", false
	subs := s.snapshotSubs()
	s.mu.Unlock()
	for _, fn := range subs {
		fn("", false)
	}
}

func (s *fakeStore) Subscribe(fn func(string, bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *fakeStore) snapshotSubs() []func(string, bool) {
	out := make([]func(string, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// socketOrchestrator builds an orchestrator on the websocket transport,
// whose fake channel opens synchronously inside connect.
func socketOrchestrator(store *fakeStore, channels []*fakeChannel, streams []ports.AudioStream) (*Orchestrator, *sinkRecorder) {
	sink := newSinkRecorder()
	cfg := testSessionConfig()
	cfg.Transport = TransportWebSocket
	o := NewOrchestrator(cfg, OrchestratorDeps{
		Store:    store,
		Media:    &fakeMedia{streams: streams},
		Channels: &fakeChannelDialer{channels: channels},
		Events:   sink,
	})
	return o, sink
}

func openingChannel() *fakeChannel {
	ch := newFakeChannel()
	ch.openOnHandle = true
	return ch
}

func TestOrchestratorSingleFlightConnect(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	track := &fakeTrack{}
	channel := newFakeChannel()
	transport := &fakeTransport{channel: channel}
	sink := newSinkRecorder()
	media := &fakeMedia{tracks: []ports.CaptureTrack{track}}

	o := NewOrchestrator(testSessionConfig(), OrchestratorDeps{
		Store:      newFakeStore("sk-test"),
		Media:      media,
		Transports: &fakeTransportDialer{transports: []*fakeTransport{transport}},
		Signaler:   &fakeSignaler{results: []signalResult{{gate: gate, answer: "a"}}},
		Events:     sink,
	})
	defer o.Close()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- o.EnsureConnected(context.Background()) }()
	}

	waitUntil(t, func() bool { return sink.hasStatus(domain.StatusExchangingSDP) }, "exchange status")
	close(gate)
	waitUntil(t, func() bool { return sink.hasStatus(domain.StatusWaitingForChannel) }, "waiting status")
	channel.fireOpen()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("ensure connected failed: %v", err)
		}
	}
	if media.trackCalls() != 1 {
		t.Fatalf("expected one shared connect attempt, got %d capture acquisitions", media.trackCalls())
	}
	if o.Snapshot().State != domain.ConnectionStateConnected {
		t.Fatalf("expected connected snapshot")
	}
}

func TestOrchestratorRequiresCredential(t *testing.T) {
	t.Parallel()

	store := newFakeStore("")
	o, sink := socketOrchestrator(store, nil, nil)
	defer o.Close()

	err := o.EnsureConnected(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if !sink.hasStatus(domain.StatusKeyRequired) {
		t.Fatalf("expected key-required status")
	}

	snap := o.Snapshot()
	if snap.HasCredential {
		t.Fatalf("snapshot must report missing credential")
	}
	if snap.Status != domain.StatusKeyRequired {
		t.Fatalf("unexpected snapshot status %q", snap.Status)
	}
}

func TestOrchestratorCredentialClearedKillsSession(t *testing.T) {
	t.Parallel()

	store := newFakeStore("sk-test")
	stream := newFakeStream("pcm")
	o, _ := socketOrchestrator(store, []*fakeChannel{openingChannel()}, []ports.AudioStream{stream})
	defer o.Close()

	if err := o.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	store.Clear()

	waitUntil(t, func() bool {
		snap := o.Snapshot()
		return snap.State == domain.ConnectionStateDisconnected && snap.Status == domain.StatusKeyRequired
	}, "key-required snapshot")
	waitUntil(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.stopped
	}, "capture released")
}

func TestOrchestratorCredentialArrivalReconnects(t *testing.T) {
	t.Parallel()

	store := newFakeStore("")
	o, _ := socketOrchestrator(store, []*fakeChannel{openingChannel()}, []ports.AudioStream{newFakeStream("pcm")})
	defer o.Close()

	store.Set("sk-late")

	waitUntil(t, func() bool {
		return o.Snapshot().State == domain.ConnectionStateConnected
	}, "background reconnect")
}

func TestOrchestratorListenerReplacement(t *testing.T) {
	t.Parallel()

	store := newFakeStore("sk-test")
	channel := openingChannel()
	o, _ := socketOrchestrator(store, []*fakeChannel{channel}, []ports.AudioStream{newFakeStream("pcm")})
	defer o.Close()

	var mu sync.Mutex
	var first, second []string
	listenerA := &domain.Listener{OnDelta: func(text string) { mu.Lock(); first = append(first, text); mu.Unlock() }}
	listenerB := &domain.Listener{OnDelta: func(text string) { mu.Lock(); second = append(second, text); mu.Unlock() }}

	if err := o.StartListening(context.Background(), listenerA); err != nil {
		t.Fatalf("start listening failed: %v", err)
	}
	if err := o.StartListening(context.Background(), listenerB); err != nil {
		t.Fatalf("restart listening failed: %v", err)
	}

	channel.fireMessage([]byte(`{"type":"transcript.delta","text":"only to B"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(first) != 0 {
		t.Fatalf("replaced listener must not fire, got %q", first)
	}
	if strings.Join(second, "") != "only to B" {
		t.Fatalf("unexpected deltas for live listener: %q", second)
	}
}

func TestOrchestratorToggleListening(t *testing.T) {
	t.Parallel()

	store := newFakeStore("sk-test")
	o, sink := socketOrchestrator(store, []*fakeChannel{openingChannel()}, []ports.AudioStream{newFakeStream("pcm")})
	defer o.Close()

	listener := &domain.Listener{}
	if err := o.ToggleListening(context.Background(), listener); err != nil {
		t.Fatalf("toggle on failed: %v", err)
	}
	if !o.Snapshot().Listening {
		t.Fatalf("expected listening after first toggle")
	}

	if err := o.ToggleListening(context.Background(), listener); err != nil {
		t.Fatalf("toggle off failed: %v", err)
	}
	if o.Snapshot().Listening {
		t.Fatalf("expected listening stopped after second toggle")
	}

	listens := sink.snapshotListening()
	if len(listens) != 2 || !listens[0] || listens[1] {
		t.Fatalf("unexpected listening sequence %v", listens)
	}
}

func TestOrchestratorStopListeningClearsListener(t *testing.T) {
	t.Parallel()

	store := newFakeStore("sk-test")
	channel := openingChannel()
	o, _ := socketOrchestrator(store, []*fakeChannel{channel}, []ports.AudioStream{newFakeStream("pcm")})
	defer o.Close()

	var mu sync.Mutex
	var deltas []string
	listener := &domain.Listener{OnDelta: func(text string) { mu.Lock(); deltas = append(deltas, text); mu.Unlock() }}
	if err := o.StartListening(context.Background(), listener); err != nil {
		t.Fatalf("start listening failed: %v", err)
	}

	o.StopListening(StopListenOptions{ClearListener: true})
	channel.fireMessage([]byte(`{"type":"transcript.delta","text":"orphaned"}`))

	mu.Lock()
	defer mu.Unlock()
	if len(deltas) != 0 {
		t.Fatalf("cleared listener must not fire, got %q", deltas)
	}
}

func TestOrchestratorCloseIsFinal(t *testing.T) {
	t.Parallel()

	store := newFakeStore("sk-test")
	o, _ := socketOrchestrator(store, []*fakeChannel{openingChannel()}, []ports.AudioStream{newFakeStream("pcm")})

	o.Close()
	o.Close()

	if err := o.EnsureConnected(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed after close, got %v", err)
	}
}

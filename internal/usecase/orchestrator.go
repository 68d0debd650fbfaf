package usecase

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

// ErrNoCredential is returned when a connection is requested without an
// API secret in the store.
var ErrNoCredential = errors.New("no API credential configured")

// OrchestratorDeps are the collaborators shared by every session the
// orchestrator creates. Events is the host-facing sink and may be nil.
type OrchestratorDeps struct {
	Store      ports.CredentialStore
	Media      ports.MediaCapture
	Transports ports.TransportDialer
	Signaler   ports.Signaler
	Channels   ports.ChannelDialer
	Events     ports.EventSink
	Log        *log.Logger
}

// connectFlight deduplicates concurrent connect requests: everyone who
// asks while a connect is in flight waits on the same attempt.
type connectFlight struct {
	done chan struct{}
	err  error
}

// Orchestrator manages the session lifecycle across credential changes.
// It owns at most one session at a time, bound to the current secret,
// and sits between the session and the host sink so it can keep a
// pollable snapshot of the observable state.
type Orchestrator struct {
	cfg  SessionConfig
	deps OrchestratorDeps

	mu          sync.Mutex
	session     *Session
	flight      *connectFlight
	unsubscribe func()
	closed      bool

	state     domain.ConnectionState
	listening bool
	status    string
	lastErr   string
}

// NewOrchestrator creates an orchestrator and subscribes it to the
// credential store. A missing credential is reported through the status
// channel immediately.
func NewOrchestrator(cfg SessionConfig, deps OrchestratorDeps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = log.New(io.Discard)
	}
	o := &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		state: domain.ConnectionStateDisconnected,
	}
	if _, ok := deps.Store.Get(); !ok {
		o.StatusChanged(domain.StatusKeyRequired)
	}
	o.unsubscribe = deps.Store.Subscribe(o.credentialChanged)
	return o
}

// EnsureConnected connects the current session, creating one if needed.
// Concurrent calls share a single connect attempt and its result.
func (o *Orchestrator) EnsureConnected(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrDisposed
	}
	if o.flight != nil {
		flight := o.flight
		o.mu.Unlock()
		<-flight.done
		return flight.err
	}
	session := o.session
	if session != nil && session.State() == domain.ConnectionStateConnected {
		o.mu.Unlock()
		return nil
	}
	if session == nil {
		secret, ok := o.deps.Store.Get()
		if !ok {
			o.lastErr = ErrNoCredential.Error()
			o.mu.Unlock()
			o.StatusChanged(domain.StatusKeyRequired)
			return ErrNoCredential
		}
		session = o.newSession(secret)
		o.session = session
	}
	flight := &connectFlight{done: make(chan struct{})}
	o.flight = flight
	o.mu.Unlock()

	flight.err = session.Connect(ctx)
	close(flight.done)

	o.mu.Lock()
	if o.flight == flight {
		o.flight = nil
	}
	o.mu.Unlock()
	return flight.err
}

// StartListening connects if necessary, installs the listener, and
// enables capture. The listener replaces any previous registration.
func (o *Orchestrator) StartListening(ctx context.Context, listener *domain.Listener) error {
	if err := o.EnsureConnected(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil {
		return ErrNoCredential
	}
	session.SetListener(listener)
	return session.StartListening(ctx)
}

// StopListenOptions tunes StopListening.
type StopListenOptions struct {
	// ClearListener drops the transcript registration along with capture.
	ClearListener bool
}

// StopListening disables capture. No-op when no session exists.
func (o *Orchestrator) StopListening(opts StopListenOptions) {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session == nil {
		return
	}
	session.StopListening(StopOptions{})
	if opts.ClearListener {
		session.SetListener(nil)
	}
}

// ToggleListening flips the listening state, connecting first when
// needed.
func (o *Orchestrator) ToggleListening(ctx context.Context, listener *domain.Listener) error {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session != nil && session.Listening() {
		o.StopListening(StopListenOptions{})
		return nil
	}
	return o.StartListening(ctx, listener)
}

// Disconnect tears down the current session without discarding it.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session != nil {
		session.Disconnect()
	}
}

// Snapshot returns the current observable state.
func (o *Orchestrator) Snapshot() domain.Snapshot {
	_, hasCredential := o.deps.Store.Get()
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.Snapshot{
		HasCredential: hasCredential,
		State:         o.state,
		Listening:     o.listening,
		Status:        o.status,
		LastError:     o.lastErr,
	}
}

// Close unsubscribes from the store and disposes the session. The
// orchestrator cannot be reused afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	unsubscribe := o.unsubscribe
	session := o.session
	o.session = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if session != nil {
		session.Dispose()
	}
}

// credentialChanged reacts to store updates: clearing the secret kills
// the session, setting one rebinds and reconnects in the background.
func (o *Orchestrator) credentialChanged(secret string, ok bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	session := o.session
	o.session = nil
	o.mu.Unlock()

	if session != nil {
		session.Dispose()
	}
	if !ok {
		o.mu.Lock()
		o.state = domain.ConnectionStateDisconnected
		o.listening = false
		o.mu.Unlock()
		o.StatusChanged(domain.StatusKeyRequired)
		return
	}

	o.deps.Log.Debug("credential updated, reconnecting")
	go func() {
		if err := o.EnsureConnected(context.Background()); err != nil {
			o.deps.Log.Error("reconnect after credential change", "err", err)
		}
	}()
}

func (o *Orchestrator) newSession(secret string) *Session {
	return NewSession(secret, o.cfg, SessionDeps{
		Media:      o.deps.Media,
		Transports: o.deps.Transports,
		Signaler:   o.deps.Signaler,
		Channels:   o.deps.Channels,
		Events:     o,
		Log:        o.deps.Log,
	})
}

// The orchestrator is the session's event sink: it records each change
// for Snapshot and forwards it to the host.

func (o *Orchestrator) ConnectionStateChanged(state domain.ConnectionState) {
	o.mu.Lock()
	o.state = state
	sink := o.deps.Events
	o.mu.Unlock()
	if sink != nil {
		sink.ConnectionStateChanged(state)
	}
}

func (o *Orchestrator) ListeningChanged(listening bool) {
	o.mu.Lock()
	o.listening = listening
	sink := o.deps.Events
	o.mu.Unlock()
	if sink != nil {
		sink.ListeningChanged(listening)
	}
}

func (o *Orchestrator) StatusChanged(status string) {
	o.mu.Lock()
	o.status = status
	sink := o.deps.Events
	o.mu.Unlock()
	if sink != nil {
		sink.StatusChanged(status)
	}
}

func (o *Orchestrator) SessionError(code domain.ErrorCode, detail string) {
	o.mu.Lock()
	o.lastErr = detail
	sink := o.deps.Events
	o.mu.Unlock()
	if sink != nil {
		sink.SessionError(code, detail)
	}
}

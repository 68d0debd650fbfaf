package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"murmur/internal/codec"
	"murmur/internal/domain"
	"murmur/internal/ports"
	"murmur/internal/transcript"
)

var (
	// ErrCaptureUnsupported is returned before any state change when no
	// capture capability exists in this environment.
	ErrCaptureUnsupported = errors.New("audio capture is not supported in this environment")

	// ErrDisposed is returned by operations on a disposed session.
	ErrDisposed = errors.New("session is disposed")
)

// TransportWebSocket selects the websocket session transport instead of
// the default WebRTC peer connection.
const (
	TransportWebRTC    = "webrtc"
	TransportWebSocket = "websocket"
)

const eventsChannelLabel = "oai-events"

// SessionConfig controls one session's transport and remote settings.
type SessionConfig struct {
	Transport string
	Capture   ports.CaptureConfig
	Remote    codec.SessionConfig
	ChunkSize int
}

// SessionDeps are the collaborators a session drives. Events must be
// non-nil; Log may be nil.
type SessionDeps struct {
	Media      ports.MediaCapture
	Transports ports.TransportDialer
	Signaler   ports.Signaler
	Channels   ports.ChannelDialer
	Events     ports.EventSink
	Log        *log.Logger
}

// Session owns the microphone capture, the peer transport, and the
// signaling data channel for exactly one logical connection.
//
// Cancellation is cooperative: every asynchronous step captures the
// generation token current at its start and re-validates it before
// touching live session fields. Disconnect or a newer connect attempt
// bumps the token, so superseded work releases its own resources and
// exits without side effects.
type Session struct {
	cfg    SessionConfig
	deps   SessionDeps
	secret string

	reconciler *transcript.Reconciler

	mu         sync.Mutex
	generation uint64
	state      domain.ConnectionState
	listening  bool
	disposed   bool
	listener   *domain.Listener

	transport ports.PeerTransport
	channel   ports.DataChannel
	track     ports.CaptureTrack
	stream    ports.AudioStream
}

// NewSession creates a disconnected session bound to one credential.
func NewSession(secret string, cfg SessionConfig, deps SessionDeps) *Session {
	if deps.Log == nil {
		deps.Log = log.New(io.Discard)
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	s := &Session{
		cfg:    cfg,
		deps:   deps,
		secret: secret,
		state:  domain.ConnectionStateDisconnected,
	}
	s.reconciler = transcript.New(s.emitDelta, s.emitFinal, s.notifyStatus)
	return s
}

// State returns the current connection state.
func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening reports whether capture audio is flowing.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// SetListener replaces the active transcript listener. Passing nil
// clears it.
func (s *Session) SetListener(l *domain.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.listener = l
}

// Connect establishes the realtime session. It is a no-op when already
// Connected or Connecting. It blocks until the data channel opens, the
// attempt fails, or the attempt is superseded (which is not an error).
func (s *Session) Connect(ctx context.Context) error {
	if s.deps.Media == nil || !s.deps.Media.Supported() {
		return ErrCaptureUnsupported
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.state != domain.ConnectionStateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.state = domain.ConnectionStateConnecting
	s.mu.Unlock()
	s.notifyState(domain.ConnectionStateConnecting)

	var err error
	if s.cfg.Transport == TransportWebSocket {
		err = s.connectSocket(ctx, gen)
	} else {
		err = s.connectPeer(ctx, gen)
	}
	if err == nil {
		return nil
	}

	s.deps.Log.Error("connect attempt failed", "generation", gen, "err", err)
	s.mu.Lock()
	if s.generation != gen {
		// Superseded while failing; a newer attempt owns the state now.
		s.mu.Unlock()
		return err
	}
	s.state = domain.ConnectionStateDisconnected
	s.mu.Unlock()
	s.notifyState(domain.ConnectionStateDisconnected)
	s.notifyError(errorCode(err), err.Error())
	return err
}

// Disconnect invalidates any in-flight connect and tears down all owned
// resources. Calling it while already Disconnected is a no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.generation++
	wasState := s.state
	wasListening := s.listening
	s.state = domain.ConnectionStateDisconnected
	s.listening = false
	transport, channel, track, stream := s.takeResourcesLocked()
	s.mu.Unlock()

	closeResources(transport, channel, track, stream)

	if wasState == domain.ConnectionStateDisconnected {
		return
	}
	if wasListening {
		s.notifyListening(false)
	}
	s.notifyState(domain.ConnectionStateDisconnected)
	s.notifyStatus(domain.StatusDisconnected)
}

// StartListening connects first if necessary, then enables the capture
// track and starts forwarding transcripts. It is a no-op when already
// listening, or when the connect attempt does not reach Connected.
func (s *Session) StartListening(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	state := s.state
	s.mu.Unlock()

	if state == domain.ConnectionStateDisconnected {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.state != domain.ConnectionStateConnected || s.listening {
		s.mu.Unlock()
		return nil
	}
	if s.track != nil {
		s.track.SetEnabled(true)
	}
	s.listening = true
	s.mu.Unlock()

	s.reconciler.Reset()
	s.notifyListening(true)
	return nil
}

// StopOptions tunes StopListening.
type StopOptions struct {
	// Silent suppresses the listening-state notification. Used during
	// teardown to avoid duplicate status events.
	Silent bool
}

// StopListening disables the capture track. No-op when not listening.
func (s *Session) StopListening(opts StopOptions) {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = false
	if s.track != nil {
		s.track.SetEnabled(false)
	}
	s.mu.Unlock()

	if !opts.Silent {
		s.notifyListening(false)
	}
}

// Dispose disconnects and permanently discards the callback
// registration. No callback fires after Dispose returns.
func (s *Session) Dispose() {
	s.Disconnect()
	s.mu.Lock()
	s.disposed = true
	s.listener = nil
	s.mu.Unlock()
}

// attempt carries the open/fail signals of one connect attempt.
type attempt struct {
	opened   chan struct{}
	failed   chan struct{}
	openOnce sync.Once
	failOnce sync.Once
}

func newAttempt() *attempt {
	return &attempt{opened: make(chan struct{}), failed: make(chan struct{})}
}

func (a *attempt) open() { a.openOnce.Do(func() { close(a.opened) }) }
func (a *attempt) fail() { a.failOnce.Do(func() { close(a.failed) }) }

func (s *Session) connectPeer(ctx context.Context, gen uint64) error {
	s.notifyStatus(domain.StatusRequestingMicrophone)
	track, err := s.deps.Media.Track(ctx, s.cfg.Capture)
	if err != nil {
		return &codedError{code: domain.ErrorCodeCapture, err: err}
	}
	if !s.current(gen) {
		_ = track.Stop()
		return nil
	}

	s.notifyStatus(domain.StatusBuildingConnection)
	transport, err := s.deps.Transports.NewTransport()
	if err != nil {
		_ = track.Stop()
		return fmt.Errorf("create peer transport: %w", err)
	}
	abandon := func() {
		_ = track.Stop()
		_ = transport.Close()
	}
	if !s.current(gen) {
		abandon()
		return nil
	}
	if err := transport.AttachTrack(track); err != nil {
		abandon()
		return fmt.Errorf("attach capture track: %w", err)
	}

	channel, err := transport.CreateDataChannel(eventsChannelLabel)
	if err != nil {
		abandon()
		return fmt.Errorf("create data channel: %w", err)
	}
	att := newAttempt()
	s.bindChannel(channel, gen, att)
	transport.OnStateChange(func(state domain.TransportState) {
		s.handleTransportState(gen, att, state)
	})
	if !s.current(gen) {
		abandon()
		return nil
	}

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		abandon()
		return fmt.Errorf("create offer: %w", err)
	}
	if !s.current(gen) {
		abandon()
		return nil
	}

	s.notifyStatus(domain.StatusExchangingSDP)
	answer, err := s.deps.Signaler.Exchange(ctx, s.secret, offer)
	if err != nil {
		abandon()
		return fmt.Errorf("signaling exchange: %w", err)
	}
	if !s.current(gen) {
		abandon()
		return nil
	}
	if err := transport.AcceptAnswer(answer); err != nil {
		abandon()
		return fmt.Errorf("apply remote answer: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		abandon()
		return nil
	}
	s.transport = transport
	s.channel = channel
	s.track = track
	s.mu.Unlock()

	s.notifyStatus(domain.StatusWaitingForChannel)
	return s.awaitOpen(ctx, gen, att)
}

func (s *Session) connectSocket(ctx context.Context, gen uint64) error {
	s.notifyStatus(domain.StatusRequestingMicrophone)
	stream, err := s.deps.Media.Stream(ctx, s.cfg.Capture)
	if err != nil {
		return &codedError{code: domain.ErrorCodeCapture, err: err}
	}
	if !s.current(gen) {
		_ = stream.Stop()
		return nil
	}

	s.notifyStatus(domain.StatusBuildingConnection)
	channel, err := s.deps.Channels.Dial(ctx, s.secret)
	if err != nil {
		_ = stream.Stop()
		return fmt.Errorf("dial realtime socket: %w", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		_ = stream.Stop()
		_ = channel.Close()
		return nil
	}
	s.channel = channel
	s.stream = stream
	s.mu.Unlock()

	att := newAttempt()
	s.notifyStatus(domain.StatusWaitingForChannel)
	s.bindChannel(channel, gen, att)
	go s.pumpAudio(gen, channel, stream)
	return s.awaitOpen(ctx, gen, att)
}

// awaitOpen blocks until the data channel reports open. There is no
// internal timeout; a stalled step holds the attempt until the caller's
// context expires or a newer attempt supersedes it.
func (s *Session) awaitOpen(ctx context.Context, gen uint64, att *attempt) error {
	select {
	case <-att.opened:
		return nil
	case <-att.failed:
		if s.current(gen) {
			s.releaseAttempt(gen)
			return errors.New("connection closed before the data channel opened")
		}
		return nil
	case <-ctx.Done():
		if s.current(gen) {
			s.releaseAttempt(gen)
			return ctx.Err()
		}
		return nil
	}
}

func (s *Session) bindChannel(channel ports.DataChannel, gen uint64, att *attempt) {
	channel.Handle(
		func() {
			s.handleChannelOpen(gen, channel)
			att.open()
		},
		func(payload []byte) {
			s.handleMessage(gen, channel, payload)
		},
		func() {
			att.fail()
			s.handleChannelClosed(gen)
		},
	)
}

func (s *Session) handleChannelOpen(gen uint64, channel ports.DataChannel) {
	s.mu.Lock()
	if s.generation != gen || s.disposed {
		s.mu.Unlock()
		return
	}
	s.state = domain.ConnectionStateConnected
	s.mu.Unlock()

	s.reconciler.Reset()
	s.notifyState(domain.ConnectionStateConnected)
	s.notifyStatus(domain.StatusConfiguring)

	payload, err := codec.SessionUpdate(s.cfg.Remote)
	if err != nil {
		s.deps.Log.Error("encode session.update", "err", err)
		return
	}
	if err := channel.Send(payload); err != nil {
		s.deps.Log.Error("send session.update", "err", err)
	}
}

func (s *Session) handleMessage(gen uint64, channel ports.DataChannel, payload []byte) {
	if !s.current(gen) {
		return
	}

	switch ev := codec.Decode(payload).(type) {
	case codec.ErrorEvent:
		s.notifyError(domain.ErrorCodeProtocol, ev.Message)
		s.notifyStatus("Error: " + ev.Message)
	case codec.ResponseCreated:
		// Transcription-only: never let the remote speak back.
		cancel, err := codec.ResponseCancel(ev.ResponseID)
		if err == nil {
			if err := channel.Send(cancel); err != nil {
				s.deps.Log.Error("send response.cancel", "err", err)
			}
		}
	case codec.TranscriptDelta:
		s.reconciler.Delta(ev.ItemID, ev.Delta)
	case codec.TranscriptCompleted:
		s.reconciler.Final(ev.ItemID, ev.Text)
	case codec.SessionUpdated:
		s.notifyStatus(domain.StatusReady)
	case codec.Unknown:
		s.deps.Log.Debug("ignoring unrecognized event", "type", ev.Type)
	}
}

// handleChannelClosed reacts to the channel closing underneath a
// Connected session. Closure during negotiation is handled by the
// attempt's fail signal instead.
func (s *Session) handleChannelClosed(gen uint64) {
	s.teardownUnexpected(gen)
}

func (s *Session) handleTransportState(gen uint64, att *attempt, state domain.TransportState) {
	if !state.Terminal() {
		return
	}
	att.fail()
	s.teardownUnexpected(gen)
}

// teardownUnexpected handles transport loss while Connected: a full
// teardown with a status update but no error callback.
func (s *Session) teardownUnexpected(gen uint64) {
	s.mu.Lock()
	if s.generation != gen || s.state != domain.ConnectionStateConnected {
		s.mu.Unlock()
		return
	}
	s.generation++
	wasListening := s.listening
	s.state = domain.ConnectionStateDisconnected
	s.listening = false
	transport, channel, track, stream := s.takeResourcesLocked()
	s.mu.Unlock()

	s.deps.Log.Debug("transport lost while connected", "generation", gen)
	closeResources(transport, channel, track, stream)

	if wasListening {
		s.notifyListening(false)
	}
	s.notifyState(domain.ConnectionStateDisconnected)
	s.notifyStatus(domain.StatusDisconnected)
}

// releaseAttempt closes the resources this attempt committed without
// emitting state callbacks; the caller owns the failure reporting.
func (s *Session) releaseAttempt(gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	transport, channel, track, stream := s.takeResourcesLocked()
	s.mu.Unlock()
	closeResources(transport, channel, track, stream)
}

func (s *Session) takeResourcesLocked() (ports.PeerTransport, ports.DataChannel, ports.CaptureTrack, ports.AudioStream) {
	transport, channel, track, stream := s.transport, s.channel, s.track, s.stream
	s.transport, s.channel, s.track, s.stream = nil, nil, nil, nil
	return transport, channel, track, stream
}

func closeResources(transport ports.PeerTransport, channel ports.DataChannel, track ports.CaptureTrack, stream ports.AudioStream) {
	if track != nil {
		_ = track.Stop()
	}
	if stream != nil {
		_ = stream.Stop()
	}
	if channel != nil {
		_ = channel.Close()
	}
	if transport != nil {
		_ = transport.Close()
	}
}

// pumpAudio forwards capture PCM as append events while listening.
// Frames read while not listening are dropped, mirroring a disabled
// capture track.
func (s *Session) pumpAudio(gen uint64, channel ports.DataChannel, stream ports.AudioStream) {
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 && s.currentListening(gen) {
			payload, encErr := codec.AudioAppend(buf[:n])
			if encErr != nil {
				s.deps.Log.Error("encode audio append", "err", encErr)
			} else if sendErr := channel.Send(payload); sendErr != nil {
				s.deps.Log.Debug("audio pump stopped", "err", sendErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.deps.Log.Debug("capture stream ended", "err", err)
			}
			return
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && !s.disposed
}

func (s *Session) currentListening(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.listening && !s.disposed
}

func (s *Session) emitDelta(text string) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil && l.OnDelta != nil {
		l.OnDelta(text)
	}
}

func (s *Session) emitFinal(text string) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil && l.OnFinal != nil {
		l.OnFinal(text)
	}
}

func (s *Session) notifyState(state domain.ConnectionState) {
	if s.isDisposed() {
		return
	}
	s.deps.Events.ConnectionStateChanged(state)
}

func (s *Session) notifyListening(listening bool) {
	if s.isDisposed() {
		return
	}
	s.deps.Events.ListeningChanged(listening)
}

func (s *Session) notifyStatus(status string) {
	if s.isDisposed() {
		return
	}
	s.deps.Events.StatusChanged(status)
}

func (s *Session) notifyError(code domain.ErrorCode, detail string) {
	if s.isDisposed() {
		return
	}
	s.deps.Events.SessionError(code, detail)
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// codedError tags an error with the callback error code it should
// surface under.
type codedError struct {
	code domain.ErrorCode
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func errorCode(err error) domain.ErrorCode {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return domain.ErrorCodeNegotiation
}

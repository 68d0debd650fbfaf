package ports

import (
	"context"
	"io"

	"github.com/pion/webrtc/v4"

	"murmur/internal/domain"
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// CaptureTrack is a live microphone track attachable to a peer
// transport. Tracks start disabled; no audio flows until enabled.
type CaptureTrack interface {
	Local() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Stop() error
}

// AudioStream is a live PCM capture stream (s16le), used by the
// websocket transport mode.
type AudioStream interface {
	io.ReadCloser
	Stop() error
}

// MediaCapture creates microphone capture sessions.
type MediaCapture interface {
	// Supported reports synchronously whether capture is possible in
	// this environment at all.
	Supported() bool
	Track(ctx context.Context, cfg CaptureConfig) (CaptureTrack, error)
	Stream(ctx context.Context, cfg CaptureConfig) (AudioStream, error)
}

// DataChannel is a reliable, ordered, bidirectional message channel.
type DataChannel interface {
	// Handle binds the channel callbacks. It must be called exactly
	// once, before the channel can report open.
	Handle(onOpen func(), onMessage func(payload []byte), onClose func())
	Send(payload []byte) error
	Close() error
}

// PeerTransport is the negotiation surface of the realtime media stack.
type PeerTransport interface {
	AttachTrack(track CaptureTrack) error
	CreateDataChannel(label string) (DataChannel, error)
	// CreateOffer builds the local session description, applies it, and
	// returns its SDP text.
	CreateOffer(ctx context.Context) (string, error)
	AcceptAnswer(sdp string) error
	OnStateChange(fn func(state domain.TransportState))
	Close() error
}

// TransportDialer creates peer transports, one per connect attempt.
type TransportDialer interface {
	NewTransport() (PeerTransport, error)
}

// Signaler exchanges a local offer for a remote answer.
type Signaler interface {
	Exchange(ctx context.Context, secret string, offerSDP string) (string, error)
}

// ChannelDialer opens a data channel directly, without peer
// negotiation. Used by the websocket transport mode.
type ChannelDialer interface {
	Dial(ctx context.Context, secret string) (DataChannel, error)
}

// CredentialStore holds the single API secret. Change notifications may
// arrive from any goroutine.
type CredentialStore interface {
	Get() (secret string, ok bool)
	Set(secret string)
	Clear()
	Subscribe(fn func(secret string, ok bool)) (unsubscribe func())
}

// EventSink receives engine state changes for the host.
type EventSink interface {
	ConnectionStateChanged(state domain.ConnectionState)
	ListeningChanged(listening bool)
	StatusChanged(status string)
	SessionError(code domain.ErrorCode, detail string)
}

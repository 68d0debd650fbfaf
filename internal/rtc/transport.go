// Package rtc adapts pion/webrtc to the peer transport port.
package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

const defaultSTUNServer = "stun:stun.l.google.com:19302"

// Config controls the ICE setup of new peer connections.
type Config struct {
	STUNServers []string
}

// Dialer creates one peer connection per connect attempt.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = []string{defaultSTUNServer}
	}
	return &Dialer{cfg: cfg}
}

func (d *Dialer) NewTransport() (ports.PeerTransport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: d.cfg.STUNServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &transport{pc: pc}, nil
}

type transport struct {
	pc *webrtc.PeerConnection
}

func (t *transport) AttachTrack(track ports.CaptureTrack) error {
	if _, err := t.pc.AddTrack(track.Local()); err != nil {
		return fmt.Errorf("add capture track: %w", err)
	}
	return nil
}

func (t *transport) CreateDataChannel(label string) (ports.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return &dataChannel{dc: dc}, nil
}

// CreateOffer builds and applies the local description, then waits for
// ICE gathering to complete so the SDP carries all candidates.
func (t *transport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := t.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after gathering")
	}
	return local.SDP, nil
}

func (t *transport) AcceptAnswer(sdp string) error {
	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *transport) OnStateChange(fn func(state domain.TransportState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if mapped, ok := mapPeerState(state); ok {
			fn(mapped)
		}
	})
}

func (t *transport) Close() error {
	return t.pc.Close()
}

// mapPeerState reduces pion's state machine to the signals the session
// reacts to; intermediate states are dropped.
func mapPeerState(state webrtc.PeerConnectionState) (domain.TransportState, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportStateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportStateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportStateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportStateClosed, true
	}
	return "", false
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (c *dataChannel) Handle(onOpen func(), onMessage func(payload []byte), onClose func()) {
	c.dc.OnOpen(onOpen)
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		onMessage(msg.Data)
	})
	c.dc.OnClose(onClose)
}

func (c *dataChannel) Send(payload []byte) error {
	return c.dc.SendText(string(payload))
}

func (c *dataChannel) Close() error {
	return c.dc.Close()
}

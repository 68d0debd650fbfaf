package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"murmur/internal/ports"
)

// Dialer opens the realtime event channel directly over a websocket,
// for hosts that skip WebRTC media negotiation.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context, secret string) (ports.DataChannel, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("realtime API key is not configured")
	}

	wsURL, err := buildRealtimeURL(d.cfg, "wss")
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+secret)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := *websocket.DefaultDialer
	if d.cfg.DialTimeout > 0 {
		dialer.HandshakeTimeout = d.cfg.DialTimeout
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to realtime websocket: %w", err)
	}
	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts a websocket connection to the data channel surface.
// A websocket is open as soon as the handshake succeeds, so Handle
// reports open immediately and then pumps incoming messages.
type wsChannel struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsChannel) Handle(onOpen func(), onMessage func(payload []byte), onClose func()) {
	onOpen()
	go c.readLoop(onMessage, onClose)
}

func (c *wsChannel) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send realtime event: %w", err)
	}
	return nil
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func closeDeadline() time.Time { return time.Now().Add(2 * time.Second) }

func (c *wsChannel) readLoop(onMessage func(payload []byte), onClose func()) {
	defer onClose()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(payload)
	}
}

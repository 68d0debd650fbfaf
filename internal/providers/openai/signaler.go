// Package openai talks to the OpenAI realtime transcription endpoint,
// either over WebRTC signaling or a direct websocket.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1/realtime"

// Config controls the realtime endpoint settings.
type Config struct {
	BaseURL     string
	Model       string
	DialTimeout time.Duration
}

func (c Config) baseURL() string {
	if strings.TrimSpace(c.BaseURL) == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// Signaler exchanges a local SDP offer for the remote answer over HTTP.
type Signaler struct {
	cfg    Config
	client *http.Client
}

func NewSignaler(cfg Config) *Signaler {
	client := &http.Client{}
	if cfg.DialTimeout > 0 {
		client.Timeout = cfg.DialTimeout
	}
	return &Signaler{cfg: cfg, client: client}
}

func (s *Signaler) Exchange(ctx context.Context, secret string, offerSDP string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("realtime API key is not configured")
	}

	endpoint, err := buildRealtimeURL(s.cfg, "https")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("realtime signaling request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read signaling response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			return "", fmt.Errorf("realtime signaling failed: %s", resp.Status)
		}
		return "", fmt.Errorf("realtime signaling failed: %s: %s", resp.Status, detail)
	}

	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", errors.New("realtime signaling returned an empty answer")
	}
	return answer, nil
}

// buildRealtimeURL rewrites the configured base URL to the wanted
// scheme ("https" or "wss") and appends the model query parameter.
func buildRealtimeURL(cfg Config, scheme string) (string, error) {
	base := cfg.baseURL()
	if strings.HasPrefix(base, "https://") {
		base = scheme + "://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		insecure := scheme
		if scheme == "wss" {
			insecure = "ws"
		}
		base = insecure + "://" + strings.TrimPrefix(base, "http://")
	}

	endpoint, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid realtime base URL: %w", err)
	}
	if cfg.Model != "" {
		query := endpoint.Query()
		query.Set("model", cfg.Model)
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

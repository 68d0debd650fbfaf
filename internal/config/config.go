// Package config resolves runtime configuration from environment
// variables and an optional murmur.yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores runtime configuration for the transcriber.
type Config struct {
	APIKey   string
	Realtime RealtimeConfig
	Audio    AudioConfig
	VAD      VADConfig
	Session  SessionConfig
}

type RealtimeConfig struct {
	URL         string
	Model       string
	Transport   string
	DialTimeout time.Duration
}

type AudioConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

type VADConfig struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

type SessionConfig struct {
	ChunkSize int
}

// Load reads MURMUR_* environment variables and, when present, a
// murmur.yaml from the working directory, the user config directory, or
// MURMUR_CONFIG_DIR.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("realtime.model", "gpt-4o-mini-transcribe")
	v.SetDefault("realtime.transport", "webrtc")
	v.SetDefault("realtime.dial_timeout", "10s")
	v.SetDefault("audio.command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("vad.threshold", 0.5)
	v.SetDefault("vad.prefix_padding_ms", 300)
	v.SetDefault("vad.silence_duration_ms", 500)
	v.SetDefault("session.chunk_size", 4096)

	v.SetConfigName("murmur")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := strings.TrimSpace(os.Getenv("MURMUR_CONFIG_DIR")); dir != "" {
		v.AddConfigPath(dir)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "murmur"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	apiKey := strings.TrimSpace(v.GetString("api_key"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	cfg := Config{
		APIKey: apiKey,
		Realtime: RealtimeConfig{
			URL:         strings.TrimSpace(v.GetString("realtime.url")),
			Model:       v.GetString("realtime.model"),
			Transport:   strings.ToLower(strings.TrimSpace(v.GetString("realtime.transport"))),
			DialTimeout: v.GetDuration("realtime.dial_timeout"),
		},
		Audio: AudioConfig{
			Command:     v.GetString("audio.command"),
			InputFormat: v.GetString("audio.input_format"),
			InputDevice: v.GetString("audio.input_device"),
			SampleRate:  v.GetInt("audio.sample_rate"),
			Channels:    v.GetInt("audio.channels"),
		},
		VAD: VADConfig{
			Threshold:         v.GetFloat64("vad.threshold"),
			PrefixPaddingMs:   v.GetInt("vad.prefix_padding_ms"),
			SilenceDurationMs: v.GetInt("vad.silence_duration_ms"),
		},
		Session: SessionConfig{
			ChunkSize: v.GetInt("session.chunk_size"),
		},
	}

	if cfg.Realtime.Transport != "websocket" {
		cfg.Realtime.Transport = "webrtc"
	}
	if cfg.Realtime.DialTimeout < 0 {
		cfg.Realtime.DialTimeout = 0
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 24000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold > 1 {
		cfg.VAD.Threshold = 0.5
	}
	if cfg.VAD.PrefixPaddingMs < 0 {
		cfg.VAD.PrefixPaddingMs = 300
	}
	if cfg.VAD.SilenceDurationMs < 0 {
		cfg.VAD.SilenceDurationMs = 500
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}

	return cfg, nil
}

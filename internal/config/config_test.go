package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MURMUR_CONFIG_DIR", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.APIKey != "" {
		t.Fatalf("expected empty api key, got %q", cfg.APIKey)
	}
	if cfg.Realtime.Model != "gpt-4o-mini-transcribe" {
		t.Fatalf("unexpected model %q", cfg.Realtime.Model)
	}
	if cfg.Realtime.Transport != "webrtc" {
		t.Fatalf("unexpected transport %q", cfg.Realtime.Transport)
	}
	if cfg.Realtime.DialTimeout != 10*time.Second {
		t.Fatalf("unexpected dial timeout %v", cfg.Realtime.DialTimeout)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.VAD.Threshold != 0.5 {
		t.Fatalf("unexpected vad threshold %v", cfg.VAD.Threshold)
	}
	if cfg.Session.ChunkSize != 4096 {
		t.Fatalf("unexpected chunk size %d", cfg.Session.ChunkSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MURMUR_CONFIG_DIR", t.TempDir())
	t.Setenv("MURMUR_API_KEY", "sk-env")
	t.Setenv("MURMUR_REALTIME_TRANSPORT", "websocket")
	t.Setenv("MURMUR_REALTIME_DIAL_TIMEOUT", "3s")
	t.Setenv("MURMUR_AUDIO_SAMPLE_RATE", "16000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.APIKey != "sk-env" {
		t.Fatalf("unexpected api key %q", cfg.APIKey)
	}
	if cfg.Realtime.Transport != "websocket" {
		t.Fatalf("unexpected transport %q", cfg.Realtime.Transport)
	}
	if cfg.Realtime.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout %v", cfg.Realtime.DialTimeout)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", cfg.Audio.SampleRate)
	}
}

func TestLoadFallsBackToOpenAIKey(t *testing.T) {
	t.Setenv("MURMUR_CONFIG_DIR", t.TempDir())
	t.Setenv("MURMUR_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIKey != "sk-fallback" {
		t.Fatalf("unexpected api key %q", cfg.APIKey)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(
		"api_key: sk-file\n" +
			"realtime:\n" +
			"  model: gpt-4o-transcribe\n" +
			"vad:\n" +
			"  silence_duration_ms: 800\n",
	)
	if err := os.WriteFile(filepath.Join(dir, "murmur.yaml"), contents, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MURMUR_CONFIG_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.APIKey != "sk-file" {
		t.Fatalf("unexpected api key %q", cfg.APIKey)
	}
	if cfg.Realtime.Model != "gpt-4o-transcribe" {
		t.Fatalf("unexpected model %q", cfg.Realtime.Model)
	}
	if cfg.VAD.SilenceDurationMs != 800 {
		t.Fatalf("unexpected silence duration %d", cfg.VAD.SilenceDurationMs)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	t.Setenv("MURMUR_CONFIG_DIR", t.TempDir())
	t.Setenv("MURMUR_REALTIME_TRANSPORT", "carrier-pigeon")
	t.Setenv("MURMUR_VAD_THRESHOLD", "7.5")
	t.Setenv("MURMUR_SESSION_CHUNK_SIZE", "16")
	t.Setenv("MURMUR_AUDIO_CHANNELS", "-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Realtime.Transport != "webrtc" {
		t.Fatalf("unknown transport must fall back to webrtc, got %q", cfg.Realtime.Transport)
	}
	if cfg.VAD.Threshold != 0.5 {
		t.Fatalf("out-of-range threshold must clamp, got %v", cfg.VAD.Threshold)
	}
	if cfg.Session.ChunkSize != 4096 {
		t.Fatalf("tiny chunk size must clamp, got %d", cfg.Session.ChunkSize)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("negative channels must clamp, got %d", cfg.Audio.Channels)
	}
}

package bootstrap

import (
	"github.com/charmbracelet/log"

	"murmur/internal/audio"
	"murmur/internal/codec"
	"murmur/internal/config"
	"murmur/internal/ports"
	"murmur/internal/providers/openai"
	"murmur/internal/rtc"
	"murmur/internal/store"
	"murmur/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.Orchestrator
	Store        ports.CredentialStore
	Config       config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, logger *log.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	keyStore := store.NewKeyStore(cfg.APIKey)
	endpoint := openai.Config{
		BaseURL:     cfg.Realtime.URL,
		Model:       cfg.Realtime.Model,
		DialTimeout: cfg.Realtime.DialTimeout,
	}

	orchestrator := usecase.NewOrchestrator(
		usecase.SessionConfig{
			Transport: cfg.Realtime.Transport,
			Capture: ports.CaptureConfig{
				Command:     cfg.Audio.Command,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
			},
			Remote: codec.SessionConfig{
				Model: cfg.Realtime.Model,
				VAD: codec.VADConfig{
					Threshold:         cfg.VAD.Threshold,
					PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
					SilenceDurationMs: cfg.VAD.SilenceDurationMs,
				},
			},
			ChunkSize: cfg.Session.ChunkSize,
		},
		usecase.OrchestratorDeps{
			Store:      keyStore,
			Media:      audio.NewFFMPEGCapture(cfg.Audio.Command),
			Transports: rtc.NewDialer(rtc.Config{}),
			Signaler:   openai.NewSignaler(endpoint),
			Channels:   openai.NewDialer(endpoint),
			Events:     eventSink,
			Log:        logger,
		},
	)

	return Services{Orchestrator: orchestrator, Store: keyStore, Config: cfg}, nil
}

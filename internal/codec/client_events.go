package codec

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
)

// SessionConfig is the session.update payload sent once per connection.
type SessionConfig struct {
	Instructions string
	Model        string
	VAD          VADConfig
}

// VADConfig tunes server-side voice-activity turn detection.
type VADConfig struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

type sessionUpdate struct {
	EventID string         `json:"event_id"`
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Instructions            string        `json:"instructions,omitempty"`
	InputAudioTranscription transcription `json:"input_audio_transcription"`
	TurnDetection           turnDetection `json:"turn_detection"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// SessionUpdate encodes the session configuration event. Generative
// responses stay disabled so the remote never speaks back.
func SessionUpdate(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(sessionUpdate{
		EventID: uuid.NewString(),
		Type:    "session.update",
		Session: sessionPayload{
			Instructions:            cfg.Instructions,
			InputAudioTranscription: transcription{Model: cfg.Model},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         cfg.VAD.Threshold,
				PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
				SilenceDurationMs: cfg.VAD.SilenceDurationMs,
				CreateResponse:    false,
				InterruptResponse: false,
			},
		},
	})
}

type responseCancel struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// ResponseCancel encodes a cancel request for an unsolicited response.
func ResponseCancel(responseID string) ([]byte, error) {
	return json.Marshal(responseCancel{
		EventID:    uuid.NewString(),
		Type:       "response.cancel",
		ResponseID: responseID,
	})
}

type audioAppend struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

// AudioAppend encodes one PCM chunk for the websocket transport mode.
func AudioAppend(pcm []byte) ([]byte, error) {
	return json.Marshal(audioAppend{
		EventID: uuid.NewString(),
		Type:    "input_audio_buffer.append",
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
}

// Package codec parses and builds the JSON event protocol carried over
// the realtime data channel.
package codec

import "encoding/json"

// DefaultItemID correlates simplified delta/completed events that carry
// no item id of their own.
const DefaultItemID = "default"

// Event is one recognized inbound protocol event. Anything the decoder
// does not recognize becomes Unknown, which handlers must treat as a
// no-op.
type Event interface {
	isEvent()
}

// ErrorEvent is a protocol-level error report. It does not affect
// connection state.
type ErrorEvent struct {
	Message string
}

// ResponseCreated means the remote opened a generative response. The
// session must cancel it; this engine is transcription-only.
type ResponseCreated struct {
	ResponseID string
}

// TranscriptDelta is an incremental transcript chunk for one item.
type TranscriptDelta struct {
	ItemID string
	Delta  string
}

// TranscriptCompleted carries the final text for one item.
type TranscriptCompleted struct {
	ItemID string
	Text   string
}

// SessionUpdated acknowledges the session configuration.
type SessionUpdated struct{}

// Unknown is the fallback for unrecognized or malformed payloads.
type Unknown struct {
	Type string
}

func (ErrorEvent) isEvent()          {}
func (ResponseCreated) isEvent()     {}
func (TranscriptDelta) isEvent()     {}
func (TranscriptCompleted) isEvent() {}
func (SessionUpdated) isEvent()      {}
func (Unknown) isEvent()             {}

type envelope struct {
	Type    string `json:"type"`
	ItemID  string `json:"item_id"`
	Delta   string `json:"delta"`
	Text    string `json:"text"`
	Message string `json:"message"`

	Transcript string `json:"transcript"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error"`

	Response *struct {
		ID string `json:"id"`
	} `json:"response"`
}

// Decode parses one inbound channel message. Protocol noise is
// expected: non-object or malformed payloads decode to Unknown.
func Decode(payload []byte) Event {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Unknown{}
	}

	switch env.Type {
	case "error", "response.error":
		return ErrorEvent{Message: errorMessage(env)}

	case "response.created":
		id := ""
		if env.Response != nil {
			id = env.Response.ID
		}
		return ResponseCreated{ResponseID: id}

	case "conversation.item.input_audio_transcription.delta":
		return TranscriptDelta{ItemID: itemID(env), Delta: env.Delta}

	case "transcript.delta":
		delta := env.Delta
		if delta == "" {
			delta = env.Text
		}
		return TranscriptDelta{ItemID: itemID(env), Delta: delta}

	case "conversation.item.input_audio_transcription.completed",
		"transcript.completed":
		return TranscriptCompleted{ItemID: itemID(env), Text: finalText(env)}

	case "session.updated":
		return SessionUpdated{}
	}

	return Unknown{Type: env.Type}
}

func itemID(env envelope) string {
	if env.ItemID == "" {
		return DefaultItemID
	}
	return env.ItemID
}

func finalText(env envelope) string {
	if env.Transcript != "" {
		return env.Transcript
	}
	return env.Text
}

func errorMessage(env envelope) string {
	if env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	if env.Message != "" {
		return env.Message
	}
	return "unknown"
}

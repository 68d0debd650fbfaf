package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDecodeErrorEvents(t *testing.T) {
	t.Parallel()

	ev := Decode([]byte(`{"type":"error","error":{"message":"bad session"}}`))
	if got, ok := ev.(ErrorEvent); !ok || got.Message != "bad session" {
		t.Fatalf("unexpected event: %#v", ev)
	}

	ev = Decode([]byte(`{"type":"response.error","message":"flat message"}`))
	if got, ok := ev.(ErrorEvent); !ok || got.Message != "flat message" {
		t.Fatalf("unexpected event: %#v", ev)
	}

	ev = Decode([]byte(`{"type":"error"}`))
	if got, ok := ev.(ErrorEvent); !ok || got.Message != "unknown" {
		t.Fatalf("expected unknown message fallback, got %#v", ev)
	}
}

func TestDecodeResponseCreated(t *testing.T) {
	t.Parallel()

	ev := Decode([]byte(`{"type":"response.created","response":{"id":"resp_1"}}`))
	if got, ok := ev.(ResponseCreated); !ok || got.ResponseID != "resp_1" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestDecodeDeltaShapes(t *testing.T) {
	t.Parallel()

	ev := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"it1","delta":"Hel"}`))
	if got, ok := ev.(TranscriptDelta); !ok || got.ItemID != "it1" || got.Delta != "Hel" {
		t.Fatalf("unexpected event: %#v", ev)
	}

	ev = Decode([]byte(`{"type":"transcript.delta","text":"lo "}`))
	if got, ok := ev.(TranscriptDelta); !ok || got.ItemID != DefaultItemID || got.Delta != "lo " {
		t.Fatalf("expected default item id, got %#v", ev)
	}
}

func TestDecodeCompletedShapes(t *testing.T) {
	t.Parallel()

	ev := Decode([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"it1","transcript":"Hello world"}`))
	if got, ok := ev.(TranscriptCompleted); !ok || got.ItemID != "it1" || got.Text != "Hello world" {
		t.Fatalf("unexpected event: %#v", ev)
	}

	ev = Decode([]byte(`{"type":"transcript.completed","text":"done"}`))
	if got, ok := ev.(TranscriptCompleted); !ok || got.ItemID != DefaultItemID || got.Text != "done" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestDecodeSessionUpdated(t *testing.T) {
	t.Parallel()

	if _, ok := Decode([]byte(`{"type":"session.updated"}`)).(SessionUpdated); !ok {
		t.Fatalf("expected SessionUpdated")
	}
}

func TestDecodeNoiseIsUnknown(t *testing.T) {
	t.Parallel()

	cases := []string{
		`not json at all`,
		`"a bare string"`,
		`[1,2,3]`,
		`{"type":"rate_limits.updated"}`,
		`{}`,
	}
	for _, payload := range cases {
		if _, ok := Decode([]byte(payload)).(Unknown); !ok {
			t.Fatalf("expected Unknown for %q", payload)
		}
	}
}

func TestSessionUpdateShape(t *testing.T) {
	t.Parallel()

	payload, err := SessionUpdate(SessionConfig{
		Instructions: "transcribe only",
		Model:        "gpt-4o-mini-transcribe",
		VAD:          VADConfig{Threshold: 0.5, PrefixPaddingMs: 300, SilenceDurationMs: 500},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got["type"] != "session.update" {
		t.Fatalf("unexpected type: %v", got["type"])
	}
	if got["event_id"] == "" {
		t.Fatalf("expected event id")
	}

	session := got["session"].(map[string]any)
	if session["input_audio_transcription"].(map[string]any)["model"] != "gpt-4o-mini-transcribe" {
		t.Fatalf("unexpected model: %v", session)
	}
	td := session["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Fatalf("unexpected turn detection: %v", td)
	}
	if td["create_response"] != false || td["interrupt_response"] != false {
		t.Fatalf("expected responses disabled: %v", td)
	}
}

func TestResponseCancelShape(t *testing.T) {
	t.Parallel()

	payload, err := ResponseCancel("resp_9")
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got["type"] != "response.cancel" || got["response_id"] != "resp_9" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestAudioAppendEncodesBase64(t *testing.T) {
	t.Parallel()

	payload, err := AudioAppend([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got["type"] != "input_audio_buffer.append" {
		t.Fatalf("unexpected type: %v", got["type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(got["audio"].(string))
	if err != nil || len(decoded) != 3 || decoded[0] != 0x01 {
		t.Fatalf("unexpected audio payload: %v %v", got["audio"], err)
	}
}

package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseServerEvent_Delta(t *testing.T) {
	raw := []byte(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"item_1","delta":"hel"}`)

	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind() != EventTypeDelta {
		t.Errorf("expected kind %q, got %q", EventTypeDelta, ev.Kind())
	}
	if ev.DeltaText() != "hel" {
		t.Errorf("expected delta text %q, got %q", "hel", ev.DeltaText())
	}
	if ev.ItemID != "item_1" {
		t.Errorf("expected item id item_1, got %q", ev.ItemID)
	}
}

func TestParseServerEvent_DeltaTextFallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"delta field", `{"delta":"a"}`, "a"},
		{"text field", `{"text":"b"}`, "b"},
		{"transcript field", `{"transcript":"c"}`, "c"},
		{"delta wins over text", `{"delta":"a","text":"b"}`, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseServerEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := ev.DeltaText(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseServerEvent_FinalTextFromContent(t *testing.T) {
	raw := []byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_2","content":[{"type":"input_audio","transcript":"hello world"}]}`)

	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.FinalText() != "hello world" {
		t.Errorf("expected final text from content, got %q", ev.FinalText())
	}
}

func TestParseServerEvent_EventFieldSpelling(t *testing.T) {
	raw := []byte(`{"event":"conversation.item.input_audio_transcription.completed"}`)

	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind() != EventTypeCompleted {
		t.Errorf("expected completed kind via event field, got %q", ev.Kind())
	}
}

func TestParseServerEvent_Error(t *testing.T) {
	raw := []byte(`{"type":"error","error":{"code":"session_expired","message":"session expired"}}`)

	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.IsError() {
		t.Error("expected error event")
	}
	if ev.ErrorCode() != "session_expired" {
		t.Errorf("expected error code session_expired, got %q", ev.ErrorCode())
	}
	if ev.ErrorMessage() != "session expired" {
		t.Errorf("expected error message, got %q", ev.ErrorMessage())
	}
}

func TestParseServerEvent_UnknownTypeIsNotError(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.created"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.IsError() {
		t.Error("unknown event type should not be treated as error")
	}
}

func TestNewSessionUpdate(t *testing.T) {
	update := NewSessionUpdate(CaptureSettings{
		Model:        "gpt-4o-transcribe",
		Language:     "en",
		VADThreshold: 0.5,
		VADSilenceMs: 400,
		VADPrefixMs:  300,
	})

	if update.Type != EventTypeSessionUpdate {
		t.Errorf("expected type %q, got %q", EventTypeSessionUpdate, update.Type)
	}
	input := update.Session.Audio.Input
	if input.Transcription.Model != "gpt-4o-transcribe" {
		t.Errorf("unexpected model %q", input.Transcription.Model)
	}
	if input.Transcription.Language != "en" {
		t.Errorf("unexpected language %q", input.Transcription.Language)
	}
	if input.TurnDetection.Type != "server_vad" {
		t.Errorf("unexpected turn detection type %q", input.TurnDetection.Type)
	}
	if input.TurnDetection.CreateResponse {
		t.Error("create_response must stay false for transcription-only sessions")
	}
}

func TestNewSessionUpdate_AutoLanguageOmitted(t *testing.T) {
	update := NewSessionUpdate(CaptureSettings{Language: "auto"})

	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session := decoded["session"].(map[string]any)
	audio := session["audio"].(map[string]any)
	input := audio["input"].(map[string]any)
	transcription := input["transcription"].(map[string]any)
	if _, ok := transcription["language"]; ok {
		t.Error("auto language should be omitted from the payload")
	}
	if transcription["model"] != "gpt-4o-mini-transcribe" {
		t.Errorf("expected default model, got %v", transcription["model"])
	}
}

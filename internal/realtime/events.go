package realtime

import "encoding/json"

// Server event types recognized on the data channel. Anything else is
// ignored without error.
const (
	EventTypeDelta     = "conversation.item.input_audio_transcription.delta"
	EventTypeCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeError     = "error"
)

// Client event types.
const (
	EventTypeSessionUpdate = "session.update"
	EventTypeAudioAppend   = "input_audio_buffer.append"
)

// ServerEvent is one JSON-framed message from the realtime service.
// Field names vary slightly across event versions, so text accessors below
// resolve the fallback chain instead of callers poking at raw fields.
type ServerEvent struct {
	Type       string        `json:"type"`
	Event      string        `json:"event"`
	ItemID     string        `json:"item_id"`
	Delta      string        `json:"delta"`
	Text       string        `json:"text"`
	Transcript string        `json:"transcript"`
	Content    []ContentPart `json:"content"`
	Error      *EventError   `json:"error"`
	Message    string        `json:"message"`
}

// ContentPart is a nested content entry on completed events.
type ContentPart struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

// EventError is the error payload of an error-type event.
type EventError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Param   string `json:"param"`
	Message string `json:"message"`
}

// ParseServerEvent decodes one data-channel message.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Kind returns the event discriminator, accepting either field spelling.
func (e *ServerEvent) Kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Event
}

// IsError reports whether the event carries an error payload.
func (e *ServerEvent) IsError() bool {
	return e.Kind() == EventTypeError || e.Error != nil
}

// DeltaText resolves the incremental text of a delta event.
func (e *ServerEvent) DeltaText() string {
	if e.Delta != "" {
		return e.Delta
	}
	if e.Text != "" {
		return e.Text
	}
	return e.Transcript
}

// FinalText resolves the explicit final text of a completed event, if any.
func (e *ServerEvent) FinalText() string {
	if e.Transcript != "" {
		return e.Transcript
	}
	if e.Text != "" {
		return e.Text
	}
	for _, part := range e.Content {
		if part.Transcript != "" {
			return part.Transcript
		}
	}
	return ""
}

// ErrorMessage resolves a human-readable message from an error event.
func (e *ServerEvent) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return "realtime error"
}

// ErrorCode resolves the error code from an error event.
func (e *ServerEvent) ErrorCode() string {
	if e.Error != nil {
		return e.Error.Code
	}
	return ""
}

// SessionUpdate is the one-time input/VAD configuration applied once the
// data channel opens.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Type  string      `json:"type"`
	Audio AudioConfig `json:"audio"`
}

type AudioConfig struct {
	Input InputConfig `json:"input"`
}

type InputConfig struct {
	Transcription TranscriptionConfig `json:"transcription"`
	TurnDetection TurnDetection       `json:"turn_detection"`
}

type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// CaptureSettings carries the client-side capture tuning forwarded to the
// realtime service.
type CaptureSettings struct {
	Model        string
	Language     string // empty or "auto" omits the language hint
	VADThreshold float64
	VADSilenceMs int
	VADPrefixMs  int
}

// NewSessionUpdate builds the session.update payload from capture settings.
func NewSessionUpdate(s CaptureSettings) SessionUpdate {
	model := s.Model
	if model == "" {
		model = "gpt-4o-mini-transcribe"
	}
	lang := s.Language
	if lang == "auto" {
		lang = ""
	}
	return SessionUpdate{
		Type: EventTypeSessionUpdate,
		Session: SessionConfig{
			Type: "realtime",
			Audio: AudioConfig{
				Input: InputConfig{
					Transcription: TranscriptionConfig{
						Model:    model,
						Language: lang,
					},
					TurnDetection: TurnDetection{
						Type:              "server_vad",
						Threshold:         s.VADThreshold,
						SilenceDurationMs: s.VADSilenceMs,
						PrefixPaddingMs:   s.VADPrefixMs,
						CreateResponse:    false,
					},
				},
			},
		},
	}
}

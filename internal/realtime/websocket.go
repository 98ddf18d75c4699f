package realtime

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Yoshiki785/realtime-translator/internal/audio"
	"github.com/Yoshiki785/realtime-translator/internal/observability"
)

// WebSocketOptions configure a websocket transport.
type WebSocketOptions struct {
	Endpoint string
	Model    string
	Settings CaptureSettings
	Source   audio.Source
	Recorder *audio.Recorder
	Logger   *zerolog.Logger
}

// WebSocketTransport is the fallback for environments without WebRTC
// support. Audio travels as base64 PCM16 append events instead of a media
// track, and the socket doubles as the event channel.
type WebSocketTransport struct {
	opts    WebSocketOptions
	handler Handler
	logger  zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex
	open    atomic.Bool

	configureOnce sync.Once
	pumpCancel    context.CancelFunc
	closeOnce     sync.Once
}

// NewWebSocketTransport creates a transport for one connection attempt.
func NewWebSocketTransport(opts WebSocketOptions, handler Handler) *WebSocketTransport {
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &WebSocketTransport{
		opts:    opts,
		handler: handler,
		logger:  logger,
	}
}

// Connect dials the realtime websocket with the ephemeral credential and
// starts the read and audio pump loops.
func (t *WebSocketTransport) Connect(ctx context.Context, credential string) error {
	endpoint, err := websocketURL(t.opts.Endpoint, t.opts.Model)
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, res, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if res != nil {
			return &HTTPError{StatusCode: res.StatusCode, Body: err.Error(), Context: ContextNegotiate}
		}
		return fmt.Errorf("dial realtime websocket: %w", err)
	}
	t.conn = conn
	t.open.Store(true)

	frames, err := t.opts.Source.Start(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	t.pumpCancel = pumpCancel
	go t.readLoop()
	go t.pumpAudio(pumpCtx, frames)

	t.configureOnce.Do(func() {
		if err := t.Send(NewSessionUpdate(t.opts.Settings)); err != nil {
			t.logger.Error().Err(err).Msg("Failed to apply capture configuration")
		}
	})
	if t.handler.OnOpen != nil {
		t.handler.OnOpen()
	}

	t.logger.Info().Msg("Realtime websocket connected")
	return nil
}

// Send marshals and writes one control event.
func (t *WebSocketTransport) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.write(data)
}

// Close stops audio and closes the socket.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.open.Store(false)
		if t.pumpCancel != nil {
			t.pumpCancel()
		}
		t.opts.Source.Stop()
		if t.opts.Recorder != nil {
			if cerr := t.opts.Recorder.Close(); cerr != nil {
				t.logger.Error().Err(cerr).Msg("Failed to finalize recording")
			}
		}
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *WebSocketTransport) write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.open.Swap(false) {
				t.logger.Warn().Err(err).Msg("Realtime websocket closed")
				if t.handler.OnChannelClose != nil {
					t.handler.OnChannelClose("websocket:close")
				}
				if t.handler.OnStateChange != nil {
					t.handler.OnStateChange(ConnStateDisconnected)
				}
			}
			return
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			t.logger.Error().Err(err).Msg("Failed to parse realtime event")
			continue
		}
		if t.handler.OnEvent != nil {
			t.handler.OnEvent(ev)
		}
	}
}

// pumpAudio forwards captured PCM16 as base64 append events.
func (t *WebSocketTransport) pumpAudio(ctx context.Context, frames <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-frames:
			if !ok {
				return
			}
			if t.opts.Recorder != nil {
				if err := t.opts.Recorder.Write(pcm); err != nil {
					t.logger.Warn().Err(err).Msg("Recording write failed")
				}
			}
			if !t.open.Load() {
				continue
			}
			payload := struct {
				Type  string `json:"type"`
				Audio string `json:"audio"`
			}{
				Type:  EventTypeAudioAppend,
				Audio: base64.StdEncoding.EncodeToString(pcm16ToBytes(pcm)),
			}
			if err := t.Send(payload); err != nil {
				t.logger.Warn().Err(err).Msg("Audio append failed")
			}
		}
	}
}

// websocketURL converts the HTTPS realtime endpoint to its websocket form
// and attaches the model parameter.
func websocketURL(endpoint, model string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/calls")
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func pcm16ToBytes(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

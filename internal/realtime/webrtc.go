package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/Yoshiki785/realtime-translator/internal/audio"
	"github.com/Yoshiki785/realtime-translator/internal/observability"
)

const opusFrameMs = 20

// WebRTCOptions configure a WebRTC transport.
type WebRTCOptions struct {
	Endpoint string
	Settings CaptureSettings
	Source   audio.Source
	Recorder *audio.Recorder // optional parallel WAV recording
	Client   *http.Client
	Logger   *zerolog.Logger
}

// WebRTCTransport negotiates a peer connection with the realtime service:
// data channel first, then microphone media, then SDP offer/answer over
// HTTPS with the ephemeral credential.
type WebRTCTransport struct {
	opts    WebRTCOptions
	handler Handler
	logger  zerolog.Logger

	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	queue  eventQueue
	dcOpen atomic.Bool

	// configureOnce guards the one-time session configuration against the
	// open event firing more than once.
	configureOnce sync.Once

	pumpCancel context.CancelFunc
	closeOnce  sync.Once
}

// NewWebRTCTransport creates a transport for one connection attempt.
func NewWebRTCTransport(opts WebRTCOptions, handler Handler) *WebRTCTransport {
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Client == nil {
		opts.Client = newHTTPClient()
	}
	return &WebRTCTransport{
		opts:    opts,
		handler: handler,
		logger:  logger,
	}
}

// Connect runs the negotiation sequence. The caller bounds the total time
// through ctx; ICE gathering itself has no inner timeout.
func (t *WebRTCTransport) Connect(ctx context.Context, credential string) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	t.pc = pc

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug().Str("state", state.String()).Msg("Peer connection state changed")
		if t.handler.OnStateChange == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			t.handler.OnStateChange(ConnStateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			t.handler.OnStateChange(ConnStateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			t.handler.OnStateChange(ConnStateFailed)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debug().Str("state", state.String()).Msg("ICE connection state changed")
	})

	// Data channel before media so control messages can flow as soon as
	// the channel opens.
	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	t.dc = dc

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ev, err := ParseServerEvent(msg.Data)
		if err != nil {
			t.logger.Error().Err(err).Msg("Failed to parse realtime event")
			return
		}
		if t.handler.OnEvent != nil {
			t.handler.OnEvent(ev)
		}
	})
	dc.OnOpen(func() {
		t.logger.Info().Msg("Data channel opened")
		t.dcOpen.Store(true)
		if err := t.queue.Flush(t.sendRaw); err != nil {
			t.logger.Error().Err(err).Msg("Failed to flush queued realtime events")
		}
		t.configureOnce.Do(func() {
			if err := t.Send(NewSessionUpdate(t.opts.Settings)); err != nil {
				t.logger.Error().Err(err).Msg("Failed to apply capture configuration")
			}
		})
		if t.handler.OnOpen != nil {
			t.handler.OnOpen()
		}
	})
	dc.OnClose(func() {
		t.dcOpen.Store(false)
		if t.handler.OnChannelClose != nil {
			t.handler.OnChannelClose("datachannel:close")
		}
	})

	// Microphone acquisition; failures are permission-classified upstream.
	frames, err := t.opts.Source.Start(ctx)
	if err != nil {
		return err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(t.opts.Source.SampleRate()),
			Channels:  uint16(t.opts.Source.Channels()),
		},
		"audio", "microphone",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	// Local recording runs alongside the live media without blocking
	// negotiation.
	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	t.pumpCancel = pumpCancel
	go t.pumpAudio(pumpCtx, frames, track)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := exchangeSDP(ctx, t.opts.Client, t.opts.Endpoint, credential, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	t.logger.Info().Msg("Realtime negotiation completed")
	return nil
}

// Send delivers a control event, queueing it in issuance order while the
// data channel is not yet open.
func (t *WebRTCTransport) Send(event any) error {
	if !t.dcOpen.Load() {
		return t.queue.Enqueue(event)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.sendRaw(data)
}

func (t *WebRTCTransport) sendRaw(data []byte) error {
	if t.dc == nil {
		return fmt.Errorf("data channel not created")
	}
	return t.dc.SendText(string(data))
}

// Close tears down media and the peer connection.
func (t *WebRTCTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.pumpCancel != nil {
			t.pumpCancel()
		}
		t.opts.Source.Stop()
		if t.opts.Recorder != nil {
			if cerr := t.opts.Recorder.Close(); cerr != nil {
				t.logger.Error().Err(cerr).Msg("Failed to finalize recording")
			}
		}
		if t.pc != nil {
			err = t.pc.Close()
		}
	})
	return err
}

// pumpAudio encodes captured PCM frames to opus and writes them to the
// outbound track, copying each frame to the recorder when one is attached.
func (t *WebRTCTransport) pumpAudio(ctx context.Context, frames <-chan []int16, track *webrtc.TrackLocalStaticSample) {
	enc, err := audio.NewOpusEncoder(t.opts.Source.SampleRate(), t.opts.Source.Channels(), opusFrameMs)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to create opus encoder")
		return
	}

	samplesPerFrame := enc.FrameSize() * t.opts.Source.Channels()
	var pending []int16

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
			pending = append(pending, pcm...)
			for len(pending) >= samplesPerFrame {
				frame := pending[:samplesPerFrame]
				pending = pending[samplesPerFrame:]

				data, err := enc.Encode(frame)
				if err != nil {
					t.logger.Warn().Err(err).Msg("Opus encode failed")
					continue
				}
				if err := track.WriteSample(media.Sample{
					Data:     data,
					Duration: opusFrameMs * time.Millisecond,
				}); err != nil {
					t.logger.Warn().Err(err).Msg("Track write failed")
				}
			}
		}
	}
}

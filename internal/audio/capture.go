package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
)

// ErrCaptureDenied marks microphone failures so the lifecycle controller
// can classify them as non-retryable permission errors.
var ErrCaptureDenied = errors.New("microphone capture denied")

// Source produces PCM16 frames from an audio input.
type Source interface {
	// Start begins capture and returns the frame channel. The channel is
	// closed when capture stops.
	Start(ctx context.Context) (<-chan []int16, error)
	// Stop ends capture and releases the device.
	Stop()
	SampleRate() int
	Channels() int
}

// Microphone captures from the default input device via miniaudio.
type Microphone struct {
	sampleRate int
	channels   int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	frames   chan []int16
}

// NewMicrophone creates a microphone source with the given format.
func NewMicrophone(sampleRate, channels int) *Microphone {
	return &Microphone{
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (m *Microphone) SampleRate() int { return m.sampleRate }
func (m *Microphone) Channels() int   { return m.channels }

// Start opens the default capture device. Device initialization failures
// wrap ErrCaptureDenied: on every supported platform they are dominated by
// missing input permissions or a revoked device.
func (m *Microphone) Start(_ context.Context) (<-chan []int16, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", ErrCaptureDenied, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	frames := make(chan []int16, 64)

	onRecv := func(_, input []byte, frameCount uint32) {
		if len(input) == 0 {
			return
		}
		pcm := bytesToPCM16(input)
		select {
		case frames <- pcm:
		default:
			// Consumer is behind; drop the frame rather than stall the
			// device callback.
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("%w: init capture device: %v", ErrCaptureDenied, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, fmt.Errorf("%w: start capture device: %v", ErrCaptureDenied, err)
	}

	m.malgoCtx = malgoCtx
	m.device = device
	m.frames = frames

	return frames, nil
}

// Stop ends capture and releases the device. The frame channel closes only
// after Uninit returns, when the device callback can no longer fire.
func (m *Microphone) Stop() {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.malgoCtx != nil {
		_ = m.malgoCtx.Uninit()
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	if m.frames != nil {
		close(m.frames)
		m.frames = nil
	}
}

func bytesToPCM16(input []byte) []int16 {
	pcm := make([]int16, len(input)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
	}
	return pcm
}

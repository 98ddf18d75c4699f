package audio

import (
	"fmt"

	"layeh.com/gopus"
)

const maxOpusFrameBytes = 4000

// OpusEncoder wraps a gopus encoder for the outbound media track.
type OpusEncoder struct {
	enc       *gopus.Encoder
	frameSize int // samples per channel per frame
}

// NewOpusEncoder creates an encoder for the given capture format.
// frameMs must be a valid opus frame duration (2.5, 5, 10, 20, 40, 60ms);
// callers use 20ms.
func NewOpusEncoder(sampleRate, channels, frameMs int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		frameSize: sampleRate * frameMs / 1000,
	}, nil
}

// FrameSize returns the samples per channel consumed per Encode call.
func (e *OpusEncoder) FrameSize() int { return e.frameSize }

// Encode compresses one PCM16 frame. The input length must equal
// FrameSize() * channels.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data, err := e.enc.Encode(pcm, e.frameSize, maxOpusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data, nil
}

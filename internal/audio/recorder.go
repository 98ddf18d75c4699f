package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder writes captured PCM16 audio to a WAV file in parallel with the
// live session, for later playback/export.
type Recorder struct {
	mu         sync.Mutex
	file       *os.File
	sampleRate int
	channels   int
	dataBytes  uint32
	closed     bool
}

// NewRecorder creates a WAV recorder under dir, named by the start time.
func NewRecorder(dir string, sampleRate, channels int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	name := fmt.Sprintf("session-%s.wav", time.Now().Format("20060102-150405"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{
		file:       file,
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := r.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the recording file path.
func (r *Recorder) Path() string {
	return r.file.Name()
}

// Write appends one PCM16 frame.
func (r *Recorder) Write(pcm []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	n, err := r.file.Write(buf)
	r.dataBytes += uint32(n)
	if err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	// Patch RIFF and data chunk sizes now that the length is known.
	if _, err := r.file.Seek(4, 0); err == nil {
		binary.Write(r.file, binary.LittleEndian, uint32(36+r.dataBytes))
	}
	if _, err := r.file.Seek(40, 0); err == nil {
		binary.Write(r.file, binary.LittleEndian, r.dataBytes)
	}
	return r.file.Close()
}

func (r *Recorder) writeHeader() error {
	byteRate := uint32(r.sampleRate * r.channels * 2)
	blockAlign := uint16(r.channels * 2)

	var header []byte
	header = append(header, []byte("RIFF")...)
	header = binary.LittleEndian.AppendUint32(header, 0) // patched on close
	header = append(header, []byte("WAVE")...)
	header = append(header, []byte("fmt ")...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, 1) // PCM
	header = binary.LittleEndian.AppendUint16(header, uint16(r.channels))
	header = binary.LittleEndian.AppendUint32(header, uint32(r.sampleRate))
	header = binary.LittleEndian.AppendUint32(header, byteRate)
	header = binary.LittleEndian.AppendUint16(header, blockAlign)
	header = binary.LittleEndian.AppendUint16(header, 16) // bits per sample
	header = append(header, []byte("data")...)
	header = binary.LittleEndian.AppendUint32(header, 0) // patched on close

	if _, err := r.file.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	return nil
}

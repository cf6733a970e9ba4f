// Package asr provides the capture and transcription pieces the voice
// machine plugs into: a bounded PCM segment buffer fed by the audio
// callback, and a transcriber backed by the backend's recognition
// endpoint.
package asr

import (
	"errors"
	"sync"
)

// ErrNotRecording is returned when stopping a recorder that was never
// started.
var ErrNotRecording = errors.New("asr: recorder not started")

// BufferRecorder accumulates PCM audio for one speech segment. The
// audio callback feeds it with Write; the voice machine drives
// Start/Stop/Clear. Older data is discarded once MaxBytes is exceeded,
// so a runaway segment cannot grow without bound.
type BufferRecorder struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	active   bool
}

// NewBufferRecorder creates a recorder holding at most maxBytes of
// audio. maxBytes <= 0 means one minute of 16 kHz mono 16-bit PCM.
func NewBufferRecorder(maxBytes int) *BufferRecorder {
	if maxBytes <= 0 {
		maxBytes = 16000 * 2 * 60
	}
	return &BufferRecorder{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
	}
}

// Start begins capturing a new segment.
func (r *BufferRecorder) Start() error {
	r.mu.Lock()
	r.active = true
	r.data = r.data[:0]
	r.mu.Unlock()
	return nil
}

// Write appends audio while a segment is being captured. Data written
// while inactive is dropped.
func (r *BufferRecorder) Write(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.data = append(r.data, pcm...)
	if len(r.data) > r.maxBytes {
		excess := len(r.data) - r.maxBytes
		r.data = r.data[excess:]
	}
}

// Stop ends capture and returns a copy of the segment audio.
func (r *BufferRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, ErrNotRecording
	}
	r.active = false
	out := make([]byte, len(r.data))
	copy(out, r.data)
	r.data = r.data[:0]
	return out, nil
}

// Clear discards buffered audio and resets capture state.
func (r *BufferRecorder) Clear() {
	r.mu.Lock()
	r.data = r.data[:0]
	r.mu.Unlock()
}

// Len reports the buffered byte count, mainly for tests and metrics.
func (r *BufferRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Package tts queues sentence units for synthesis and plays them back
// in order. Synthesis is prefetched concurrently so playback gaps stay
// short, while playback itself is strictly sequential.
package tts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kurisu-ai/kurisu-go/pkg/core/chat"
)

// Synthesizer renders text to playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Player plays one audio clip to completion, or until ctx is canceled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// State is a snapshot of queue activity.
type State struct {
	// Active is true while anything is queued or playing.
	Active bool
	// QueueLen counts items waiting behind the current one.
	QueueLen int
	// CurrentText is the sentence being played, if any.
	CurrentText string
}

// Config controls synthesis behavior.
type Config struct {
	// SynthTimeout bounds each synthesis request.
	SynthTimeout time.Duration
}

// DefaultConfig returns the standard queue settings.
func DefaultConfig() Config {
	return Config{SynthTimeout: 30 * time.Second}
}

type item struct {
	text  string
	voice string
	ready chan struct{}
	audio []byte
	err   error
}

// Queue is a sequential speech pipeline. All methods are safe for
// concurrent use.
type Queue struct {
	cfg    Config
	log    *slog.Logger
	synth  Synthesizer
	player Player

	mu          sync.Mutex
	items       []*item
	playing     bool
	closed      bool
	currentText string
	cancelPlay  context.CancelFunc

	updates chan State
}

// NewQueue creates a speech queue.
func NewQueue(cfg Config, synth Synthesizer, player Player, logger *slog.Logger) *Queue {
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = DefaultConfig().SynthTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:     cfg,
		log:     logger.With("component", "tts"),
		synth:   synth,
		player:  player,
		updates: make(chan State, 16),
	}
}

// Updates exposes activity snapshots. Values are dropped when no one is
// reading.
func (q *Queue) Updates() <-chan State {
	return q.updates
}

// Active reports whether anything is queued or playing.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.items) > 0
}

// Enqueue adds one sentence to the pipeline. Stage directions are
// stripped first; a sentence that strips to nothing is ignored.
// Synthesis starts immediately, playback when the sentence reaches the
// front of the queue.
func (q *Queue) Enqueue(text, voice string) {
	speak := chat.StripNarration(text)
	if speak == "" {
		return
	}

	it := &item{text: speak, voice: voice, ready: make(chan struct{})}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, it)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	go q.synthesize(it)
	if start {
		go q.playLoop()
	}
	q.notify()
}

// Clear drops all queued items and interrupts the current playback.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	cancel := q.cancelPlay
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.notify()
}

// Close clears the queue and rejects further enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

func (q *Queue) synthesize(it *item) {
	defer close(it.ready)
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.SynthTimeout)
	defer cancel()
	it.audio, it.err = q.synth.Synthesize(ctx, it.text, it.voice)
}

func (q *Queue) playLoop() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.playing = false
			q.currentText = ""
			q.mu.Unlock()
			q.notify()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelPlay = cancel
		q.currentText = it.text
		q.mu.Unlock()
		q.notify()

		<-it.ready
		switch {
		case it.err != nil:
			q.log.Warn("synthesis failed, skipping sentence", "error", it.err)
		case ctx.Err() != nil:
			// Cleared while waiting for synthesis.
		default:
			if err := q.player.Play(ctx, it.audio); err != nil && ctx.Err() == nil {
				q.log.Warn("playback failed", "error", err)
			}
		}
		cancel()

		q.mu.Lock()
		q.cancelPlay = nil
		q.currentText = ""
		q.mu.Unlock()
	}
}

func (q *Queue) notify() {
	q.mu.Lock()
	state := State{
		Active:      q.playing || len(q.items) > 0,
		QueueLen:    len(q.items),
		CurrentText: q.currentText,
	}
	q.mu.Unlock()

	select {
	case q.updates <- state:
	default:
	}
}

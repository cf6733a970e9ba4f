// Package voice implements hands-free conversation control: a state
// machine that arms the microphone, detects speech segments with a VAD
// probability stream, transcribes finished segments, and decides when a
// transcript should be sent to the agent.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode is the listening state of the machine.
type Mode int

const (
	ModeIdle Mode = iota
	ModeArmed
	ModeSpeaking
	ModeSilencePending
	ModeProcessing
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeArmed:
		return "armed"
	case ModeSpeaking:
		return "speaking"
	case ModeSilencePending:
		return "silence_pending"
	case ModeProcessing:
		return "processing"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Recorder captures microphone audio for one speech segment at a time.
type Recorder interface {
	// Start begins capturing a new segment.
	Start() error
	// Stop ends capture and returns the segment audio.
	Stop() ([]byte, error)
	// Clear discards buffered audio and resets capture state, including
	// any detector state tied to the segment.
	Clear()
}

// Transcriber converts a captured audio segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Sender delivers a finished transcript to the conversation.
type Sender interface {
	SendTranscript(text string)
}

// CuePlayer plays the audible cues for entering and leaving interaction
// mode.
type CuePlayer interface {
	PlayEnterCue()
	PlayExitCue()
}

// NopCues is a CuePlayer that plays nothing.
type NopCues struct{}

func (NopCues) PlayEnterCue() {}
func (NopCues) PlayExitCue()  {}

// Config controls speech segmentation and interaction mode timing.
type Config struct {
	// SpeechThreshold is the VAD probability above which a frame counts
	// as speech.
	SpeechThreshold float64

	// SilenceTimeout is how long probabilities must stay at or below
	// the threshold before the segment is considered finished.
	SilenceTimeout time.Duration

	// IdleTimeout is how long interaction mode survives without
	// activity once streaming and playback are quiet.
	IdleTimeout time.Duration

	// TranscribeTimeout bounds each transcription call.
	TranscribeTimeout time.Duration
}

// DefaultConfig returns the standard voice interaction settings.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:   0.5,
		SilenceTimeout:    1500 * time.Millisecond,
		IdleTimeout:       30 * time.Second,
		TranscribeTimeout: 15 * time.Second,
	}
}

// Machine is the voice interaction state machine. All methods are safe
// for concurrent use.
type Machine struct {
	cfg      Config
	log      *slog.Logger
	recorder Recorder
	asr      Transcriber
	sender   Sender
	cues     CuePlayer

	mu              sync.Mutex
	mode            Mode
	stopping        bool
	interactionMode bool
	triggerWord     string
	pendingAutoSend string
	streaming       bool
	ttsActive       bool
	silenceTimer    *time.Timer
	idleTimer       *time.Timer

	asrWG sync.WaitGroup

	transcripts chan string
}

// NewMachine creates a voice interaction machine. cues may be nil to
// disable audible mode cues.
func NewMachine(cfg Config, recorder Recorder, asr Transcriber, sender Sender, cues CuePlayer, logger *slog.Logger) *Machine {
	def := DefaultConfig()
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = def.TranscribeTimeout
	}
	if cues == nil {
		cues = NopCues{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		cfg:         cfg,
		log:         logger.With("component", "voice"),
		recorder:    recorder,
		asr:         asr,
		sender:      sender,
		cues:        cues,
		transcripts: make(chan string, 16),
	}
}

// Transcripts exposes every raw transcript the machine produces,
// including ones that are not sent to the agent. Values are dropped
// when no one is reading.
func (m *Machine) Transcripts() <-chan string {
	return m.transcripts
}

// SetTriggerWord sets the phrase that activates interaction mode. The
// match is a case-insensitive substring test. Empty disables triggering.
func (m *Machine) SetTriggerWord(word string) {
	m.mu.Lock()
	m.triggerWord = word
	m.mu.Unlock()
}

// Mode returns the current listening mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// InInteractionMode reports whether transcripts are auto-sent.
func (m *Machine) InInteractionMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interactionMode
}

// StartListening arms the microphone. It is a no-op when already
// listening.
func (m *Machine) StartListening() error {
	m.mu.Lock()
	if m.mode != ModeIdle {
		m.mu.Unlock()
		return nil
	}
	if err := m.recorder.Start(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("start recorder: %w", err)
	}
	m.stopping = false
	m.mode = ModeArmed
	m.mu.Unlock()

	m.log.Info("listening armed")
	return nil
}

// StopListening tears listening down. A segment still being captured is
// transcribed and handled before the machine quiesces, and interaction
// mode is exited.
func (m *Machine) StopListening() {
	m.mu.Lock()
	if m.mode == ModeIdle {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	m.stopSilenceTimerLocked()
	m.stopIdleTimerLocked()
	mode := m.mode
	if mode == ModeSpeaking || mode == ModeSilencePending {
		// Route the in-flight segment through transcription first.
		m.mode = ModeProcessing
		m.asrWG.Add(1)
		go m.processSegment(true)
	}
	m.mu.Unlock()

	m.asrWG.Wait()

	m.mu.Lock()
	if m.mode == ModeArmed {
		// Nothing captured worth keeping.
		if _, err := m.recorder.Stop(); err != nil {
			m.log.Warn("recorder stop failed", "error", err)
		}
	}
	m.mode = ModeIdle
	wasInteraction := m.interactionMode
	m.interactionMode = false
	m.pendingAutoSend = ""
	m.mu.Unlock()

	if wasInteraction {
		m.cues.PlayExitCue()
	}
	m.log.Info("listening stopped")
}

// ProcessFrame scores a PCM frame with the given detector and feeds the
// result to ProcessProbability.
func (m *Machine) ProcessFrame(pcm []byte, detector *EnergyDetector) {
	if detector == nil {
		detector = DefaultEnergyDetector()
	}
	m.ProcessProbability(detector.Probability(pcm))
}

// ProcessProbability advances the state machine with one VAD speech
// probability sample.
func (m *Machine) ProcessProbability(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	speech := p > m.cfg.SpeechThreshold
	switch m.mode {
	case ModeArmed:
		if speech {
			m.mode = ModeSpeaking
			m.stopIdleTimerLocked()
			m.log.Debug("speech started")
		}
	case ModeSpeaking:
		if !speech {
			m.mode = ModeSilencePending
			m.silenceTimer = time.AfterFunc(m.cfg.SilenceTimeout, m.silenceElapsed)
		}
	case ModeSilencePending:
		if speech {
			m.stopSilenceTimerLocked()
			m.mode = ModeSpeaking
		}
	}
}

func (m *Machine) silenceElapsed() {
	m.mu.Lock()
	if m.mode != ModeSilencePending {
		m.mu.Unlock()
		return
	}
	m.silenceTimer = nil
	m.mode = ModeProcessing
	m.asrWG.Add(1)
	m.mu.Unlock()

	m.log.Debug("silence elapsed, transcribing segment")
	go m.processSegment(false)
}

// processSegment stops the recorder, transcribes the captured audio,
// re-arms capture unless the machine is shutting down, and handles the
// transcript.
func (m *Machine) processSegment(final bool) {
	defer m.asrWG.Done()

	audio, err := m.recorder.Stop()
	if err != nil {
		m.log.Warn("recorder stop failed", "error", err)
		audio = nil
	}

	var text string
	if len(audio) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TranscribeTimeout)
		raw, err := m.asr.Transcribe(ctx, audio)
		cancel()
		if err != nil {
			m.log.Warn("transcription failed", "error", err)
		} else {
			text = strings.TrimSpace(raw)
		}
	}

	m.mu.Lock()
	if !final && !m.stopping && m.mode == ModeProcessing {
		m.recorder.Clear()
		if err := m.recorder.Start(); err != nil {
			m.log.Error("recorder restart failed", "error", err)
			m.mode = ModeIdle
		} else {
			m.mode = ModeArmed
		}
	}
	m.mu.Unlock()

	if text != "" {
		m.handleTranscript(text)
	}
}

func (m *Machine) handleTranscript(text string) {
	select {
	case m.transcripts <- text:
	default:
	}

	m.mu.Lock()
	if m.interactionMode {
		if m.streaming || m.ttsActive {
			// Hold the transcript until the current reply finishes.
			m.pendingAutoSend = text
			m.mu.Unlock()
			m.log.Debug("transcript queued behind active reply")
			return
		}
		m.stopIdleTimerLocked()
		m.mu.Unlock()
		m.sender.SendTranscript(text)
		return
	}
	trigger := m.triggerWord
	m.mu.Unlock()

	if trigger != "" && strings.Contains(strings.ToLower(text), strings.ToLower(trigger)) {
		m.enterInteractionMode()
		m.sender.SendTranscript(text)
		return
	}
	m.log.Debug("transcript outside interaction mode discarded", "text", text)
}

func (m *Machine) enterInteractionMode() {
	m.mu.Lock()
	if m.interactionMode {
		m.mu.Unlock()
		return
	}
	m.interactionMode = true
	m.pendingAutoSend = ""
	m.mu.Unlock()

	m.cues.PlayEnterCue()
	m.log.Info("interaction mode entered")
}

func (m *Machine) exitInteractionMode() {
	m.mu.Lock()
	if !m.interactionMode || m.streaming || m.ttsActive {
		m.mu.Unlock()
		return
	}
	m.interactionMode = false
	m.pendingAutoSend = ""
	m.stopIdleTimerLocked()
	m.mu.Unlock()

	m.cues.PlayExitCue()
	m.log.Info("interaction mode expired")
}

// SetStreaming tells the machine whether a reply stream is in flight.
func (m *Machine) SetStreaming(streaming bool) {
	m.mu.Lock()
	m.streaming = streaming
	if streaming {
		m.stopIdleTimerLocked()
	}
	m.mu.Unlock()
}

// SetTTSActive tells the machine whether speech playback is running.
func (m *Machine) SetTTSActive(active bool) {
	m.mu.Lock()
	m.ttsActive = active
	if active {
		m.stopIdleTimerLocked()
	}
	m.mu.Unlock()
	if !active {
		m.releasePendingOrIdle()
	}
}

// OnStreamingComplete marks the reply stream finished and releases any
// held transcript once playback is quiet too.
func (m *Machine) OnStreamingComplete() {
	m.mu.Lock()
	m.streaming = false
	m.mu.Unlock()
	m.releasePendingOrIdle()
}

// releasePendingOrIdle forwards a transcript held behind an active
// reply once both the stream and playback have gone quiet, or starts
// the idle countdown when nothing is pending. A transcript stashed
// while speech was still playing must leave here, not via the idle
// timer, which would discard it.
func (m *Machine) releasePendingOrIdle() {
	m.mu.Lock()
	if m.streaming || m.ttsActive {
		m.mu.Unlock()
		return
	}
	pending := ""
	if m.interactionMode && m.pendingAutoSend != "" {
		pending = m.pendingAutoSend
		m.pendingAutoSend = ""
	}
	m.mu.Unlock()

	if pending != "" {
		m.log.Debug("releasing queued transcript")
		m.sender.SendTranscript(pending)
		return
	}
	m.CheckIdle()
}

// CheckIdle restarts the interaction idle countdown when the machine is
// in interaction mode with no stream or playback running.
func (m *Machine) CheckIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.interactionMode || m.streaming || m.ttsActive {
		return
	}
	m.stopIdleTimerLocked()
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.exitInteractionMode)
}

// stopSilenceTimerLocked stops the silence countdown. Callers must hold
// m.mu.
func (m *Machine) stopSilenceTimerLocked() {
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
		m.silenceTimer = nil
	}
}

// stopIdleTimerLocked stops the idle countdown. Callers must hold m.mu.
func (m *Machine) stopIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

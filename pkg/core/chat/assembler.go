// Package chat folds streamed reply chunks into display turns and cuts
// assistant text into speakable sentence units for synthesis.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kurisu-ai/kurisu-go/pkg/core/session"
)

// Turn is one contiguous message bubble attributed to a single
// (role, speaker) pair.
type Turn struct {
	Role           string
	Name           string
	Content        string
	Thinking       string
	VoiceReference string
	AgentID        *int
	Images         []string
}

// State is a snapshot of the assembler's streaming state.
type State struct {
	Streaming      bool
	TypingName     string
	ConversationID int
	Err            string
	Turns          []Turn
}

// Event is implemented by all assembler notifications.
type Event interface{ assemblerEvent() }

// SentenceEvent carries one complete speakable sentence, with the voice
// reference active when it was cut.
type SentenceEvent struct {
	Text           string
	VoiceReference string
}

// ConversationEvent reports the conversation ID the backend assigned or
// switched to.
type ConversationEvent struct {
	ID int
}

// DoneEvent marks the end of a streamed reply after all pending text
// has been flushed.
type DoneEvent struct {
	ConversationID int
	FrameID        int
}

// ErrorEvent surfaces a stream failure that terminated the reply.
type ErrorEvent struct {
	Message string
}

func (*SentenceEvent) assemblerEvent()     {}
func (*ConversationEvent) assemblerEvent() {}
func (*DoneEvent) assemblerEvent()         {}
func (*ErrorEvent) assemblerEvent()        {}

// Canceler aborts the in-flight reply on the transport.
type Canceler interface {
	Cancel()
}

// Assembler consumes session events and maintains the ordered list of
// streaming turns. All methods are safe for concurrent use.
type Assembler struct {
	log      *slog.Logger
	canceler Canceler

	mu         sync.Mutex
	streaming  bool
	turns      []Turn
	typingName string
	convID     int
	errMsg     string
	curRole    string
	curName    string
	curVoice   string
	open       bool
	sentences  SentenceBuffer

	subMu sync.Mutex
	subs  []chan Event
}

// NewAssembler creates an assembler. canceler may be nil when stream
// cancellation is not wired.
func NewAssembler(canceler Canceler, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		log:      logger.With("component", "chat"),
		canceler: canceler,
	}
}

// Run consumes session events until ctx is done or the channel closes.
func (a *Assembler) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			a.Handle(event)
		}
	}
}

// Subscribe registers a listener for assembler events. Slow listeners
// lose events rather than blocking stream processing.
func (a *Assembler) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	a.subMu.Lock()
	a.subs = append(a.subs, ch)
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			for i, s := range a.subs {
				if s == ch {
					a.subs = append(a.subs[:i], a.subs[i+1:]...)
					close(ch)
					break
				}
			}
			a.subMu.Unlock()
		})
	}
	return ch, cancel
}

// StartStreaming marks a new request as in flight. Any state left over
// from a previous stream that never saw Done, such as one cut off by a
// dropped connection, is discarded so the new exchange starts clean.
func (a *Assembler) StartStreaming() {
	a.mu.Lock()
	a.streaming = true
	a.errMsg = ""
	a.turns = nil
	a.typingName = ""
	a.curRole = ""
	a.curName = ""
	a.curVoice = ""
	a.open = false
	a.sentences.Reset()
	a.mu.Unlock()
}

// AddUserTurn appends the user's outgoing message as a closed turn.
func (a *Assembler) AddUserTurn(text string, images []string) {
	a.mu.Lock()
	a.turns = append(a.turns, Turn{Role: "user", Content: text, Images: images})
	// The next chunk always opens a fresh bubble.
	a.open = false
	a.mu.Unlock()
}

// CancelStream aborts the in-flight reply and flushes pending speech.
func (a *Assembler) CancelStream() {
	if a.canceler != nil {
		a.canceler.Cancel()
	}
	a.mu.Lock()
	var out []Event
	a.flushSentenceLocked(&out)
	a.streaming = false
	a.typingName = ""
	a.open = false
	a.mu.Unlock()
	a.publish(out...)
}

// ClearTurns drops the accumulated streaming turns, typically after
// they have been persisted by a history reload.
func (a *Assembler) ClearTurns() {
	a.mu.Lock()
	a.turns = nil
	a.open = false
	a.mu.Unlock()
}

// State returns a copy of the current streaming state.
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := make([]Turn, len(a.turns))
	copy(turns, a.turns)
	return State{
		Streaming:      a.streaming,
		TypingName:     a.typingName,
		ConversationID: a.convID,
		Err:            a.errMsg,
		Turns:          turns,
	}
}

// Handle applies one session event to the assembler state. Events are
// processed strictly in call order.
func (a *Assembler) Handle(event session.Event) {
	switch e := event.(type) {
	case *session.StreamChunkEvent:
		a.handleChunk(e)
	case *session.AgentSwitchEvent:
		a.mu.Lock()
		a.typingName = e.ToAgentName
		a.mu.Unlock()
		a.log.Debug("agent switch", "from", e.FromAgentName, "to", e.ToAgentName)
	case *session.DoneEvent:
		a.handleDone(e)
	case *session.ErrorEvent:
		a.handleError(e)
	}
}

func (a *Assembler) handleChunk(chunk *session.StreamChunkEvent) {
	var out []Event

	a.mu.Lock()
	if chunk.ConversationID != 0 && chunk.ConversationID != a.convID {
		a.convID = chunk.ConversationID
		out = append(out, &ConversationEvent{ID: chunk.ConversationID})
	}

	role := chunk.Role
	if role == "" {
		role = "assistant"
	}
	if chunk.VoiceReference != "" {
		a.curVoice = chunk.VoiceReference
	}

	if !a.open || role != a.curRole || chunk.Name != a.curName {
		if a.open && a.curRole == "assistant" {
			a.flushSentenceLocked(&out)
		}
		a.turns = append(a.turns, Turn{Role: role, Name: chunk.Name})
		a.open = true
		a.curRole = role
		a.curName = chunk.Name
	}

	turn := &a.turns[len(a.turns)-1]
	turn.Content += chunk.Content
	turn.Thinking += chunk.Thinking
	if chunk.VoiceReference != "" {
		turn.VoiceReference = chunk.VoiceReference
	}
	if chunk.AgentID != nil {
		turn.AgentID = chunk.AgentID
	}

	a.streaming = true
	if role == "assistant" {
		a.typingName = chunk.Name
		for _, s := range a.sentences.Append(chunk.Content) {
			out = append(out, &SentenceEvent{Text: s, VoiceReference: a.curVoice})
		}
	}
	a.mu.Unlock()

	a.publish(out...)
}

func (a *Assembler) handleDone(done *session.DoneEvent) {
	var out []Event
	a.mu.Lock()
	a.flushSentenceLocked(&out)
	a.streaming = false
	a.typingName = ""
	a.open = false
	a.mu.Unlock()

	out = append(out, &DoneEvent{ConversationID: done.ConversationID, FrameID: done.FrameID})
	a.publish(out...)
}

func (a *Assembler) handleError(e *session.ErrorEvent) {
	if e.Code == session.ErrorCodeConnectionLost {
		// The session reconnects on its own; the stream may resume.
		a.log.Debug("ignoring transient connection loss")
		return
	}

	a.mu.Lock()
	a.sentences.Reset()
	a.errMsg = e.Error
	a.streaming = false
	a.typingName = ""
	a.open = false
	a.mu.Unlock()

	a.log.Warn("stream error", "error", e.Error, "code", e.Code)
	a.publish(&ErrorEvent{Message: e.Error})
}

// flushSentenceLocked emits any buffered partial sentence. Callers must
// hold a.mu.
func (a *Assembler) flushSentenceLocked(out *[]Event) {
	if s := a.sentences.Flush(); s != "" {
		*out = append(*out, &SentenceEvent{Text: s, VoiceReference: a.curVoice})
	}
}

func (a *Assembler) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, event := range events {
		for _, ch := range a.subs {
			select {
			case ch <- event:
			default:
				a.log.Warn("chat subscriber lagging, dropping event")
			}
		}
	}
}

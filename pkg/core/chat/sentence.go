package chat

import (
	"strings"
	"unicode/utf8"
)

// sentenceBoundaries are the characters that terminate a speakable
// sentence. Covers both Latin and CJK punctuation, plus newline.
const sentenceBoundaries = ".!?。！？\n"

// SentenceBuffer accumulates streamed text deltas and carves out
// complete sentences as boundary characters arrive. The zero value is
// ready to use. Not safe for concurrent use; the assembler serializes
// access.
type SentenceBuffer struct {
	pending string
}

// Append adds a delta to the buffer and returns any sentences completed
// by it, trimmed of surrounding whitespace. Boundary runs that trim to
// nothing are discarded rather than emitted.
func (b *SentenceBuffer) Append(delta string) []string {
	if delta == "" {
		return nil
	}
	b.pending += delta

	var sentences []string
	for {
		idx := strings.IndexAny(b.pending, sentenceBoundaries)
		if idx < 0 {
			break
		}
		_, size := utf8.DecodeRuneInString(b.pending[idx:])
		sentence := strings.TrimSpace(b.pending[:idx+size])
		b.pending = b.pending[idx+size:]
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

// Flush returns the trimmed remainder and empties the buffer. Returns
// "" when nothing speakable is pending.
func (b *SentenceBuffer) Flush() string {
	remainder := strings.TrimSpace(b.pending)
	b.pending = ""
	return remainder
}

// Reset discards any pending text.
func (b *SentenceBuffer) Reset() {
	b.pending = ""
}

// Pending reports whether undelivered text is buffered.
func (b *SentenceBuffer) Pending() bool {
	return b.pending != ""
}

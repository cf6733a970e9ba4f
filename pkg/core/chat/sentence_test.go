package chat

import (
	"reflect"
	"strings"
	"testing"
)

func TestSentenceBufferBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		delta string
		want  []string
		rest  string
	}{
		{
			name:  "period",
			delta: "Hello there. How are",
			want:  []string{"Hello there."},
			rest:  "How are",
		},
		{
			name:  "exclamation and question",
			delta: "Wow! Really? Yes",
			want:  []string{"Wow!", "Really?"},
			rest:  "Yes",
		},
		{
			name:  "cjk punctuation",
			delta: "これは実験です。すごい！まだ続く",
			want:  []string{"これは実験です。", "すごい！"},
			rest:  "まだ続く",
		},
		{
			name:  "newline",
			delta: "first line\nsecond",
			want:  []string{"first line"},
			rest:  "second",
		},
		{
			name:  "no boundary",
			delta: "still going",
			want:  nil,
			rest:  "still going",
		},
		{
			name:  "whitespace only segment",
			delta: "  \n  \n",
			want:  nil,
			rest:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf SentenceBuffer
			got := buf.Append(tt.delta)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Append(%q) = %v, want %v", tt.delta, got, tt.want)
			}
			if rest := buf.Flush(); rest != strings.TrimSpace(tt.rest) {
				t.Errorf("Flush() = %q, want %q", rest, strings.TrimSpace(tt.rest))
			}
		})
	}
}

func TestSentenceBufferAcrossDeltas(t *testing.T) {
	var buf SentenceBuffer
	var got []string
	for _, delta := range []string{"The exp", "eriment work", "ed! Tomorrow we", " verify."} {
		got = append(got, buf.Append(delta)...)
	}
	want := []string{"The experiment worked!", "Tomorrow we verify."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sentences = %v, want %v", got, want)
	}
	if buf.Pending() {
		t.Errorf("unexpected pending text: %q", buf.Flush())
	}
}

// Concatenating emitted sentences plus the flushed remainder must
// reproduce the input stream, up to whitespace and boundary trimming.
func TestSentenceBufferReconstruction(t *testing.T) {
	input := "One. Two! Three? 四つ目。\nFive and a partial"
	deltas := []string{"One. Tw", "o! Three? 四", "つ目。\nFive ", "and a partial"}

	var buf SentenceBuffer
	var units []string
	for _, d := range deltas {
		units = append(units, buf.Append(d)...)
	}
	if rest := buf.Flush(); rest != "" {
		units = append(units, rest)
	}

	strip := func(s string) string {
		s = strings.Map(func(r rune) rune {
			if strings.ContainsRune(sentenceBoundaries, r) || r == ' ' {
				return -1
			}
			return r
		}, s)
		return s
	}
	if got, want := strip(strings.Join(units, "")), strip(input); got != want {
		t.Errorf("reconstructed %q, want %q", got, want)
	}
	for _, u := range units {
		if strings.TrimSpace(u) == "" {
			t.Errorf("emitted empty unit in %v", units)
		}
	}
}

func TestSentenceBufferFlushEmpty(t *testing.T) {
	var buf SentenceBuffer
	if got := buf.Flush(); got != "" {
		t.Errorf("Flush() on empty buffer = %q, want \"\"", got)
	}
	buf.Append("dangling text")
	buf.Reset()
	if got := buf.Flush(); got != "" {
		t.Errorf("Flush() after Reset = %q, want \"\"", got)
	}
}

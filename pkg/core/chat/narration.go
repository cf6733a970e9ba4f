package chat

import "strings"

// StripNarration removes single-asterisk stage directions like
// "*sighs*" from text bound for speech synthesis, leaving
// double-asterisk emphasis markers intact. The result is trimmed.
func StripNarration(text string) string {
	if !strings.ContainsRune(text, '*') {
		return strings.TrimSpace(text)
	}

	var b strings.Builder
	b.Grow(len(text))
	i := 0
	for i < len(text) {
		if text[i] != '*' {
			b.WriteByte(text[i])
			i++
			continue
		}

		// Measure the asterisk run. Only a lone asterisk can open a
		// narration span; "**" is emphasis and passes through.
		j := i
		for j < len(text) && text[j] == '*' {
			j++
		}
		if j-i != 1 {
			b.WriteString(text[i:j])
			i = j
			continue
		}

		rel := strings.IndexByte(text[j:], '*')
		if rel < 0 {
			// Unpaired asterisk.
			b.WriteByte('*')
			i = j
			continue
		}
		closing := j + rel
		if closing+1 < len(text) && text[closing+1] == '*' {
			// The candidate closer starts an emphasis run, so this is
			// not a narration span.
			b.WriteString(text[i:closing])
			i = closing
			continue
		}
		// Drop the span including both asterisks.
		i = closing + 1
	}
	return strings.TrimSpace(b.String())
}

package relay

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// defaultMinSentenceLength avoids handing the synthesizer fragments so short
// they sound clipped.
const defaultMinSentenceLength = 10

// sentenceBuffer accumulates streamed text deltas and emits complete
// sentences so synthesis can start before the response finishes. Splitting
// errs late rather than wrong: an ASCII terminator only ends a sentence when
// followed by whitespace, so decimals, version numbers, and dotted
// abbreviations ride through. Whatever never reaches a confirmed boundary
// comes out in flush.
type sentenceBuffer struct {
	buf       strings.Builder
	minLength int
}

// append adds one delta and returns any sentences completed by it.
func (s *sentenceBuffer) append(delta string) []string {
	s.buf.WriteString(delta)

	min := s.minLength
	if min <= 0 {
		min = defaultMinSentenceLength
	}

	runes := []rune(s.buf.String())
	var sentences []string
	start := 0
	for i, r := range runes {
		if !isSentenceEnder(r) {
			continue
		}
		if needsTrailingSpace(r) && (i+1 >= len(runes) || !unicode.IsSpace(runes[i+1])) {
			continue
		}
		candidate := strings.TrimSpace(string(runes[start : i+1]))
		if utf8.RuneCountInString(candidate) < min {
			continue
		}
		sentences = append(sentences, candidate)
		start = i + 1
	}

	if start > 0 {
		remainder := strings.TrimLeft(string(runes[start:]), " \t")
		s.buf.Reset()
		s.buf.WriteString(remainder)
	}
	return sentences
}

// flush returns whatever text remains buffered, trimmed, and resets.
func (s *sentenceBuffer) flush() string {
	out := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return out
}

func isSentenceEnder(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '\n', '。', '！', '？', '；', '…':
		return true
	}
	return false
}

// needsTrailingSpace reports whether the terminator is ambiguous on its own.
// A newline or a CJK full-width ender is a boundary by itself.
func needsTrailingSpace(r rune) bool {
	switch r {
	case '.', '!', '?', ';':
		return true
	}
	return false
}

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentenceBufferSplitsAtConfirmedBoundaries(t *testing.T) {
	var s sentenceBuffer

	assert.Empty(t, s.append("The meeting is at "))
	got := s.append("three o'clock. We can talk then.")
	assert.Equal(t, []string{"The meeting is at three o'clock."}, got)
	assert.Equal(t, "We can talk then.", s.flush())
}

func TestSentenceBufferDoesNotSplitInsideNumbers(t *testing.T) {
	var s sentenceBuffer

	// The period in 3.14 is followed by a digit, not whitespace.
	assert.Empty(t, s.append("The value of pi is 3.1"))
	got := s.append("4 to two decimal places. Neat.")
	assert.Equal(t, []string{"The value of pi is 3.14 to two decimal places."}, got)
}

func TestSentenceBufferHoldsShortFragments(t *testing.T) {
	var s sentenceBuffer

	assert.Empty(t, s.append("Hi. "), "fragment below minimum length must wait")
	got := s.append("More words follow here. ")
	assert.Equal(t, []string{"Hi. More words follow here."}, got)
}

func TestSentenceBufferNewlineIsBoundary(t *testing.T) {
	var s sentenceBuffer

	got := s.append("First line of the answer\nsecond part")
	assert.Equal(t, []string{"First line of the answer"}, got)
	assert.Equal(t, "second part", s.flush())
}

func TestSentenceBufferFlushEmptiesState(t *testing.T) {
	var s sentenceBuffer

	s.append("leftover text")
	assert.Equal(t, "leftover text", s.flush())
	assert.Empty(t, s.flush())
}

func TestSentenceBufferMultipleSentencesInOneDelta(t *testing.T) {
	var s sentenceBuffer

	got := s.append("Everything looks good today! Shall we proceed with it? Yes")
	assert.Equal(t, []string{
		"Everything looks good today!",
		"Shall we proceed with it?",
	}, got)
	assert.Equal(t, "Yes", s.flush())
}

package textproc

import (
	"strings"
	"unicode"
)

// Pause thresholds in seconds between consecutive segments.
const (
	pauseEllipsis = 1.5
	pauseSentence = 0.6
	pauseComma    = 0.3
)

var interrogativeStarts = map[string]bool{
	"what": true, "where": true, "when": true, "why": true, "who": true,
	"whom": true, "whose": true, "which": true, "how": true,
	"is": true, "are": true, "was": true, "were": true, "am": true,
	"do": true, "does": true, "did": true,
	"can": true, "could": true, "would": true, "will": true,
	"should": true, "shall": true, "may": true, "might": true,
}

var interrogativePhrases = []string{
	"do you", "can you", "could you", "would you", "will you",
	"are you", "is it", "is there", "are there", "what if",
	"don't you", "didn't you", "doesn't it",
}

var tagQuestionEndings = []string{
	"right", "okay", "correct",
	"isn't it", "aren't they", "don't you think", "you know",
}

var conjunctionStarts = map[string]bool{
	"and": true, "but": true, "or": true, "nor": true, "so": true,
	"yet": true, "because": true, "although": true, "though": true,
	"while": true, "since": true, "if": true, "unless": true,
	"until": true, "when": true, "after": true, "before": true, "as": true,
}

func firstWord(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,!?")
}

func isInterrogative(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	if interrogativeStarts[firstWord(lower)] {
		return true
	}
	for _, phrase := range interrogativePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	trimmed := strings.Trim(lower, ".,!? ")
	for _, tag := range tagQuestionEndings {
		if trimmed == tag || strings.HasSuffix(trimmed, " "+tag) {
			return true
		}
	}
	return false
}

func startsWithConjunction(text string) bool {
	return conjunctionStarts[firstWord(text)]
}

// pausePunctuation decides what to insert between a segment and its
// predecessor. prev is the preceding segment's text (its lexical shape
// chooses between "." and "?"), next the upcoming segment's text.
func pausePunctuation(pause float64, prev, next string) string {
	switch {
	case pause > pauseEllipsis:
		return "..."
	case pause > pauseSentence:
		if isInterrogative(prev) {
			return "?"
		}
		return "."
	case pause > pauseComma:
		if startsWithConjunction(next) {
			return ""
		}
		return ","
	default:
		return ""
	}
}

func endsWithTerminator(text string) bool {
	trimmed := strings.TrimRight(text, " ")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func capitalizeFirst(text string) string {
	for i, r := range text {
		if unicode.IsLetter(r) {
			return text[:i] + string(unicode.ToUpper(r)) + text[i+len(string(r)):]
		}
		if !unicode.IsSpace(r) && r != '"' && r != '\'' {
			break
		}
	}
	return text
}

// TimedSegment is the minimal shape punctuation inference needs.
type TimedSegment struct {
	Text  string
	Start float64
	End   float64
}

// InferPunctuation rebuilds text from timed segments, inserting punctuation
// from inter-segment pauses. Segment text is noise-filtered first; empty
// segments are skipped. The first segment never receives leading punctuation.
func InferPunctuation(segments []TimedSegment) string {
	var b strings.Builder
	var prevText string
	var prevEnd float64

	for _, seg := range segments {
		text := strings.TrimSpace(RemoveNoise(seg.Text))
		if text == "" {
			// A skipped noise segment still advances the clock so the
			// pause measures silence since the last segment, spoken or not.
			prevEnd = seg.End
			continue
		}
		if b.Len() == 0 {
			b.WriteString(text)
			prevText = text
			prevEnd = seg.End
			continue
		}

		pause := seg.Start - prevEnd
		mark := pausePunctuation(pause, prevText, text)
		b.WriteString(mark)
		b.WriteString(" ")
		if endsWithTerminator(b.String()) {
			text = capitalizeFirst(text)
		}
		b.WriteString(text)
		prevText = text
		prevEnd = seg.End
	}

	return finishSentence(b.String())
}

// finishSentence capitalizes the start and guarantees a terminal mark.
func finishSentence(text string) string {
	out := strings.TrimSpace(text)
	if out == "" {
		return ""
	}
	out = capitalizeFirst(out)
	last := out[len(out)-1]
	if last != '.' && last != '!' && last != '?' {
		out += "."
	}
	return out
}

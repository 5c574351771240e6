package textproc

import "strings"

// Options carries the user-configurable inputs of the pipeline.
type Options struct {
	Expansions           map[string]string
	VoiceCommandsEnabled bool
	VoiceCommands        []VoiceCommand
}

// Process turns a raw transcript and its timing segments into presentable
// text. It is a pure function of its inputs and keeps no state between calls.
//
// Order: whole-text noise match, word-level noise removal, early exit,
// timing-based punctuation, text expansion, voice commands, final cleanup.
func Process(rawText string, segments []TimedSegment, opts Options) string {
	if IsNoiseOnly(rawText) {
		return ""
	}

	text := RemoveNoise(rawText)
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// With two or more timed segments the transcript is rebuilt from the
	// segments so pauses drive punctuation; otherwise the filtered raw text
	// is finished in place.
	if len(segments) >= 2 {
		text = InferPunctuation(segments)
		if text == "" {
			return ""
		}
	} else {
		text = finishSentence(text)
	}

	text = ExpandText(text, opts.Expansions)

	if opts.VoiceCommandsEnabled {
		text = ApplyVoiceCommands(text, opts.VoiceCommands)
	}

	return Cleanup(text)
}

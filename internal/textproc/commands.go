package textproc

import (
	"regexp"
	"strings"
)

// CommandAction enumerates what a matched voice command does to the text.
type CommandAction int

const (
	ActionNewLine CommandAction = iota
	ActionNewParagraph
	ActionScratchThat
	ActionCustom
)

// VoiceCommand binds a spoken phrase to a rewriting action.
type VoiceCommand struct {
	Phrase  string
	Action  CommandAction
	Text    string // replacement text for ActionCustom
	Enabled bool
}

func phraseRE(phrase string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
}

// ApplyVoiceCommands rewrites text according to each enabled command.
func ApplyVoiceCommands(text string, commands []VoiceCommand) string {
	for _, cmd := range commands {
		if !cmd.Enabled || strings.TrimSpace(cmd.Phrase) == "" {
			continue
		}
		re, err := phraseRE(cmd.Phrase)
		if err != nil {
			continue
		}
		switch cmd.Action {
		case ActionNewLine:
			text = re.ReplaceAllLiteralString(text, "\n")
		case ActionNewParagraph:
			text = re.ReplaceAllLiteralString(text, "\n\n")
		case ActionScratchThat:
			text = scratchThat(text, re)
		case ActionCustom:
			text = re.ReplaceAllLiteralString(text, cmd.Text)
		}
	}
	return text
}

// scratchThat deletes backward from the last occurrence of the phrase to the
// end of the previous sentence, or to the start of the text if no sentence
// boundary precedes it. The phrase itself is deleted as well.
func scratchThat(text string, re *regexp.Regexp) string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	last := locs[len(locs)-1]
	boundary := strings.LastIndexAny(text[:last[0]], ".!?")
	if boundary < 0 {
		return text[last[1]:]
	}
	return text[:boundary+1] + text[last[1]:]
}

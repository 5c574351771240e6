package textproc

import (
	"regexp"
	"strings"
)

// Non-speech artifacts that speech models emit as literal words.
var noiseWords = []string{
	"um", "uhm", "uh", "uhh", "er", "erm", "ah", "ahh", "hmm", "hm", "mhm",
	"mm", "mmm", "uh-huh", "huh",
	"inhales", "exhales", "sniffs", "sniffles", "coughs", "clears throat",
	"breathes", "breathing", "sighs", "sigh",
	"music", "applause", "laughter", "laughs", "noise", "silence", "static",
	"click", "clicking", "typing", "beep", "blank_audio", "blank audio",
	"inaudible", "unintelligible",
}

var (
	// Entire input is noise: only bracketed/parenthetical/asterisked spans
	// and/or ellipses, nothing else.
	wholeNoiseRE = regexp.MustCompile(`^(?:\s*(?:\[[^\]]*\]|\([^)]*\)|\*[^*]*\*|\.{2,}|…))+\s*$`)

	bracketSpanRE  = regexp.MustCompile(`\[([^\]]*)\]`)
	parenSpanRE    = regexp.MustCompile(`\(([^)]*)\)`)
	asteriskSpanRE = regexp.MustCompile(`\*[^*]*\*`)

	noiseWordRE = buildNoiseWordRE()
)

func buildNoiseWordRE() *regexp.Regexp {
	escaped := make([]string, 0, len(noiseWords))
	for _, w := range noiseWords {
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	// Standalone occurrence, trailing punctuation tolerated.
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b[.,!?]*`)
}

// IsNoiseOnly reports whether the entire trimmed text is a non-speech artifact.
func IsNoiseOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	return wholeNoiseRE.MatchString(trimmed)
}

func isNoiseKeyword(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	c = strings.Trim(c, ".,!?*_ ")
	if c == "" {
		return true
	}
	for _, w := range noiseWords {
		if c == w {
			return true
		}
	}
	return false
}

// RemoveNoise strips word-level artifacts: standalone noise vocabulary,
// bracketed or parenthesized spans whose content is a noise keyword, and
// asterisk-wrapped spans.
func RemoveNoise(text string) string {
	out := asteriskSpanRE.ReplaceAllString(text, " ")
	out = bracketSpanRE.ReplaceAllStringFunc(out, func(span string) string {
		inner := bracketSpanRE.FindStringSubmatch(span)[1]
		if isNoiseKeyword(inner) {
			return " "
		}
		return span
	})
	out = parenSpanRE.ReplaceAllStringFunc(out, func(span string) string {
		inner := parenSpanRE.FindStringSubmatch(span)[1]
		if isNoiseKeyword(inner) {
			return " "
		}
		return span
	})
	out = noiseWordRE.ReplaceAllString(out, " ")
	return collapseSpaces(out)
}

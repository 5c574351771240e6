package textproc

import (
	"regexp"
	"strings"
)

var (
	spaceRunRE        = regexp.MustCompile(`[ \t]+`)
	spaceAroundNLRE   = regexp.MustCompile(` *\n *`)
	spaceBeforePunct  = regexp.MustCompile(` +([.,!?;:])`)
	commaRunRE        = regexp.MustCompile(`,{2,}`)
	missingSpaceAfter = regexp.MustCompile(`([.!?])([A-Za-z])`)
)

func collapseSpaces(text string) string {
	out := spaceRunRE.ReplaceAllString(text, " ")
	out = spaceAroundNLRE.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}

// collapseDots normalizes runs of periods: ".." is a stutter and becomes ".",
// "..." is a deliberate ellipsis and stays, anything longer collapses to "...".
func collapseDots(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	run := 0
	flush := func() {
		switch {
		case run == 0:
		case run == 1 || run == 2:
			b.WriteByte('.')
		default:
			b.WriteString("...")
		}
		run = 0
	}
	for _, r := range text {
		if r == '.' {
			run++
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

// Cleanup normalizes whitespace and punctuation. Running it on its own
// output yields identical text.
func Cleanup(text string) string {
	out := collapseSpaces(text)
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	out = collapseDots(out)
	out = commaRunRE.ReplaceAllString(out, ",")
	out = missingSpaceAfter.ReplaceAllString(out, "$1 $2")
	return strings.TrimSpace(out)
}

package textproc

import (
	"regexp"
	"sort"
)

var standaloneIRE = regexp.MustCompile(`\bi\b`)

// ExpandText applies spoken-form to written-form substitutions, word-boundary
// and case-insensitive, then capitalizes standalone "i". Longer phrases are
// applied first so "et cetera et cetera" style overlaps resolve the same way
// every run.
func ExpandText(text string, expansions map[string]string) string {
	if len(expansions) > 0 {
		phrases := make([]string, 0, len(expansions))
		for phrase := range expansions {
			phrases = append(phrases, phrase)
		}
		sort.Slice(phrases, func(i, j int) bool {
			if len(phrases[i]) != len(phrases[j]) {
				return len(phrases[i]) > len(phrases[j])
			}
			return phrases[i] < phrases[j]
		})
		for _, phrase := range phrases {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
			if err != nil {
				continue
			}
			replacement := expansions[phrase]
			text = re.ReplaceAllLiteralString(text, replacement)
		}
	}
	return standaloneIRE.ReplaceAllLiteralString(text, "I")
}

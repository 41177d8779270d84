package planner

import (
	"regexp"
	"strings"
)

// Language is a translation target the planner recognises in questions.
type Language struct {
	Name string
	Code string
}

// Languages is checked in order; the first match wins.
var Languages = []Language{
	{"tamil", "ta"},
	{"spanish", "es"},
	{"french", "fr"},
	{"german", "de"},
	{"hindi", "hi"},
	{"chinese", "zh"},
	{"japanese", "ja"},
	{"korean", "ko"},
	{"arabic", "ar"},
	{"russian", "ru"},
	{"portuguese", "pt"},
	{"italian", "it"},
}

var languagePatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(Languages))
	for i, l := range Languages {
		out[i] = regexp.MustCompile(`\bto\s+(?:` + l.Name + `|` + l.Code + `)\b`)
	}
	return out
}()

// DetectTargetLanguage returns the code of the first language named as
// "to <language>" or "to <code>" in question.
func DetectTargetLanguage(question string) (string, bool) {
	q := strings.ToLower(question)
	for i, re := range languagePatterns {
		if re.MatchString(q) {
			return Languages[i].Code, true
		}
	}
	return "", false
}

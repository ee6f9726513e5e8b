package match

import (
	"strings"
	"unicode"
)

// TextProfile captures the normalization output for a free-text question.
type TextProfile struct {
	Original   string
	Normalized string
	Tokens     []string
}

// NormalizeText lowercases the input, drops apostrophes, replaces every other
// punctuation or symbol with a space and collapses runs of whitespace.
func NormalizeText(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r == '\'' || r == '’':
			// "don't" -> "dont", "pepper's" -> "peppers"
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Profile normalizes and tokenizes the supplied text.
func Profile(input string) TextProfile {
	normalized := NormalizeText(input)
	return TextProfile{
		Original:   input,
		Normalized: normalized,
		Tokens:     strings.Fields(normalized),
	}
}

// ContainsPhrase reports whether phrase occurs in text on whole-word
// boundaries. Both arguments are expected to be normalized already.
func ContainsPhrase(text, phrase string) bool {
	if text == "" || phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// PluralForms expands a normalized alias into the surface forms matched for
// it: the alias itself plus its regular plural. Words ending in o get both
// "+s" and "+es" (espressos, tomatoes).
func PluralForms(alias string) []string {
	alias = NormalizeText(alias)
	if alias == "" {
		return nil
	}
	forms := []string{alias}
	switch {
	case strings.HasSuffix(alias, "o"):
		forms = appendUnique(forms, alias+"s")
		forms = appendUnique(forms, alias+"es")
	case strings.HasSuffix(alias, "s"),
		strings.HasSuffix(alias, "x"),
		strings.HasSuffix(alias, "ch"),
		strings.HasSuffix(alias, "sh"):
		forms = appendUnique(forms, alias+"es")
	case strings.HasSuffix(alias, "y") && len(alias) > 1 && !isVowel(rune(alias[len(alias)-2])):
		forms = appendUnique(forms, alias[:len(alias)-1]+"ies")
	default:
		forms = appendUnique(forms, alias+"s")
	}
	return forms
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func appendUnique(s []string, v string) []string {
	if v == "" {
		return s
	}
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

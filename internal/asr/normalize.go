package asr

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalize canonicalizes engine output: trim, locale-aware lowercase,
// collapse internal whitespace runs to single spaces. Every transcript gets
// the same treatment regardless of which engine produced it, so downstream
// consumers never see engine-specific casing or spacing quirks.
func Normalize(tag language.Tag, raw string) string {
	lowered := cases.Lower(tag).String(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(lowered), " ")
}

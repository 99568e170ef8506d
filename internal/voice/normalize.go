// Package voice prepares model output for a text-to-speech client and
// cleans inbound transcripts.
package voice

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/entrepeneur4lyf/kbchat/internal/markdown"
)

// arabicMarks covers harakat, Quranic annotation signs and tatweel.
var arabicMarks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0610, Hi: 0x061a, Stride: 1},
		{Lo: 0x0640, Hi: 0x0640, Stride: 1},
		{Lo: 0x064b, Hi: 0x065f, Stride: 1},
		{Lo: 0x0670, Hi: 0x0670, Stride: 1},
		{Lo: 0x06d6, Hi: 0x06dc, Stride: 1},
		{Lo: 0x06df, Hi: 0x06e4, Stride: 1},
		{Lo: 0x06e7, Hi: 0x06e8, Stride: 1},
		{Lo: 0x06ea, Hi: 0x06ed, Stride: 1},
	},
}

// HasArabic reports whether text contains Arabic letters.
func HasArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) && !unicode.Is(arabicMarks, r) {
			return true
		}
	}
	return false
}

// StripArabicDiacritics removes vowel marks and tatweel.
func StripArabicDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(arabicMarks)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// Normalize returns text ready to be spoken: markdown syntax and citation
// markers are removed, and Arabic diacritics are stripped when the text is
// Arabic.
func Normalize(text string) string {
	text = markdown.StripMarkers(text)
	if HasArabic(text) {
		text = StripArabicDiacritics(text)
	}
	return strings.Join(strings.Fields(text), " ")
}

// Language picks the voice language for text, preferring Arabic when the
// script is present.
func Language(text string, fallback language.Tag) language.Tag {
	if HasArabic(text) {
		return language.Arabic
	}
	return fallback
}

// CleanTranscript collapses whitespace in a recognized utterance.
func CleanTranscript(transcript string) string {
	return strings.Join(strings.Fields(transcript), " ")
}

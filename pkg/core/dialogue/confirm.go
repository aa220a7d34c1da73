package dialogue

import (
	"strings"
	"unicode"
)

// Word sets match the whole normalized utterance. Membership is exact:
// anything not matched is UNCLEAR, never an affirmative. Apostrophes and
// punctuation are stripped before matching, so "That's correct!" matches
// "thats correct".
var affirmPhrases = map[string]struct{}{
	"yes": {}, "y": {}, "yeah": {}, "yep": {}, "yup": {},
	"confirm": {}, "confirmed": {}, "correct": {},
	"ok": {}, "okay": {}, "sure": {},
	"yes please": {}, "thats right": {}, "thats correct": {},
	"sounds good": {}, "looks good": {}, "book it": {},
	"go ahead": {}, "do it": {}, "yes book it": {}, "please book it": {},
}

var denyPhrases = map[string]struct{}{
	"no": {}, "n": {}, "nope": {}, "nah": {},
	"cancel": {}, "restart": {}, "stop": {}, "wrong": {},
	"not yet": {}, "not quite": {}, "hold on": {},
	"thats wrong": {}, "change it": {}, "no thanks": {}, "no thank you": {},
}

// Classify maps a user utterance to a confirmation intent. It is
// fail-closed: only an unambiguous, whole-utterance affirmative yields
// AFFIRM. Hedges, partial matches, and corrections are UNCLEAR, which the
// machine answers with a fresh recap rather than a booking.
func Classify(utterance string) Intent {
	normalized := normalizeUtterance(utterance)
	if normalized == "" {
		return IntentUnclear
	}
	if _, ok := affirmPhrases[normalized]; ok {
		return IntentAffirm
	}
	if _, ok := denyPhrases[normalized]; ok {
		return IntentDeny
	}
	return IntentUnclear
}

func normalizeUtterance(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

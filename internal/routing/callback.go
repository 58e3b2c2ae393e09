// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/halodesk/halodesk/internal/provider"
)

// callbackClassifyTimeout bounds the layer-B confirmation call. On timeout
// the intercept trusts layer A (fail open): layer A is precision-filtered
// enough that a missing veto is cheaper than a blocked turn.
const callbackClassifyTimeout = 3 * time.Second

// callbackConfirmThreshold is the minimum layer-B confidence required to
// veto layer A. Below it the classifier verdict is ignored.
const callbackConfirmThreshold = 0.5

// Layer-A callback stems, normalized. Recall-biased candidate filter with
// no decision power of its own.
var callbackStems = []string{
	"beni ara", "geri ara", "geri arayin", "geri arar misiniz",
	"beni arar misiniz", "arayabilir misiniz", "telefonla ara",
	"geri donus", "geri donus yapar misiniz",
	"call me", "call back", "callback", "call me back",
	"give me a call", "ring me", "phone me",
}

// matchCallbackStem is layer A: a cheap diacritic-normalized stem match.
func matchCallbackStem(text string) bool {
	norm := normalizeText(text)
	for _, stem := range callbackStems {
		if strings.Contains(" "+norm+" ", " "+stem+" ") {
			return true
		}
	}
	return false
}

// confirmCallbackIntent is layer B: a short classifier round trip that can
// veto a layer-A hit. Returns true (trust layer A) on timeout or error.
func confirmCallbackIntent(ctx context.Context, classifier provider.Classifier, text, language string, logger *slog.Logger) bool {
	if classifier == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, callbackClassifyTimeout)
	defer cancel()

	cls, err := classifier.Classify(ctx, text, nil, language)
	if err != nil || cls == nil {
		logger.Warn("callback confirmation classifier failed, trusting stem match", "error", err)
		return true
	}
	if cls.Confidence < callbackConfirmThreshold {
		return true
	}
	return cls.Intent == provider.IntentCallbackRequest
}

// Placeholder names that must never be recorded as a customer name.
var placeholderNames = map[string]struct{}{
	"test": {}, "deneme": {}, "asdf": {}, "abc": {}, "xyz": {},
	"musteri": {}, "customer": {}, "user": {}, "admin": {},
	"bilinmiyor": {}, "unknown": {}, "yok": {}, "none": {},
}

// Intro phrases that precede a self-stated name, normalized.
var nameIntroPhrases = []string{
	"benim adim", "adim", "ben", "ismim",
	"my name is", "this is", "i am", "im", "it s",
}

// nameStopWords terminate a name candidate: request verbs and contact
// nouns that follow a self-introduction are not part of the name.
var nameStopWords = map[string]struct{}{
	"beni": {}, "ara": {}, "arayin": {}, "geri": {}, "lutfen": {},
	"numaram": {}, "telefonum": {}, "telefon": {},
	"please": {}, "call": {}, "me": {}, "back": {}, "my": {},
	"number": {}, "phone": {}, "and": {}, "ve": {},
}

// ExtractCallbackName pulls a candidate customer name out of free text
// with conservative heuristics: an intro phrase must be present, the
// candidate is capped at three words, and placeholder names are rejected.
// Returns "" when nothing trustworthy is found.
func ExtractCallbackName(text string) string {
	norm := normalizeText(text)
	for _, intro := range nameIntroPhrases {
		idx := strings.Index(" "+norm+" ", " "+intro+" ")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(norm[idx+len(intro):])
		words := strings.Fields(rest)
		if len(words) == 0 {
			continue
		}
		if len(words) > 3 {
			words = words[:3]
		}
		candidate := make([]string, 0, len(words))
		for _, w := range words {
			if isNumericWord(w) {
				break
			}
			if _, stop := nameStopWords[w]; stop {
				break
			}
			if _, bad := placeholderNames[w]; bad {
				return ""
			}
			candidate = append(candidate, w)
		}
		if len(candidate) == 0 {
			continue
		}
		return titleCase(strings.Join(candidate, " "))
	}
	return ""
}

// Phone digit-length bounds. Accepts national (10-11 digits) through
// international (up to 15 digits, E.164 max) forms.
const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

// ExtractCallbackPhone pulls a candidate phone number out of free text.
// Separators are stripped; the digit run must fall within sane bounds.
// Returns "" when nothing trustworthy is found.
func ExtractCallbackPhone(text string) string {
	var digits strings.Builder
	run := 0
	best := ""
	flush := func() {
		if run >= minPhoneDigits && run <= maxPhoneDigits && run > len(best) {
			best = digits.String()
		}
		digits.Reset()
		run = 0
	}
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
			run++
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '+':
			// separator inside a number, keep accumulating
		default:
			flush()
		}
	}
	flush()
	return best
}

// MergeCallbackUpdate folds newly extracted fields into the decision,
// never overwriting an existing value unless the new one is more specific
// (longer name, longer digit run).
func MergeCallbackUpdate(existingName, existingPhone string, upd CallbackUpdate) CallbackUpdate {
	merged := CallbackUpdate{CustomerName: existingName, CustomerPhone: existingPhone}
	if upd.CustomerName != "" && len(upd.CustomerName) > len(existingName) {
		merged.CustomerName = upd.CustomerName
	}
	if upd.CustomerPhone != "" && len(upd.CustomerPhone) > len(existingPhone) {
		merged.CustomerPhone = upd.CustomerPhone
	}
	return merged
}

func isNumericWord(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return w != ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

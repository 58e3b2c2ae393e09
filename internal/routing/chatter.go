// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package routing

import "strings"

// maxChatterWords caps how long a message can be and still count as pure
// chatter. Anything longer is assumed to carry task content.
const maxChatterWords = 5

// Chatter stems per kind, in normalized form. Matching is whole-message
// or prefix-token, never substring, so "merhabalar siparişim nerede"
// does not short-circuit.
var (
	greetingStems = []string{
		"selam", "selamlar", "merhaba", "merhabalar", "gunaydin",
		"iyi gunler", "iyi aksamlar", "hello", "hi", "hey",
		"good morning", "good afternoon", "good evening",
	}
	thanksStems = []string{
		"tesekkurler", "tesekkur ederim", "sagol", "sagolun", "eyvallah",
		"thanks", "thank you", "thx", "ty", "cheers",
	}
	fillerStems = []string{
		"ok", "okay", "tamam", "tamamdir", "peki", "anladim", "evet",
		"yes", "yep", "sure", "alright", "gorusuruz", "bye", "goodbye",
		"iyi gunler dilerim",
	}
)

// businessKeywords veto chatter detection: a short message containing any
// of these is task input, not small talk.
var businessKeywords = []string{
	"siparis", "kargo", "iade", "fatura", "odeme", "stok", "fiyat",
	"randevu", "urun", "order", "refund", "invoice", "payment", "stock",
	"price", "appointment", "delivery", "shipping", "return", "cancel",
	"iptal",
}

// DetectChatter reports whether text is pure small talk and which kind.
// Deterministic: no model call, ever. Callers must only invoke it when no
// task is active, because the same words can carry task data mid-flow.
func DetectChatter(text string) (ChatterKind, bool) {
	norm := normalizeText(text)
	if norm == "" {
		return "", false
	}
	if wordCount(norm) > maxChatterWords {
		return "", false
	}
	for _, kw := range businessKeywords {
		if hasTokenWithPrefix(norm, kw) {
			return "", false
		}
	}
	if matchesStem(norm, greetingStems) {
		return ChatterGreeting, true
	}
	if matchesStem(norm, thanksStems) {
		return ChatterThanks, true
	}
	if matchesStem(norm, fillerStems) {
		return ChatterFiller, true
	}
	return "", false
}

// matchesStem accepts an exact match or the stem followed by more words
// ("selam", "selam nasilsin"). The whole message already passed the word
// cap and the keyword veto.
func matchesStem(norm string, stems []string) bool {
	for _, stem := range stems {
		if norm == stem || strings.HasPrefix(norm, stem+" ") {
			return true
		}
	}
	return false
}

// hasTokenWithPrefix reports whether any word in norm starts with prefix.
// Prefix matching rather than whole-word because Turkish suffixes inflect
// nouns ("siparisim", "kargom").
func hasTokenWithPrefix(norm, prefix string) bool {
	for _, tok := range strings.Fields(norm) {
		if strings.HasPrefix(tok, prefix) {
			return true
		}
	}
	return false
}

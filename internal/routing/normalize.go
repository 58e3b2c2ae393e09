// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package routing

import (
	"strings"
	"unicode"
)

// diacriticFold maps accented letters common in Turkish and western
// European text to their ASCII base. Lookup happens after lowercasing.
var diacriticFold = map[rune]rune{
	'ç': 'c', 'ğ': 'g', 'ı': 'i', 'ö': 'o', 'ş': 's', 'ü': 'u',
	'â': 'a', 'à': 'a', 'á': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'î': 'i', 'ï': 'i', 'í': 'i',
	'ô': 'o', 'ó': 'o',
	'û': 'u', 'ú': 'u',
}

// normalizeText lowercases, folds diacritics, and collapses every
// non-alphanumeric run into a single space. Stem matching operates on
// this canonical form only.
func normalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if folded, ok := diacriticFold[r]; ok {
			r = folded
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			sb.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(sb.String())
}

// wordCount counts whitespace-separated tokens in normalized text.
func wordCount(normalized string) int {
	if normalized == "" {
		return 0
	}
	return len(strings.Fields(normalized))
}

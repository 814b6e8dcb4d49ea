package source

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxExcerptChars bounds the derived excerpt field
const MaxExcerptChars = 300

// MaxKeywords bounds the derived keywords field
const MaxKeywords = 10

// keywordPreviewBytes is how much of the content feeds keyword extraction
const keywordPreviewBytes = 200

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "as": true, "by": true, "is": true,
	"it": true, "be": true, "with": true, "from": true, "that": true,
	"this": true, "are": true, "was": true, "you": true, "your": true,
}

// ExtractKeywords extracts key terms from title and the start of content,
// in order of first appearance
func ExtractKeywords(title, content string) []string {
	words := strings.Fields(strings.ToLower(title))

	preview := content
	if len(content) > keywordPreviewBytes {
		cut := keywordPreviewBytes
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		preview = content[:cut]
	}
	words = append(words, strings.Fields(strings.ToLower(preview))...)

	seen := make(map[string]bool)
	keywords := make([]string, 0, MaxKeywords)
	for _, word := range words {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(word) <= 2 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}

// Excerpt cuts text to at most maxChars, backing off to a word boundary
func Excerpt(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}

	cut := maxChars
	// Look back for space or newline
	for i := maxChars; i > maxChars-100 && i > 0; i-- {
		if text[i] == ' ' || text[i] == '\n' {
			cut = i
			break
		}
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimSpace(text[:cut])
}

package engine

import (
	"strings"
	"unicode"
)

// Analyzer turns field text into index terms.
type Analyzer interface {
	Analyze(text string) []string
}

// StandardAnalyzer lowercases text and splits it on anything that is not a
// letter or a digit. Tokens longer than MaxTokenLength are dropped.
type StandardAnalyzer struct {
	MaxTokenLength int
}

const defaultMaxTokenLength = 255

// Analyze implements Analyzer.
func (a StandardAnalyzer) Analyze(text string) []string {
	limit := a.MaxTokenLength
	if limit <= 0 {
		limit = defaultMaxTokenLength
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > limit {
			continue
		}
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// KeywordAnalyzer indexes the whole value as one lowercase term.
type KeywordAnalyzer struct{}

// Analyze implements Analyzer.
func (KeywordAnalyzer) Analyze(text string) []string {
	if text == "" {
		return nil
	}
	return []string{strings.ToLower(text)}
}

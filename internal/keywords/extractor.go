package keywords

import (
	"context"
	"fmt"
	"strings"

	prose "github.com/jdkato/prose/v2"
)

const defaultMaxKeywords = 6

// Extractor pulls search keywords out of a post: named entities first, then
// nouns, deduplicated case-insensitively.
type Extractor struct {
	maxKeywords int
}

func NewExtractor(maxKeywords int) *Extractor {
	if maxKeywords <= 0 {
		maxKeywords = defaultMaxKeywords
	}
	return &Extractor{maxKeywords: maxKeywords}
}

// Extract implements pipeline.KeywordExtractor.
func (e *Extractor) Extract(ctx context.Context, text string) ([]string, error) {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze post text: %w", err)
	}

	seen := make(map[string]struct{})
	keywords := make([]string, 0, e.maxKeywords)

	add := func(word string) {
		word = strings.TrimSpace(word)
		if word == "" || len(keywords) >= e.maxKeywords {
			return
		}
		key := strings.ToLower(word)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		keywords = append(keywords, word)
	}

	for _, ent := range doc.Entities() {
		add(ent.Text)
	}

	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NN") || tok.Tag == "CD" {
			add(tok.Text)
		}
	}

	return keywords, nil
}

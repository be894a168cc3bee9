// Package search fetches web snippets used as extra hints for generation.
package search

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Searcher returns up to max text snippets for query.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]string, error)
	Configured() bool
}

// GoogleSearcher queries the Programmable Search JSON API.
type GoogleSearcher struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSearcher creates a searcher for the engine cx.
func NewGoogleSearcher(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("customsearch client: %w", err)
	}
	return &GoogleSearcher{svc: svc, cx: cx}, nil
}

// Configured reports whether a search engine id is set.
func (g *GoogleSearcher) Configured() bool { return g != nil && g.cx != "" }

func (g *GoogleSearcher) Search(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		return []string{}, nil
	}
	num := int64(max)
	if num > 10 {
		num = 10
	}
	res, err := g.svc.Cse.List().Q(query).Cx(g.cx).Num(num).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	snippets := make([]string, 0, max)
	for _, item := range res.Items {
		text := strings.TrimSpace(item.Snippet)
		if text == "" {
			text = strings.TrimSpace(item.Title)
		}
		if text == "" {
			continue
		}
		snippets = append(snippets, text)
		if len(snippets) >= max {
			break
		}
	}
	return snippets, nil
}

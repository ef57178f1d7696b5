package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// SourceWeb marks organic web results. The HTML endpoint serves no news vertical.
const SourceWeb = "web"

type Result struct {
	Title   string `json:"title" yaml:"title"`
	Snippet string `json:"snippet" yaml:"snippet"`
	URL     string `json:"url" yaml:"url"`
	Date    string `json:"date,omitempty" yaml:"date,omitempty"`
	Source  string `json:"source" yaml:"source"`
}

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

const (
	maxTrends        = 5
	maxTitleLength   = 100
	maxSnippetLength = 150
)

var trendKeywords = []string{"trending", "viral", "popular", "growing", "rising"}

// Summarize keeps the results that mention a trend keyword and renders each as
// "title - snippet" with both parts shortened. At most five lines are returned.
func Summarize(results []Result) []string {
	trends := lo.FilterMap(results, func(r Result, _ int) (string, bool) {
		title, snippet := strings.ToLower(r.Title), strings.ToLower(r.Snippet)
		if !lo.ContainsBy(trendKeywords, func(k string) bool {
			return strings.Contains(title, k) || strings.Contains(snippet, k)
		}) {
			return "", false
		}
		line := shorten(r.Title, maxTitleLength)
		if r.Snippet != "" {
			line = fmt.Sprintf("%s - %s", line, shorten(r.Snippet, maxSnippetLength))
		}
		return line, true
	})
	return lo.Slice(trends, 0, maxTrends)
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

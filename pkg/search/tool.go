package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

const DefaultMaxResults = 10

// Tool runs the market research queries used by the trends role. Search failures are logged
// and produce no results, so a research step never fails the caller.
type Tool struct {
	log        *slog.Logger
	searcher   Searcher
	maxResults int
	now        func() time.Time
}

func NewTool(log *slog.Logger, searcher Searcher, maxResults int) *Tool {
	if log == nil {
		log = slog.Default()
	}
	return &Tool{
		log:        log,
		searcher:   searcher,
		maxResults: lo.If(maxResults > 0, maxResults).Else(DefaultMaxResults),
		now:        time.Now,
	}
}

// Trends searches the query enriched with social media trend keywords.
func (t *Tool) Trends(ctx context.Context, query string) []Result {
	enhanced := fmt.Sprintf("%s trends social media viral hashtag %d", query, t.now().Year())
	results, err := t.searcher.Search(ctx, enhanced, t.maxResults)
	if err != nil {
		t.log.Warn("trend search failed", "query", query, "error", err)
		return nil
	}
	return lo.Slice(results, 0, t.maxResults)
}

// TrendSummary is Summarize(Trends(query)).
func (t *Tool) TrendSummary(ctx context.Context, query string) []string {
	return Summarize(t.Trends(ctx, query))
}

// CompetitorMoves collects recent competitor activity, de-duplicated by URL.
func (t *Tool) CompetitorMoves(ctx context.Context, brand, industry string) []Result {
	year := t.now().Year()
	results := t.collect(ctx,
		fmt.Sprintf("%s competitor news launch %d", industry, year),
		fmt.Sprintf("%s vs competitors recent", brand),
		fmt.Sprintf("%s market trends new products", industry),
	)
	results = lo.Filter(results, func(r Result, _ int) bool { return r.URL != "" })
	results = lo.UniqBy(results, func(r Result) string { return r.URL })
	return lo.Slice(results, 0, t.maxResults)
}

// ViralContent collects viral formats and hashtags around a topic.
func (t *Tool) ViralContent(ctx context.Context, topic string) []Result {
	results := t.collect(ctx,
		fmt.Sprintf("%s viral TikTok Instagram %d", topic, t.now().Year()),
		fmt.Sprintf("%s trending hashtags social media", topic),
		fmt.Sprintf("%s viral marketing campaign recent", topic),
	)
	return lo.Slice(results, 0, t.maxResults)
}

func (t *Tool) collect(ctx context.Context, queries ...string) []Result {
	return lo.FlatMap(queries, func(q string, _ int) []Result {
		return t.Trends(ctx, q)
	})
}

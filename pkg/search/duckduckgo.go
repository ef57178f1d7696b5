package search

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/integrail/persona-lab/pkg/llm"
)

const (
	DefaultEndpoint  = "https://html.duckduckgo.com/html/"
	DefaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// DefaultRetryPolicy returns 3 attempts starting at 2s, doubling, capped at 20s.
func DefaultRetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         2 * time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          20 * time.Second,
	}
}

type Config struct {
	Endpoint  string          `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UserAgent string          `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Region    string          `json:"region,omitempty" yaml:"region,omitempty"` // kl parameter, e.g. us-en
	Timeout   time.Duration   `json:"timeout" yaml:"timeout"`                   // per attempt
	Retry     llm.RetryPolicy `json:"retry" yaml:"retry"`
}

type Option func(d *DuckDuckGo)

func WithHTTPClient(client *http.Client) Option {
	return func(d *DuckDuckGo) {
		d.http = client
	}
}

func WithSleeper(sleep llm.Sleeper) Option {
	return func(d *DuckDuckGo) {
		d.sleep = sleep
	}
}

// DuckDuckGo scrapes the JavaScript-free HTML results page.
type DuckDuckGo struct {
	log   *slog.Logger
	cfg   Config
	http  *http.Client
	sleep llm.Sleeper
}

func NewDuckDuckGo(log *slog.Logger, cfg Config, opts ...Option) (*DuckDuckGo, error) {
	cfg.Endpoint = lo.If(cfg.Endpoint != "", cfg.Endpoint).Else(DefaultEndpoint)
	cfg.UserAgent = lo.If(cfg.UserAgent != "", cfg.UserAgent).Else(defaultUserAgent)
	cfg.Timeout = lo.If(cfg.Timeout != 0, cfg.Timeout).Else(DefaultTimeout)
	if cfg.Retry == (llm.RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, errors.Wrapf(err, "invalid search endpoint %q", cfg.Endpoint)
	}
	if log == nil {
		log = slog.Default()
	}
	d := &DuckDuckGo{
		log:   log.With("searcher", "duckduckgo"),
		cfg:   cfg,
		http:  http.DefaultClient,
		sleep: llm.SleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// retryable marks an attempt failure worth another try.
type retryable struct {
	error
}

func (r retryable) Unwrap() error { return r.error }

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Errorf("search query is empty")
	}

	var lastErr error
	for n := 1; n <= d.cfg.Retry.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "search %q cancelled after %d attempt(s)", query, n-1)
		}
		results, err := d.attempt(ctx, query)
		if err == nil {
			d.log.Debug("search done", "query", query, "attempt", n, "results", len(results))
			return lo.Slice(results, 0, lo.If(limit > 0, limit).Else(len(results))), nil
		}
		lastErr = err
		var r retryable
		if !errors.As(err, &r) || ctx.Err() != nil {
			break
		}
		if n == d.cfg.Retry.MaxAttempts {
			break
		}
		delay := d.cfg.Retry.Delay(n)
		d.log.Warn("search attempt failed, retrying", "query", query, "attempt", n, "delay", delay, "error", err)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, errors.Wrapf(err, "search %q cancelled after %d attempt(s)", query, n)
		}
	}
	return nil, errors.Wrapf(lastErr, "search %q failed", query)
}

func (d *DuckDuckGo) attempt(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	form := url.Values{"q": {query}}
	if d.cfg.Region != "" {
		form.Set("kl", d.cfg.Region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.Endpoint+"?"+form.Encode(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to init search request")
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, retryable{errors.Wrapf(err, "failed to reach %s", d.cfg.Endpoint)}
	}
	defer resp.Body.Close()

	switch {
	// 202 is served together with the anomaly page when requests come in too fast
	case resp.StatusCode == http.StatusAccepted, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, retryable{errors.Errorf("search endpoint answered %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("search endpoint answered %s", resp.Status)
	}
	results, err := parseResults(resp.Body)
	if err != nil {
		return nil, retryable{err}
	}
	return results, nil
}

func parseResults(body io.Reader) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse search results page")
	}
	var results []Result
	doc.Find(".result").Not(".result--ad").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target := unwrapRedirect(href)
		if target == "" {
			return
		}
		results = append(results, Result{
			Title:   collapseSpace(link.Text()),
			Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
			URL:     target,
			Date:    collapseSpace(s.Find(".result__timestamp").First().Text()),
			Source:  SourceWeb,
		})
	})
	return results, nil
}

// unwrapRedirect resolves DuckDuckGo's //duckduckgo.com/l/?uddg=<target> links.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasPrefix(u.Path, "/l/") {
		return target
	}
	if u.Scheme == "" {
		return ""
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

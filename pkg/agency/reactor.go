package agency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/integrail/persona-lab/pkg/llm"
)

const DefaultConcurrency = 2

// Reactor asks the model to answer as a persona.
type Reactor struct {
	log         *slog.Logger
	client      llm.Client
	model       string
	options     map[string]any
	stream      bool
	concurrency int
}

func NewReactor(log *slog.Logger, client llm.Client, opts ...Option) *Reactor {
	c := newConfig(opts)
	if log == nil {
		log = slog.Default()
	}
	return &Reactor{
		log:         log,
		client:      client,
		model:       c.model,
		options:     c.options,
		stream:      c.stream,
		concurrency: c.concurrency,
	}
}

// React returns one persona's reaction to the product.
func (r *Reactor) React(ctx context.Context, persona, product string) (*llm.GenerateResponse, error) {
	res, err := r.client.Generate(ctx, llm.GenerateRequest{
		Prompt:  reactionPrompt(strings.TrimSpace(persona), strings.TrimSpace(product)),
		System:  systemPersona,
		Model:   r.model,
		Options: r.options,
		Stream:  r.stream,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Response) == "" {
		return nil, errors.Errorf("model %q returned an empty reaction", res.Model)
	}
	return res, nil
}

// Reaction is the outcome for one persona. Exactly one of Response and Err is set.
type Reaction struct {
	Persona  string
	Response *llm.GenerateResponse
	Err      error
}

func (r Reaction) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("Reaction unavailable: %s", r.Err.Error())
	}
	return strings.TrimSpace(r.Response.Response)
}

// ReactAll collects the reactions of every persona, running at most the configured number of
// requests at once. Results keep the order of personas. A failing persona does not stop the
// others.
func (r *Reactor) ReactAll(ctx context.Context, personas []string, product string, reporter Reporter) []Reaction {
	res := lo.Map(personas, func(p string, _ int) Reaction { return Reaction{Persona: p} })
	var mu sync.Mutex
	finished := 0

	g := errgroup.Group{}
	g.SetLimit(r.concurrency)
	for i, persona := range personas {
		g.Go(func() error {
			res[i].Response, res[i].Err = r.React(ctx, persona, product)
			if res[i].Err != nil {
				r.log.Warn("persona reaction failed", "persona", i+1, "error", res[i].Err)
			}
			mu.Lock()
			defer mu.Unlock()
			finished++
			reporter.Report(fmt.Sprintf("Persona %d reacted (%d/%d)", i+1, finished, len(personas)))
			return nil
		})
	}
	_ = g.Wait()
	return res
}

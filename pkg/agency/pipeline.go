package agency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/integrail/persona-lab/pkg/llm"
)

const tracerName = "github.com/integrail/persona-lab/pkg/agency"

type Reporter interface {
	Report(msg string)
}

type ReporterFn func(msg string)

func (f ReporterFn) Report(msg string) { f(msg) }

var discardReporter = ReporterFn(func(string) {})

// TrendFinder returns short trend summaries for a search query.
type TrendFinder interface {
	TrendSummary(ctx context.Context, query string) []string
}

type config struct {
	model       string
	options     map[string]any
	stream      bool
	concurrency int
	reporter    Reporter
	trends      TrendFinder
	now         func() time.Time
}

type Option func(c *config)

// WithModel overrides the client's default model for every request.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithGenerationOptions sets the generation parameters sent with every request.
func WithGenerationOptions(options map[string]any) Option {
	return func(c *config) {
		c.options = options
	}
}

// WithStream asks for streamed replies.
func WithStream(stream bool) Option {
	return func(c *config) {
		c.stream = stream
	}
}

func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

func WithReporter(reporter Reporter) Option {
	return func(c *config) {
		c.reporter = reporter
	}
}

func WithTrendFinder(trends TrendFinder) Option {
	return func(c *config) {
		c.trends = trends
	}
}

func newConfig(opts []Option) config {
	c := config{
		concurrency: DefaultConcurrency,
		reporter:    discardReporter,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.concurrency = lo.If(c.concurrency > 0, c.concurrency).Else(1)
	if c.reporter == nil {
		c.reporter = discardReporter
	}
	return c
}

// State is what the roles see while the pipeline runs.
type State struct {
	Brief     Brief
	Reactions []string
	Trends    []string
	Outputs   map[Role]RoleOutput
}

// Task is one specialist role. It builds its prompt from the state, and turns a reply that is
// not a JSON object into an output with Fallback, or a failed request into one with Placeholder.
type Task struct {
	Role        Role
	System      string
	Prompt      func(ctx context.Context, s *State) string
	Fallback    func(text string, s *State) RoleOutput
	Placeholder func(err error) RoleOutput
}

// DefaultTasks returns the specialist roles in the order they run.
func DefaultTasks(trends TrendFinder) []Task {
	return []Task{
		{
			Role:        RoleBranding,
			System:      systemBranding,
			Prompt:      staticPrompt(brandingBrief),
			Fallback:    brandingFallback,
			Placeholder: brandingPlaceholder,
		},
		{
			Role:        RoleMarketing,
			System:      systemMarketing,
			Prompt:      staticPrompt(marketingBrief),
			Fallback:    marketingFallback,
			Placeholder: marketingPlaceholder,
		},
		{
			Role:        RoleProduct,
			System:      systemProduct,
			Prompt:      staticPrompt(productBrief),
			Fallback:    productFallback,
			Placeholder: productPlaceholder,
		},
		{
			Role:   RoleTrends,
			System: systemTrends,
			Prompt: func(ctx context.Context, s *State) string {
				if trends != nil {
					keywords := string(lo.Slice([]rune(s.Brief.Product), 0, 100))
					s.Trends = trends.TrendSummary(ctx, keywords)
				}
				return trendsPrompt(s.Brief.Product, s.Trends)
			},
			Fallback:    trendsFallback,
			Placeholder: trendsPlaceholder,
		},
	}
}

func staticPrompt(brief string) func(context.Context, *State) string {
	return func(_ context.Context, s *State) string {
		return rolePrompt(s.Brief.Product, s.Reactions, brief)
	}
}

// Pipeline runs persona reactions, then every task in order, then the supervisor.
type Pipeline struct {
	log     *slog.Logger
	client  llm.Client
	reactor *Reactor
	tasks   []Task
	cfg     config
	tracer  trace.Tracer
}

func NewPipeline(log *slog.Logger, client llm.Client, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	cfg := newConfig(opts)
	return &Pipeline{
		log:     log,
		client:  client,
		reactor: NewReactor(log, client, opts...),
		tasks:   DefaultTasks(cfg.trends),
		cfg:     cfg,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run validates the brief and runs the whole analysis. Failed steps are replaced by
// placeholders, so the returned Analysis is always complete unless the brief is invalid or ctx
// ended; see Analysis.Err for the failed steps.
func (p *Pipeline) Run(ctx context.Context, brief Brief) (*Analysis, error) {
	brief = brief.Normalized()
	if err := brief.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid brief")
	}

	ctx, span := p.tracer.Start(ctx, "agency.run", trace.WithAttributes(attribute.Int("agency.personas", len(brief.Personas))))
	defer span.End()

	start := p.cfg.now()
	analysis := &Analysis{
		ID:          uuid.NewString(),
		Timestamp:   start,
		Model:       p.cfg.model,
		Personas:    brief.Personas,
		Product:     brief.Product,
		RoleOutputs: map[Role]RoleOutput{},
	}
	state := &State{Brief: brief, Outputs: analysis.RoleOutputs}

	p.report("Generating persona reactions...")
	for i, r := range p.reactor.ReactAll(ctx, brief.Personas, brief.Product, p.cfg.reporter) {
		if r.Err != nil {
			analysis.Failures = append(analysis.Failures, newStepFailure(fmt.Sprintf("persona %d reaction", i+1), r.Err))
		} else {
			p.observeModel(analysis, r.Response)
		}
		state.Reactions = append(state.Reactions, r.Text())
	}
	analysis.Reactions = state.Reactions

	for _, task := range p.tasks {
		if err := ctx.Err(); err != nil {
			return p.abort(span, analysis, err)
		}
		p.report(fmt.Sprintf("Running %s analysis...", task.Role))
		state.Outputs[task.Role] = p.runTask(ctx, analysis, state, task)
	}
	analysis.Trends = state.Trends

	if err := ctx.Err(); err != nil {
		return p.abort(span, analysis, err)
	}
	p.report("Synthesizing the final report...")
	analysis.Report = p.supervise(ctx, analysis, state)
	analysis.Duration = p.cfg.now().Sub(start)

	span.SetAttributes(attribute.Int("agency.failures", len(analysis.Failures)))
	if len(analysis.Failures) > 0 {
		span.SetStatus(codes.Error, "analysis completed with failures")
	}
	p.log.Info("analysis done", "id", analysis.ID, "duration", analysis.Duration, "failures", len(analysis.Failures))
	p.report("Analysis complete")
	return analysis, nil
}

func (p *Pipeline) runTask(ctx context.Context, analysis *Analysis, state *State, task Task) RoleOutput {
	ctx, span := p.tracer.Start(ctx, "agency.task", trace.WithAttributes(attribute.String("agency.role", string(task.Role))))
	defer span.End()

	res, err := p.client.Generate(ctx, llm.GenerateRequest{
		Prompt:  task.Prompt(ctx, state),
		System:  task.System,
		Model:   p.cfg.model,
		Options: p.cfg.options,
		Stream:  p.cfg.stream,
	})
	if err != nil {
		p.log.Warn("role failed, using placeholder", "role", task.Role, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		analysis.Failures = append(analysis.Failures, newStepFailure(string(task.Role), err))
		return task.Placeholder(err)
	}
	p.observeModel(analysis, res)
	if out, ok := parseObject(res.Response); ok {
		return out
	}
	p.log.Debug("role reply is not a JSON object, using line fallback", "role", task.Role)
	return task.Fallback(res.Response, state)
}

func (p *Pipeline) supervise(ctx context.Context, analysis *Analysis, state *State) string {
	ctx, span := p.tracer.Start(ctx, "agency.task", trace.WithAttributes(attribute.String("agency.role", string(RoleSupervisor))))
	defer span.End()

	res, err := p.client.Generate(ctx, llm.GenerateRequest{
		Prompt: fmt.Sprintf(supervisorTemplate,
			indentJSON(state.Outputs[RoleBranding]),
			indentJSON(state.Outputs[RoleMarketing]),
			indentJSON(state.Outputs[RoleProduct]),
			indentJSON(state.Outputs[RoleTrends]),
			bulletList(state.Reactions),
			state.Brief.Product),
		System:  systemSupervisor,
		Model:   p.cfg.model,
		Options: p.cfg.options,
		Stream:  p.cfg.stream,
	})
	if err != nil {
		p.log.Warn("supervisor failed, using fallback report", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		analysis.Failures = append(analysis.Failures, newStepFailure(string(RoleSupervisor), err))
		return fallbackReport(state.Outputs, err)
	}
	p.observeModel(analysis, res)
	return res.Response
}

func (p *Pipeline) abort(span trace.Span, analysis *Analysis, err error) (*Analysis, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "analysis cancelled")
	return analysis, errors.Wrapf(err, "analysis %s cancelled", analysis.ID)
}

func (p *Pipeline) observeModel(analysis *Analysis, res *llm.GenerateResponse) {
	if analysis.Model == "" && res != nil {
		analysis.Model = res.Model
	}
}

func (p *Pipeline) report(msg string) {
	p.log.Info(msg)
	p.cfg.reporter.Report(msg)
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

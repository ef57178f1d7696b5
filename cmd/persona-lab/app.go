package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/integrail/persona-lab/internal/build"
	"github.com/integrail/persona-lab/pkg/agency"
	"github.com/integrail/persona-lab/pkg/config"
	"github.com/integrail/persona-lab/pkg/llm"
	"github.com/integrail/persona-lab/pkg/logging"
	"github.com/integrail/persona-lab/pkg/telemetry"
)

type app struct {
	cfg      config.Config
	logFile  string
	log      *slog.Logger
	closers  []io.Closer
	shutdown func(context.Context) error
}

func llmRoute(route string) llm.Route {
	switch strings.TrimPrefix(strings.ToLower(route), "/api/") {
	case "generate":
		return llm.RouteGenerate
	case "chat", "":
		return llm.RouteChat
	default:
		return llm.Route(route)
	}
}

// setup configures logging and tracing. The tui owns the terminal, so its logs go to a file.
func (a *app) setup(ctx context.Context, tuiMode bool) error {
	level := logging.ParseLevel(os.Getenv(logging.EnvLevel))
	if a.cfg.Debug {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stderr
	if a.logFile == "" && tuiMode {
		a.logFile = filepath.Join(os.TempDir(), "persona-lab.log")
	}
	if a.logFile != "" {
		f, err := os.OpenFile(a.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", a.logFile)
		}
		a.closers = append(a.closers, f)
		out = f
	}
	logging.SetLogger(logging.New(out, os.Getenv(logging.EnvFormat), level))
	a.log = logging.Logger()

	if err := a.cfg.Validate(); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "persona-lab",
		ServiceVersion: build.Version,
		Disable:        !a.cfg.Trace,
		Output:         lo.Ternary[io.Writer](tuiMode, out, os.Stderr),
		Logger:         logging.WithComponent("telemetry"),
	})
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.shutdown != nil {
		err = a.shutdown(ctx)
		a.shutdown = nil
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
	return err
}

func (a *app) client() (llm.Client, error) {
	return a.cfg.NewClient(logging.WithComponent("llm"))
}

// pipeline wires the client, the search tool and the generation options into an analysis
// pipeline reporting to reporter.
func (a *app) pipeline(client llm.Client, reporter agency.Reporter) (*agency.Pipeline, error) {
	options, err := a.cfg.GenerationOptions()
	if err != nil {
		return nil, err
	}
	tool, err := a.cfg.NewSearchTool(logging.WithComponent("search"))
	if err != nil {
		return nil, err
	}
	return agency.NewPipeline(logging.WithComponent("agency"), client,
		agency.WithModel(a.cfg.Model),
		agency.WithGenerationOptions(options),
		agency.WithStream(a.cfg.Stream),
		agency.WithConcurrency(a.cfg.Concurrency),
		agency.WithReporter(reporter),
		agency.WithTrendFinder(tool),
	), nil
}

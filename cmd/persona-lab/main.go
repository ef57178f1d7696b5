package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/integrail/persona-lab/internal/build"
	"github.com/integrail/persona-lab/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: config.FromEnv()}
	var route string
	var noStrip bool

	rootCmd := &cobra.Command{
		Use:           "persona-lab",
		Version:       build.Version,
		Short:         "persona-lab is a creative agency in your terminal",
		Long:          "Simulates persona reactions to a product and runs branding, marketing, product and trend analysis on a local Ollama model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Route = llmRoute(route)
			a.cfg.StripThinking = !noStrip
			return a.setup(ctx, cmd.Name() == "tui")
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(ctx)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfg.Url, "url", "u", a.cfg.Url, "Ollama base URL (env "+config.EnvURL+")")
	flags.StringVarP(&a.cfg.Model, "model", "m", a.cfg.Model, "Model name (env "+config.EnvModel+")")
	flags.StringVarP(&a.cfg.ApiKey, "key", "k", a.cfg.ApiKey, "API key sent as a bearer token (env "+config.EnvAPIKey+")")
	flags.StringVar(&a.cfg.Provider, "provider", a.cfg.Provider, "Backend protocol: ollama or openai (env "+config.EnvProvider+")")
	flags.StringVar(&route, "route", "chat", "Ollama route: chat or generate")
	flags.DurationVarP(&a.cfg.Timeout, "timeout", "t", a.cfg.Timeout, "Max time for each attempt (env "+config.EnvTimeout+")")
	flags.IntVar(&a.cfg.Retry.MaxAttempts, "attempts", a.cfg.Retry.MaxAttempts, "Max attempts per request, the first one included (env "+config.EnvMaxAttempts+")")
	flags.DurationVar(&a.cfg.Retry.BaseDelay, "base-delay", a.cfg.Retry.BaseDelay, "Delay after the first failed attempt")
	flags.DurationVar(&a.cfg.Retry.MaxDelay, "max-delay", a.cfg.Retry.MaxDelay, "Cap for every retry delay")
	flags.Float64Var(&a.cfg.Retry.BackoffMultiplier, "multiplier", a.cfg.Retry.BackoffMultiplier, "Retry delay growth factor")
	flags.StringSliceVarP(&a.cfg.Options, "option", "O", []string{}, "Generation options to send with each request (key=value, e.g. temperature=0.7)")
	flags.BoolVar(&a.cfg.Stream, "stream", a.cfg.Stream, "Ask for streamed replies")
	flags.BoolVar(&noStrip, "no-strip-thinking", false, "Keep the <think> section of reasoning models")
	flags.StringVar(&a.cfg.SearchRegion, "region", a.cfg.SearchRegion, "DuckDuckGo region, e.g. us-en")
	flags.BoolVar(&a.cfg.Trace, "trace", a.cfg.Trace, "Print trace spans to stderr")
	flags.BoolVarP(&a.cfg.Debug, "debug", "d", a.cfg.Debug, "Debug logging")
	flags.StringVar(&a.logFile, "log-file", "", "Write logs to this file (the tui defaults to a file in the temp dir)")

	rootCmd.AddCommand(
		checkCmd(a),
		reactCmd(a),
		searchCmd(a),
		analyzeCmd(a),
		tuiCmd(a),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = a.close(context.Background())
		os.Exit(1)
	}
}

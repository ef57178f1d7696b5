package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/integrail/persona-lab/pkg/agency"
	"github.com/integrail/persona-lab/pkg/config"
	"github.com/integrail/persona-lab/pkg/export"
	"github.com/integrail/persona-lab/pkg/llm"
	"github.com/integrail/persona-lab/pkg/logging"
	"github.com/integrail/persona-lab/pkg/search"
	"github.com/integrail/persona-lab/pkg/tui"
)

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Send a short prompt to test the model connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := llm.Ping(cmd.Context(), client, a.cfg.Model); err != nil {
				return errors.Wrapf(err, "connection to %s failed", a.cfg.Url)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection active: %s @ %s\n", a.cfg.Model, a.cfg.Url)
			return nil
		},
	}
}

func reactCmd(a *app) *cobra.Command {
	var persona, product string
	cmd := &cobra.Command{
		Use:   "react",
		Short: "Ask the model how one persona reacts to a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			options, err := a.cfg.GenerationOptions()
			if err != nil {
				return err
			}
			reactor := agency.NewReactor(logging.WithComponent("agency"), client,
				agency.WithModel(a.cfg.Model),
				agency.WithGenerationOptions(options),
				agency.WithStream(a.cfg.Stream),
			)
			res, err := reactor.React(cmd.Context(), persona, product)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Response)
			a.log.Debug("reaction done", "model", res.Model, "attempts", res.Attempts, "latency", res.Latency)
			return nil
		},
	}
	cmd.Flags().StringVarP(&persona, "persona", "p", "", "Persona description")
	cmd.Flags().StringVarP(&product, "product", "P", "", "Product/brand description")
	_ = cmd.MarkFlagRequired("persona")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func searchCmd(a *app) *cobra.Command {
	var kind, industry string
	var asJSON, summary bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Research trends, competitor moves or viral content on the web",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tool, err := a.cfg.NewSearchTool(logging.WithComponent("search"))
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			var results []search.Result
			switch kind {
			case "trends":
				results = tool.Trends(cmd.Context(), query)
			case "competitors":
				results = tool.CompetitorMoves(cmd.Context(), query, industry)
			case "viral":
				results = tool.ViralContent(cmd.Context(), query)
			default:
				return errors.Errorf("unknown search kind %q, expected trends, competitors or viral", kind)
			}
			if summary {
				for _, line := range search.Summarize(results) {
					fmt.Fprintln(cmd.OutOrStdout(), "-", line)
				}
				return nil
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(lo.Ternary(results == nil, []search.Result{}, results))
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "trends", "What to look for: trends, competitors or viral")
	cmd.Flags().StringVar(&industry, "industry", "", "Industry for competitor searches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVarP(&summary, "summary", "s", false, "Print the trend summary the trends analyst sees instead of raw results")
	return cmd
}

func analyzeCmd(a *app) *cobra.Command {
	var briefPath, product, outDir, format string
	var personas []string
	var strict bool
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the full creative agency analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			brief, err := readBrief(briefPath, personas, product)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			reporter := agency.ReporterFn(func(msg string) {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			})
			pipeline, err := a.pipeline(client, reporter)
			if err != nil {
				return err
			}
			analysis, err := pipeline.Run(cmd.Context(), brief)
			if err != nil {
				return err
			}

			if err := export.Write(cmd.OutOrStdout(), export.Format(format), analysis); err != nil {
				return err
			}
			if outDir != "" {
				paths, err := export.WriteAll(outDir, analysis)
				for _, path := range paths {
					fmt.Fprintln(cmd.ErrOrStderr(), "Saved", path)
				}
				if err != nil {
					return err
				}
			}
			if strict {
				return analysis.Err()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&briefPath, "brief", "b", "", "YAML or JSON file with personas and product")
	cmd.Flags().StringArrayVarP(&personas, "persona", "p", []string{}, "Persona description, repeat for more personas")
	cmd.Flags().StringVarP(&product, "product", "P", "", "Product/brand description")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to save the markdown, JSON and CSV exports to")
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatMarkdown), "Output format: md, json or csv")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error when any step fell back to a placeholder")
	cmd.Flags().IntVar(&a.cfg.Concurrency, "concurrency", a.cfg.Concurrency, "Persona reactions generated in parallel")
	return cmd
}

func readBrief(path string, personas []string, product string) (agency.Brief, error) {
	if path != "" {
		return config.LoadBrief(path)
	}
	brief := agency.Brief{Personas: personas, Product: product}.Normalized()
	if err := brief.Validate(); err != nil {
		return agency.Brief{}, err
	}
	return brief, nil
}

func tuiCmd(a *app) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive persona and product editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			model := tui.New(ctx, tui.Config{
				Model:  a.cfg.Model,
				Url:    a.cfg.Url,
				OutDir: outDir,
				Run: func(ctx context.Context, brief agency.Brief, reporter agency.Reporter) (*agency.Analysis, error) {
					pipeline, err := a.pipeline(client, reporter)
					if err != nil {
						return nil, err
					}
					return pipeline.Run(ctx, brief)
				},
				Check: func(ctx context.Context) error {
					return llm.Ping(ctx, client, a.cfg.Model)
				},
			})
			p := tea.NewProgram(model, tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return errors.Wrapf(err, "tui failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", lo.Must(os.Getwd()), "Directory to save exports to")
	cmd.Flags().IntVar(&a.cfg.Concurrency, "concurrency", a.cfg.Concurrency, "Persona reactions generated in parallel")
	return cmd
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

var (
	question   string
	language   string
	iterations int
	verbose    bool
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "Research a question on the web and print a cited report",
		Long:  `deep-research plans web searches over several rounds, aggregates what it finds and streams a markdown report with sources.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelInfo
			}
			// Logs go to stderr so the report can be piped.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if !cmd.Flags().Changed("question") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Fprint(os.Stderr, "Enter research question: ")
				input, _ := reader.ReadString('\n')
				question = input
			}
			question = strings.TrimSpace(question)
			if question == "" {
				return fmt.Errorf("question cannot be empty")
			}

			cfg := config.Load()
			if cmd.Flags().Changed("iterations") {
				cfg.MaxIterations = iterations
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, os.Stdout)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVarP(&question, "question", "q", "", "The question to research")
	rootCmd.Flags().StringVarP(&language, "language", "l", "", "Language for the report (default: model default)")
	rootCmd.Flags().IntVar(&iterations, "iterations", research.DefaultMaxIterations, "Maximum plan, search and aggregate rounds")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log research progress to stderr")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	completer, err := clients.New(ctx, cfg)
	if err != nil {
		return err
	}

	engine := research.NewEngine(completer, tools.FromConfig(cfg).Tools(), research.Options{
		MaxIterations:       cfg.MaxIterations,
		QueriesPerIteration: cfg.QueriesPerIteration,
		SearchConcurrency:   cfg.SearchConcurrency,
	})
	engine.OnStateUpdate = func(state research.State) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", state.Iteration+1, state.MaxIterations, state.Phase)
	}

	report, err := engine.Run(ctx, research.Request{Question: question, LanguagePreference: language})
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	for chunk, err := range report.Answer {
		if err != nil {
			return err
		}
		if chunk.Kind == llm.ChunkText {
			fmt.Fprint(out, chunk.Text)
		}
	}
	fmt.Fprintln(out)

	if len(report.State.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, src := range report.State.Sources {
			fmt.Fprintf(out, "%d. %s (%s)\n", i+1, src.Title, src.URL)
		}
	}
	return nil
}

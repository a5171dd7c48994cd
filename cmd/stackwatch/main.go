package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stackwatch/internal/app"
	"stackwatch/internal/config"
	"stackwatch/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "stackwatch",
		Short:         "Watch technology news for things that matter to your stack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScanCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newAskCommand())
	root.AddCommand(newReportCommand())
	return root
}

// buildApp loads config, wires the application, and hands it to fn together
// with the command context. The store is closed when fn returns.
func buildApp(cmd *cobra.Command, fn func(ctx context.Context, application *app.Application) error) error {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(cmd.Context(), application)
}

func newScanCommand() *cobra.Command {
	var retryFailed bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one ingestion pass over the configured sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return buildApp(cmd, func(ctx context.Context, application *app.Application) error {
				stats, err := application.Scan(ctx, retryFailed)
				if err != nil {
					return err
				}
				fmt.Printf("fetched %d, duplicates %d, filtered %d, analyzed %d, failed %d\n",
					stats.Fetched, stats.Duplicates, stats.FilteredOut, stats.Analyzed, stats.Failed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false,
		"re-analyze stored articles that never received a verdict")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run scans on the configured cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return buildApp(cmd, func(ctx context.Context, application *app.Application) error {
				return application.Watch(ctx)
			})
		},
	}
}

func newAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the collected knowledge base",
		Long: "Answers one question when given as an argument, or starts an " +
			"interactive session otherwise. A failed question does not end the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildApp(cmd, func(ctx context.Context, application *app.Application) error {
				if len(args) > 0 {
					answer, err := application.Answer(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					fmt.Println(answer)
					return nil
				}
				return runAskSession(ctx, application)
			})
		},
	}
}

func runAskSession(ctx context.Context, application *app.Application) error {
	fmt.Fprintln(os.Stderr, "Ask about collected findings. Empty line or Ctrl-D exits.")
	reader := bufio.NewScanner(os.Stdin)

	for {
		fmt.Fprint(os.Stderr, "> ")
		if !reader.Scan() {
			return reader.Err()
		}
		question := strings.TrimSpace(reader.Text())
		if question == "" {
			return nil
		}

		answer, err := application.Answer(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(answer)
		fmt.Println()
	}
}

func newReportCommand() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write collected findings to a CSV or JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return buildApp(cmd, func(ctx context.Context, application *app.Application) error {
				since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
				path, err := application.Report(ctx, since)
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24*7, "report window in hours")
	return cmd
}

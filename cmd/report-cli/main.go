package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-reporter/pkg/app"
	"github.com/mikeboe/research-reporter/pkg/config"
	"github.com/mikeboe/research-reporter/pkg/server"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

var (
	task       string
	language   string
	tone       string
	guidelines string
	verbose    bool
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "report-cli",
		Short: "Generate a research report from the terminal",
		Long:  `report-cli researches a topic, writes a structured report and exports it to the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("task") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research task: ")
				input, _ := reader.ReadString('\n')
				task = strings.TrimSpace(input)
			}
			if task == "" {
				return fmt.Errorf("task cannot be empty")
			}

			cfg := config.Load()
			if guidelines != "" {
				cfg.Guidelines = guidelines
				cfg.FollowGuidelines = true
			}
			if verbose {
				cfg.Verbose = true
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("Starting report", "task", task, "pipeline", a.Orchestrator.Describe())

			res, err := a.Service.Generate(ctx, server.ReportRequest{
				Task:         task,
				ReportType:   "research_report",
				ReportSource: "web",
				Tone:         tone,
				Language:     language,
			}, stream.NewLogSink(slog.Default(), "CLI"))
			if err != nil {
				return err
			}

			exts := make([]string, 0, len(res.Bundle.ExportPaths))
			for ext := range res.Bundle.ExportPaths {
				exts = append(exts, ext)
			}
			sort.Strings(exts)

			fmt.Printf("\nReport %s (cost: $%.4f)\n", res.ResearchID, res.Bundle.Costs)
			for _, ext := range exts {
				fmt.Printf("  %s: %s\n", ext, res.Bundle.ExportPaths[ext])
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&task, "task", "t", "", "The research task")
	rootCmd.Flags().StringVarP(&language, "language", "l", "", "Target language of the report")
	rootCmd.Flags().StringVar(&tone, "tone", "Objective", "Tone of the report")
	rootCmd.Flags().StringVarP(&guidelines, "guidelines", "g", "", "Writing guidelines the report must follow")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Stream the raw layout produced by the writer")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

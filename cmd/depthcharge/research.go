package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/research"
)

func researchCMD() *cobra.Command {
	var cfgPath string
	var breadth, depth int
	var source, style string
	var showProgress bool

	var cmd = &cobra.Command{
		Use:   "research [query]",
		Short: "Run a research session from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine, _, err := buildEngine(cfg)
			if err != nil {
				return err
			}

			req := research.Request{
				Query:        strings.Join(args, " "),
				Breadth:      breadth,
				Depth:        depth,
				SearchSource: source,
				AnswerStyle:  research.AnswerStyle(style),
				OnReportDelta: func(chunk string) {
					fmt.Print(chunk)
				},
			}
			return runInteractive(cmd.Context(), engine, req, showProgress)
		},
	}
	cmd.Flags().IntVar(&breadth, "breadth", 0, "queries per batch (0 = config default)")
	cmd.Flags().IntVar(&depth, "depth", 0, "batch iterations per step (0 = config default)")
	cmd.Flags().StringVar(&source, "source", "", "search source override (serper, tavily, index)")
	cmd.Flags().StringVar(&style, "style", "report", "answer style: report or concise")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "print progress events")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

// runInteractive drives the stream, prompting on stdin when the run suspends
// for clarification.
func runInteractive(ctx context.Context, engine *research.Engine, req research.Request, showProgress bool) error {
	for {
		var questions []research.ClarificationQuestion
		terminal := research.Stage("")

		for ev := range engine.Stream(ctx, req) {
			if showProgress {
				printProgress(ev)
			}
			if len(ev.Questions) > 0 {
				questions = ev.Questions
			}
			if ev.Stage.Terminal() {
				terminal = ev.Stage
				if ev.Stage == research.StageError {
					return fmt.Errorf("research failed: %s", ev.Error)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if terminal != research.StageAwaitingClarification {
			fmt.Println()
			return nil
		}

		answers, err := promptClarifications(questions)
		if err != nil {
			return err
		}
		req.Clarifications = answers
	}
}

func printProgress(ev research.ProgressEvent) {
	switch ev.Stage {
	case research.StageProcessingQueries:
		if ev.Progress != nil {
			fmt.Fprintf(os.Stderr, "[%s] depth %d/%d, %d queries: %s\n",
				ev.Stage, ev.Progress.CurrentDepth, ev.Progress.MaxDepth,
				len(ev.CurrentQueries), strings.Join(ev.CurrentQueries, "; "))
			return
		}
	case research.StageInsightsFound:
		fmt.Fprintf(os.Stderr, "[%s] +%d learnings, +%d urls\n", ev.Stage, len(ev.NewLearnings), len(ev.NewURLs))
		return
	case research.StageGeneratingReport:
		fmt.Fprintf(os.Stderr, "[%s] %s\n\n", ev.Stage, ev.StatusMessage)
		return
	case research.StageCompleted:
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Stage, ev.StatusMessage)
}

func promptClarifications(questions []research.ClarificationQuestion) (map[string]string, error) {
	reader := bufio.NewReader(os.Stdin)
	answers := make(map[string]string, len(questions))
	fmt.Println("The query needs clarification. Press enter to accept a default.")
	for _, q := range questions {
		fmt.Printf("%s [%s]: ", q.Question, q.Default)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			line = q.Default
		}
		answers[q.Key] = line
	}
	return answers, nil
}

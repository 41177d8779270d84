package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/firebase/genkit/go/genkit"
	"github.com/spf13/cobra"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/executor"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llm"
)

func question(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func traceWriter(cmd *cobra.Command, flags *globalFlags) io.Writer {
	if !flags.trace {
		return nil
	}
	return cmd.ErrOrStderr()
}

func newAskCommand(flags *globalFlags) *cobra.Command {
	var (
		planPath string
		humanize bool
		ascii    bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Plan and run the tool calls that answer a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := question(args)
			var preset *orchestrator.Plan
			if planPath != "" {
				plan, err := executor.LoadPlanFile(planPath)
				if err != nil {
					return err
				}
				preset = plan
			} else if q == "" {
				return errors.New("a question is required")
			}

			ctx := cmd.Context()
			rt, err := newRuntime(ctx, flags, runtimeOptions{
				needLLM:  preset == nil && !flags.offline,
				humanize: humanize,
				ascii:    ascii,
				trace:    traceWriter(cmd, flags),
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			var text string
			if preset != nil {
				var ans *orchestrator.Answer
				ans, err = rt.orch.RunPlan(ctx, q, preset)
				if ans != nil {
					text = ans.Text
				}
			} else {
				text, err = rt.answer(ctx, q)
			}
			return printResult(cmd.OutOrStdout(), text, err)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "run the plan in this YAML file instead of planning")
	cmd.Flags().BoolVar(&humanize, "humanize", false, "rewrite the raw tool outputs into prose")
	cmd.Flags().BoolVar(&ascii, "ascii", false, "restrict the answer to printable ASCII")
	return cmd
}

// answer runs the pipeline, inside a Genkit flow when the model is served
// through Genkit.
func (r *runtime) answer(ctx context.Context, q string) (string, error) {
	g := llm.GenkitInstance(r.completer)
	if g == nil {
		return r.orch.AnswerText(ctx, q)
	}
	flow := genkit.DefineFlow(g, "answerFlow", func(ctx context.Context, q string) (string, error) {
		return r.orch.AnswerText(ctx, q)
	})
	return flow.Run(ctx, q)
}

func newRouteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "route [question...]",
		Short: "Answer with a single model-routed tool call",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := question(args)
			if q == "" {
				return errors.New("a question is required")
			}
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, flags, runtimeOptions{needLLM: true, trace: traceWriter(cmd, flags)})
			if err != nil {
				return err
			}
			defer rt.Close()

			text, err := rt.orch.Route(ctx, q)
			return printResult(cmd.OutOrStdout(), text, err)
		},
	}
}

func newPlanCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [question...]",
		Short: "Print the plan for a question without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := question(args)
			if q == "" {
				return errors.New("a question is required")
			}
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, flags, runtimeOptions{needLLM: !flags.offline, trace: traceWriter(cmd, flags)})
			if err != nil {
				return err
			}
			defer rt.Close()

			plan, _, err := rt.orch.PlanOnly(ctx, q)
			if err != nil {
				return printResult(cmd.OutOrStdout(), "", err)
			}
			out := cmd.OutOrStdout()
			if plan.IsEmpty() {
				fmt.Fprintln(out, orchestrator.CouldNotDetermineMessage)
				return nil
			}
			fmt.Fprintln(out, plan.Format())
			fmt.Fprintln(out)
			fmt.Fprintln(out, plan.Diagram())
			return nil
		},
	}
}

func newToolsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the capability graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, flags, runtimeOptions{trace: traceWriter(cmd, flags)})
			if err != nil {
				return err
			}
			defer rt.Close()

			graph, err := rt.orch.Capabilities(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, key := range graph.ServerKeys() {
				srv, _ := graph.Server(key)
				fmt.Fprintf(out, "%s (%d tools)\n", key, len(srv.Tools))
			}
			fmt.Fprintln(out, graph.Catalog())
			return nil
		},
	}
}

// printResult prints the answer. Pipeline failures are reported on stdout
// and do not change the exit status.
func printResult(w io.Writer, text string, err error) error {
	if err != nil {
		logger.KV(xlog.ERROR, "status", "run_failed", "err", err.Error())
		if strings.TrimSpace(text) == "" {
			text = "Error: " + err.Error()
		}
	}
	fmt.Fprintln(w, text)
	return nil
}

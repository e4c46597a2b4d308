package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/workflow"
)

// withApp wires the runtime for one command and releases it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, rt *runtime) error) (err error) {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, rt)
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	var (
		in       workflow.Input
		threadID string
	)
	cmd := &cobra.Command{
		Use:   "start <file>",
		Short: "Start a run for a dataset or document",
		Long: `Start classifies the file and runs the workflow until it needs a human
decision. Tabular files (csv, tsv) go through analysis and reporting;
documents (pdf, docx, txt, md) are summarized.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.FilePath = args[0]
			if threadID == "" {
				threadID = uuid.NewString()
			}
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.app.Start(ctx, threadID, in)
				return report(cmd, opts, rt, res, err)
			})
		},
	}
	cmd.Flags().StringVarP(&in.Query, "query", "q", "", "question the analysis should answer")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id (default: a new UUID)")
	cmd.Flags().StringSliceVarP(&in.Formats, "format", "f", nil, "report formats (markdown, pdf, html, pptx)")
	cmd.Flags().StringVar(&in.UserID, "user", "", "user id recorded with the run")
	return cmd
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <thread>",
		Short: "Resume a suspended or interrupted run unchanged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.app.Resume(ctx, args[0])
				return report(cmd, opts, rt, res, err)
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <thread>",
		Short: "Show the status of a run and the nested run it waits on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				view, err := rt.app.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd, view)
				}
				printStatus(cmd, view.Status, view.Child)
				return nil
			})
		},
	}
}

func newChooseCmd(opts *rootOptions) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "choose <thread> <refine|new|finish>",
		Short: "Answer the analysis gate",
		Long: `Choose tells a run waiting at the analysis gate how to continue:
refine rewrites the current cycle's code, new plans another cycle, finish
moves on to the report. The Korean labels 수정, 추가 and 완료 are accepted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.app.Choose(ctx, args[0], args[1], feedback)
				return report(cmd, opts, rt, res, err)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "instructions for the next analysis step")
	return cmd
}

func newReviewCmd(opts *rootOptions) *cobra.Command {
	var (
		approve  bool
		reject   bool
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "review <thread> (--approve | --reject)",
		Short: "Approve or reject the finished report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.app.Review(ctx, args[0], approve, feedback)
				return report(cmd, opts, rt, res, err)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "accept the report and finish the run")
	cmd.Flags().BoolVar(&reject, "reject", false, "send the run back to analysis")
	cmd.Flags().StringVar(&feedback, "feedback", "", "what the next analysis should change")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <thread>",
		Short: "List the checkpoints of a run",
		Long:  `History lists every checkpoint of a thread. Nested threads (<id>_sub, <id>_report, <id>_doc) are accepted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				history, err := rt.app.History(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd, history)
				}
				out := cmd.OutOrStdout()
				for _, cp := range history {
					at := cp.Node
					if cp.Status == graph.StatusSuspended {
						at = "before " + cp.Pending
					}
					fmt.Fprintf(out, "%4d  %-10s %-20s %s\n", cp.Seq, cp.Status, at, cp.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/graph/model"
	"github.com/dshills/orcgraph/workflow"
)

// runOutput is the JSON shape of start, resume, choose and review.
type runOutput struct {
	ThreadID  string                `json:"thread_id"`
	Status    graph.RunStatus       `json:"status"`
	Pending   string                `json:"pending,omitempty"`
	Interrupt *graph.InterruptError `json:"interrupt,omitempty"`
	State     graph.State           `json:"state,omitempty"`
	Usage     model.UsageSummary    `json:"usage"`
	Error     string                `json:"error,omitempty"`
}

// report prints the outcome of a run call. A failed run is printed and
// its error returned, so the process exits non-zero.
func report(cmd *cobra.Command, opts *rootOptions, rt *runtime, res graph.Result, runErr error) error {
	if res.Status == "" {
		return runErr
	}
	out := runOutput{
		ThreadID:  res.ThreadID,
		Status:    res.Status,
		Pending:   res.Pending,
		Interrupt: res.Interrupt,
		State:     res.State,
		Usage:     rt.app.Usage(res.ThreadID),
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	if opts.json {
		if err := printJSON(cmd, out); err != nil {
			return err
		}
		return runErr
	}

	w := cmd.OutOrStdout()
	printStatus(cmd, graph.Status{
		ThreadID:  res.ThreadID,
		Status:    res.Status,
		Pending:   res.Pending,
		Interrupt: res.Interrupt,
		State:     res.State,
	}, nil)
	if out.Usage.Calls > 0 {
		fmt.Fprintf(w, "usage:   %s\n", out.Usage)
	}
	return runErr
}

func printStatus(cmd *cobra.Command, st graph.Status, child *graph.Status) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "thread:  %s\n", st.ThreadID)
	fmt.Fprintf(w, "status:  %s\n", st.Status)
	if st.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", st.Error)
	}

	switch st.Status {
	case graph.StatusSuspended:
		pending := st.Pending
		if ie := st.Interrupt; ie != nil && ie.ChildThreadID != "" {
			pending += fmt.Sprintf(" (waiting on %s at %s)", ie.ChildThreadID, ie.ChildPending)
		}
		fmt.Fprintf(w, "pending: %s\n", pending)
		if child != nil {
			fmt.Fprintf(w, "child:   %s %s, cycle %d\n", child.ThreadID, child.Status, child.State.Int(workflow.FieldCycle))
		}
		if hint := nextStep(st); hint != "" {
			fmt.Fprintf(w, "next:    %s\n", hint)
		}
	case graph.StatusCompleted:
		if summary := st.State.String(workflow.FieldDocumentSummary); summary != "" {
			fmt.Fprintf(w, "\n%s\n", summary)
		}
		artifacts := st.State.Map(workflow.FieldArtifacts)
		formats := make([]string, 0, len(artifacts))
		for format := range artifacts {
			formats = append(formats, format)
		}
		sort.Strings(formats)
		for _, format := range formats {
			fmt.Fprintf(w, "%-8s %v\n", format+":", artifacts[format])
		}
	}
}

func nextStep(st graph.Status) string {
	switch {
	case st.Pending == workflow.NodeReview:
		return fmt.Sprintf("orcagent review %s --approve | --reject --feedback \"...\"", st.ThreadID)
	case st.Interrupt != nil && st.Interrupt.ChildPending == workflow.NodeWait:
		return fmt.Sprintf("orcagent choose %s refine|new|finish [--feedback \"...\"]", st.ThreadID)
	}
	return ""
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

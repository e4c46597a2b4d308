// Package workflow defines the analysis pipeline run by orcagent.
//
// Four graphs cooperate:
//
//	main:     classify -> preprocess -> analysis -> report -> review* -> End
//	          classify -> document -> End
//	analysis: plan -> make -> run -> insight -> eval -> wait* -> make | plan | End
//	report:   supervisor <-> generate_content | create_pdf | create_html | create_pptx
//	document: read -> analyze -> End
//
// Nodes marked * suspend the run before executing. The analysis, report and
// document graphs run nested inside main under the thread ids T_sub,
// T_report and T_doc, each with its own checkpoints.
//
// App wires the graphs to a checkpoint store, a chat model and a sandbox
// pool and exposes the operations a host needs: Start, Resume, Choose,
// Review, Status and History.
package workflow

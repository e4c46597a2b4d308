package workflow

import "github.com/dshills/orcgraph/graph"

// Graph names.
const (
	MainGraph     = "main"
	AnalysisGraph = "analysis"
	ReportGraph   = "report"
	DocumentGraph = "document"
)

// Nested thread id suffixes.
const (
	AnalysisSuffix = "_sub"
	ReportSuffix   = "_report"
	DocumentSuffix = "_doc"
)

// Main state fields.
const (
	FieldFilePath        = "file_path"
	FieldUserQuery       = "user_query"
	FieldFileType        = "file_type"
	FieldCleanData       = "clean_data"
	FieldAnalysisResults = "analysis_results"
	FieldFigureList      = "figure_list"
	FieldReportType      = "report_type"
	FieldFinalReport     = "final_report"
	FieldArtifacts       = "artifacts"
	FieldDocumentSummary = "document_summary"
	FieldHumanFeedback   = "human_feedback"
	FieldReviewDecision  = "review_decision"
	FieldFeedback        = "feedback"
	FieldReviewCycles    = "review_cycles"
	FieldStepsLog        = "steps_log"
)

// Analysis state fields.
const (
	FieldDatasetPath   = "dataset_path"
	FieldProfile       = "profile"
	FieldPlan          = "plan"
	FieldCode          = "code"
	FieldCycle         = "cycle"
	FieldErrorCount    = "error_count"
	FieldLastError     = "last_error"
	FieldResultSummary = "result_summary"
	FieldFigures       = "figures"
	FieldExecutions    = "executions"
	FieldLogs          = "logs"
	FieldInsights      = "insights"
	FieldApproved      = "approved"
	FieldRevisions     = "revisions"
	FieldEvalNotes     = "eval_notes"
	FieldUserChoice    = "user_choice"
	FieldDecision      = "decision"
)

// Report and document state fields not shared with main.
const (
	FieldReportFormat     = "report_format"
	FieldGeneratedFormats = "generated_formats"
	FieldNextWorker       = "next_worker"
	FieldOutputDir        = "output_dir"
	FieldFileText         = "file_text"
	FieldPages            = "pages"
	FieldScanned          = "scanned"
	FieldAnalysisSummary  = "analysis_summary"
)

// MainSchema declares the orchestrating graph's state.
func MainSchema() *graph.Schema {
	return graph.NewSchema().
		Field(FieldFilePath, graph.Replace).
		Field(FieldUserQuery, graph.Replace).
		Field(FieldFileType, graph.Replace).
		Field(FieldCleanData, graph.Replace).
		Field(FieldAnalysisResults, graph.Replace).
		Field(FieldFigureList, graph.Replace).
		Field(FieldReportType, graph.Replace).
		Field(FieldFinalReport, graph.Replace).
		Field(FieldArtifacts, graph.Merge).
		Field(FieldDocumentSummary, graph.Replace).
		Field(FieldHumanFeedback, graph.Replace).
		Field(FieldReviewDecision, graph.Replace).
		Field(FieldFeedback, graph.Replace).
		Field(FieldReviewCycles, graph.Sum).
		Field(FieldStepsLog, graph.Append)
}

// AnalysisSchema declares the iterative analysis graph's state.
func AnalysisSchema() *graph.Schema {
	return graph.NewSchema().
		Field(FieldDatasetPath, graph.Replace).
		Field(FieldUserQuery, graph.Replace).
		Field(FieldProfile, graph.Replace).
		Field(FieldPlan, graph.Replace).
		Field(FieldCode, graph.Replace).
		Field(FieldCycle, graph.Replace).
		Field(FieldErrorCount, graph.Replace).
		Field(FieldLastError, graph.Replace).
		Field(FieldResultSummary, graph.Replace).
		Field(FieldFigures, graph.Append).
		Field(FieldExecutions, graph.Sum).
		Field(FieldLogs, graph.Append).
		Field(FieldInsights, graph.Merge).
		Field(FieldFeedback, graph.Append).
		Field(FieldApproved, graph.Replace).
		Field(FieldRevisions, graph.Replace).
		Field(FieldEvalNotes, graph.Replace).
		Field(FieldUserChoice, graph.Replace).
		Field(FieldDecision, graph.Replace)
}

// ReportSchema declares the report supervisor graph's state.
func ReportSchema() *graph.Schema {
	return graph.NewSchema().
		Field(FieldAnalysisResults, graph.Replace).
		Field(FieldFigureList, graph.Replace).
		Field(FieldFilePath, graph.Replace).
		Field(FieldCleanData, graph.Replace).
		Field(FieldOutputDir, graph.Replace).
		Field(FieldFinalReport, graph.Replace).
		Field(FieldReportFormat, graph.Replace).
		Field(FieldGeneratedFormats, graph.Append).
		Field(FieldArtifacts, graph.Merge).
		Field(FieldStepsLog, graph.Append).
		Field(FieldNextWorker, graph.Replace)
}

// DocumentSchema declares the document reading graph's state.
func DocumentSchema() *graph.Schema {
	return graph.NewSchema().
		Field(FieldFilePath, graph.Replace).
		Field(FieldFileText, graph.Replace).
		Field(FieldPages, graph.Replace).
		Field(FieldScanned, graph.Replace).
		Field(FieldAnalysisSummary, graph.Replace).
		Field(FieldStepsLog, graph.Append)
}

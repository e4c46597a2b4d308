package workflow

import (
	"fmt"
	"path/filepath"
	"strings"
)

const plannerSystem = "You are a marketing data strategist. You design analysis scenarios; you never write code."

func planPrompt(profile, query string, feedback []string) string {
	return fmt.Sprintf(`Design an analysis plan that answers the user's question from the dataset summary below.

[Dataset summary]
%s

[User question]
%s

[Feedback]
%s

List, step by step:
- which KPIs to compute (ROAS, CTR, ...)
- which visualizations are needed (bar chart, line chart, ...)
- the order of the analysis

Plan at most 3 images, each holding exactly one chart or table. Do not write Python code.`,
		profile, query, orNone(strings.Join(feedback, "\n")))
}

const coderSystem = "You write executable Python analysis code. Reply with code only, no explanations and no Markdown fences."

func codePrompt(plan, profile, dataset, figureDir string, cycle int, revision string) string {
	return fmt.Sprintf(`[Analysis plan]
%s

[Dataset summary]
%s

[Dataset path]
%s

%s

Write Python code that carries out the plan.

Rules:
- Load the data first: df = %s
- Use numpy, pandas, matplotlib and seaborn only.
- Do not prefix variable names with an underscore.
- Do not write CSV files.
- Save every figure with an absolute path, one chart or table per image:
  plt.savefig(r'%s/figure_%d_0.png'), plt.savefig(r'%s/figure_%d_1.png'), ...`,
		plan, profile, dataset, revision, loadStatement(dataset), figureDir, cycle, figureDir, cycle)
}

// loadStatement is the pandas call that reads dataset into a frame.
func loadStatement(dataset string) string {
	switch strings.ToLower(filepath.Ext(dataset)) {
	case ".tsv":
		return fmt.Sprintf("pd.read_csv(r'%s', sep='\\t')", dataset)
	case ".xlsx", ".xls":
		return fmt.Sprintf("pd.read_excel(r'%s')", dataset)
	}
	return fmt.Sprintf("pd.read_csv(r'%s')", dataset)
}

const analystSystem = "You are a lead data analyst."

func insightPrompt(plan, profile, result string, figures []string, cycle int) string {
	names := "(no figures were produced; work from the text output and the dataset summary)"
	if len(figures) > 0 {
		names = strings.Join(figures, ", ")
	}
	return fmt.Sprintf(`[Plan]
%s

[Dataset summary]
%s

[Execution output]
%s

[Figures of cycle %d]
%s

1. Analyze each new figure with concrete numbers and patterns.
2. Write a standalone overall insight for cycle %d, including business action items.`,
		plan, profile, orNone(result), cycle, names, cycle)
}

const judgeSystem = "You are a marketing analysis auditor acting as a judge."

func evalPrompt(plan, insight string) string {
	return fmt.Sprintf(`[Analysis plan]
%s

[Result]
%s

Check that the result follows the plan and that the numbers are logically sound.
Reply with APPROVE if it is valid, otherwise REJECT followed by the reason.`, plan, insight)
}

const reporterSystem = "You are a data analyst and auditor writing a professional business report in Markdown."

func reportPrompt(dataSummary string, results []string, figures []string) string {
	var visuals strings.Builder
	for _, f := range figures {
		fmt.Fprintf(&visuals, "![%s](%s)\n", f, f)
	}
	return fmt.Sprintf(`## Data Info
%s

## Analysis Results
%s

## Visual Assets
%s

## Instructions
1. Use Markdown.
2. Include an audit section on technical quality, potential biases and data integrity.
3. Highlight the top business findings.
4. Copy the Visual Assets links into the key findings exactly as given; do not change the paths.

## Structure
# Final Analysis Report
## 1. Executive Summary
## 2. Data Overview and Audit
## 3. Key Findings
## 4. Detailed Analysis
## 5. Conclusions and Recommendations`,
		orNone(dataSummary), strings.Join(results, "\n\n---\n\n"), orNone(visuals.String()))
}

const documentSystem = "You are a document analysis expert."

func documentPrompt(text string) string {
	return fmt.Sprintf(`Read the document below and return:

1. A one-paragraph summary (3-5 sentences)
2. Key terms (5-10, comma separated)
3. Key figures, dates and proper nouns (bullet list)
4. Insights (business implications)

## Document
%s`, text)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// stripFences removes a surrounding Markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Package prompts renders the prompt text sent to the model for SQL
// generation, SQL repair, and result analysis. Templates are plain text
// with {{name}} placeholders so operators can version them in the
// database; the constants here are the built-in fallbacks.
package prompts

import (
	"fmt"
	"strings"
)

// Purpose names the three prompt slots.
const (
	PurposeSQLGeneration = "sql_generation"
	PurposeSQLFix        = "sql_fix"
	PurposeAnalysis      = "analysis"
)

// DefaultSQLGenerationTemplate is the built-in generation prompt.
const DefaultSQLGenerationTemplate = `You are an expert {{dialect}} analyst. Generate exactly one SELECT statement answering the question below.

## Database schema
{{schema}}

## Business knowledge
{{knowledge}}

## Examples
{{few_shots}}

## Question
{{question}}

Rules:
- Output only the SQL statement, no explanation and no markdown fences.
- Use only the tables and columns listed in the schema. Do not invent names.
- SELECT statements only. Never write data.
- Use {{dialect}} syntax.`

// DefaultSQLFixTemplate is the built-in repair prompt used by the
// recovery loop.
const DefaultSQLFixTemplate = `You are an expert {{dialect}} analyst. The SQL below failed to execute. Produce a corrected version.

## Database schema
{{schema}}

## Question
{{question}}

## Failed SQL
{{sql}}

## Database error
{{error}}

## Guidance
{{hint}}

Rules:
- Output only the corrected SQL statement, no explanation and no markdown fences.
- Use only the tables and columns listed in the schema.
- SELECT statements only.`

// DefaultAnalysisTemplate is the built-in result analysis prompt.
const DefaultAnalysisTemplate = `You are a business data analyst. Summarize what the query result says about the user's question in two or three sentences. Mention notable totals, extremes, or trends. Do not restate the SQL.

## Question
{{question}}

## SQL
{{sql}}

## Result
{{result}}`

// Render substitutes {{name}} placeholders with vars. Unknown
// placeholders are left intact so a template typo is visible in output
// rather than silently blank.
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// SQLGenerationVars carries everything the generation template can use.
type SQLGenerationVars struct {
	Dialect   string
	Schema    string
	Knowledge string
	FewShots  string
	Question  string
}

// RenderSQLGeneration renders template (the built-in when empty).
func RenderSQLGeneration(template string, v SQLGenerationVars) string {
	if template == "" {
		template = DefaultSQLGenerationTemplate
	}
	return Render(template, map[string]string{
		"dialect":   orDefault(v.Dialect, "SQL"),
		"schema":    v.Schema,
		"knowledge": orDefault(v.Knowledge, "(none)"),
		"few_shots": orDefault(v.FewShots, "(none)"),
		"question":  v.Question,
	})
}

// SQLFixVars carries everything the repair template can use.
type SQLFixVars struct {
	Dialect  string
	Schema   string
	Question string
	SQL      string
	Error    string
	Hint     string
}

// RenderSQLFix renders template (the built-in when empty).
func RenderSQLFix(template string, v SQLFixVars) string {
	if template == "" {
		template = DefaultSQLFixTemplate
	}
	return Render(template, map[string]string{
		"dialect":  orDefault(v.Dialect, "SQL"),
		"schema":   v.Schema,
		"question": v.Question,
		"sql":      v.SQL,
		"error":    v.Error,
		"hint":     orDefault(v.Hint, "(none)"),
	})
}

// AnalysisVars carries everything the analysis template can use.
type AnalysisVars struct {
	Question string
	SQL      string
	Result   string
}

// RenderAnalysis renders template (the built-in when empty).
func RenderAnalysis(template string, v AnalysisVars) string {
	if template == "" {
		template = DefaultAnalysisTemplate
	}
	return Render(template, map[string]string{
		"question": v.Question,
		"sql":      v.SQL,
		"result":   v.Result,
	})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// FormatResultTable renders up to maxRows of a result set as a compact
// text table for the analysis prompt.
func FormatResultTable(columns []string, rows [][]any, maxRows int) string {
	if len(columns) == 0 {
		return "(no columns)"
	}

	var b strings.Builder
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")

	shown := len(rows)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}
	for _, row := range rows[:shown] {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if shown < len(rows) {
		fmt.Fprintf(&b, "... (%d more rows)\n", len(rows)-shown)
	}
	return b.String()
}

// FewShotPair is one curated question→SQL example.
type FewShotPair struct {
	Question string
	SQL      string
}

// FormatFewShots renders example pairs for the {{few_shots}} slot.
func FormatFewShots(pairs []FewShotPair) string {
	if len(pairs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&b, "Example %d:\nQ: %s\nSQL: %s\n", i+1, p.Question, p.SQL)
	}
	return strings.TrimRight(b.String(), "\n")
}

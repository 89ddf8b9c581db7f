package contextmgr

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
	// longDigitPattern catches account numbers, national ids and similar
	// identifiers that survive the phone pattern.
	longDigitPattern = regexp.MustCompile(`\b\d{7,}\b`)
)

// ScrubText masks emails, phone numbers, and long digit runs in free text
// so it can be sent to an external LLM.
func ScrubText(text string) string {
	if text == "" {
		return ""
	}
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = phonePattern.ReplaceAllString(text, "[number]")
	text = longDigitPattern.ReplaceAllString(text, "[number]")
	return text
}

// ResultSummary is the cloud-tier stand-in for a result set: shape and
// numeric aggregates, never the values themselves.
type ResultSummary struct {
	Columns  []string           `json:"columns"`
	RowCount int                `json:"row_count"`
	Numeric  map[string]Numeric `json:"numeric,omitempty"`
}

// Numeric aggregates for one numeric column.
type Numeric struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Sum float64 `json:"sum"`
	Avg float64 `json:"avg"`
}

// SummarizeResult reduces a result set to its schema, row count, and
// per-column numeric aggregates. Non-numeric columns contribute only
// their name.
func SummarizeResult(columns []string, rows [][]any) ResultSummary {
	summary := ResultSummary{
		Columns:  append([]string(nil), columns...),
		RowCount: len(rows),
	}

	for i, col := range columns {
		var (
			count int
			min   float64
			max   float64
			sum   float64
		)
		for _, row := range rows {
			if i >= len(row) {
				continue
			}
			v, ok := toFloat(row[i])
			if !ok {
				continue
			}
			if count == 0 || v < min {
				min = v
			}
			if count == 0 || v > max {
				max = v
			}
			sum += v
			count++
		}
		if count == 0 {
			continue
		}
		if summary.Numeric == nil {
			summary.Numeric = make(map[string]Numeric)
		}
		summary.Numeric[col] = Numeric{
			Min: min,
			Max: max,
			Sum: sum,
			Avg: sum / float64(count),
		}
	}
	return summary
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// renderCloudAnswer turns a completed exchange into the sanitized
// assistant message stored in the cloud tier.
func renderCloudAnswer(turn Turn) string {
	var b strings.Builder

	if turn.SQL != "" {
		b.WriteString("SQL: ")
		b.WriteString(turn.SQL)
		b.WriteString("\n")
	}

	if turn.Error != "" {
		b.WriteString("Result: query failed (")
		b.WriteString(ScrubText(turn.Error))
		b.WriteString(")")
		return b.String()
	}

	summary := SummarizeResult(turn.Columns, turn.Rows)
	fmt.Fprintf(&b, "Result: %d rows, columns [%s]",
		summary.RowCount, strings.Join(summary.Columns, ", "))

	if len(summary.Numeric) > 0 {
		cols := make([]string, 0, len(summary.Numeric))
		for col := range summary.Numeric {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			agg := summary.Numeric[col]
			fmt.Fprintf(&b, "\n%s: min=%g max=%g sum=%g avg=%g",
				col, agg.Min, agg.Max, agg.Sum, agg.Avg)
		}
	}

	if turn.Analysis != "" {
		b.WriteString("\nAnalysis: ")
		b.WriteString(ScrubText(turn.Analysis))
	}
	return b.String()
}

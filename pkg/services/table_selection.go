package services

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"

	"github.com/datachat-io/datachat-engine/pkg/models"
)

// selectTables scores cached tables against the question and keeps the top
// max. Small schemas skip scoring entirely; the prompt can afford them all.
func selectTables(question string, tables []*models.DataTable, max int) []*models.DataTable {
	if len(tables) <= max {
		return tables
	}

	questionTokens := tokenize(question)

	type scored struct {
		table *models.DataTable
		score float64
	}
	candidates := make([]scored, len(tables))
	for i, t := range tables {
		candidates[i] = scored{t, tableScore(t, questionTokens)}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	selected := make([]*models.DataTable, 0, max)
	for _, c := range candidates[:max] {
		selected = append(selected, c.table)
	}
	return selected
}

// tableScore measures question overlap with the table's names, curated
// descriptions, and field metadata. Table-level matches weigh more than
// field-level ones.
func tableScore(t *models.DataTable, questionTokens map[string]bool) float64 {
	var score float64
	for _, text := range []string{t.TableName, t.DisplayName, t.Description} {
		for tok := range tokenize(text) {
			if matchesQuestion(questionTokens, tok) {
				score += 3
			}
		}
	}
	for _, f := range t.Fields {
		for _, text := range []string{f.FieldName, f.BusinessMeaning, f.Comment} {
			for tok := range tokenize(text) {
				if matchesQuestion(questionTokens, tok) {
					score++
				}
			}
		}
	}
	return score
}

// matchesQuestion checks a schema token against the question, tolerating
// singular/plural differences (orders vs order, categories vs category).
func matchesQuestion(questionTokens map[string]bool, tok string) bool {
	if questionTokens[tok] {
		return true
	}
	return questionTokens[inflection.Singular(tok)] || questionTokens[inflection.Plural(tok)]
}

// renderSchema formats selected tables and their join paths for the
// {{schema}} prompt slot.
func renderSchema(tables []*models.DataTable, relations []*models.TableRelation) string {
	names := make(map[uuid.UUID]string, len(tables))
	var b strings.Builder

	for _, t := range tables {
		names[t.ID] = t.QualifiedName()

		b.WriteString("Table ")
		b.WriteString(t.QualifiedName())
		if t.DisplayName != "" && t.DisplayName != t.TableName {
			b.WriteString(" (")
			b.WriteString(t.DisplayName)
			b.WriteString(")")
		}
		if t.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")

		for _, f := range t.Fields {
			b.WriteString("  ")
			b.WriteString(f.FieldName)
			b.WriteString(" ")
			b.WriteString(f.DataType)
			if f.IsPrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
			if !f.IsNullable {
				b.WriteString(" NOT NULL")
			}
			if note := fieldNote(f); note != "" {
				b.WriteString(" -- ")
				b.WriteString(note)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	var joins []string
	for _, rel := range relations {
		from, okFrom := names[rel.FromTableID]
		to, okTo := names[rel.ToTableID]
		if !okFrom || !okTo {
			continue
		}
		joins = append(joins, from+"."+rel.FromField+" -> "+to+"."+rel.ToField)
	}
	if len(joins) > 0 {
		b.WriteString("Join paths:\n")
		for _, j := range joins {
			b.WriteString("  ")
			b.WriteString(j)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// fieldNote prefers the curated business meaning over the raw column
// comment.
func fieldNote(f *models.TableField) string {
	if f.BusinessMeaning != "" {
		return f.BusinessMeaning
	}
	return f.Comment
}

// collectIdentifiers gathers every table and column name the fix loop may
// suggest for a hallucinated identifier.
func collectIdentifiers(tables []*models.DataTable) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, t := range tables {
		add(t.TableName)
		for _, f := range t.Fields {
			add(f.FieldName)
		}
	}
	return out
}

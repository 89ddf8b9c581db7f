package sqlguard

import (
	"strings"
)

// ParsedColumn represents a column extracted from a SELECT statement.
type ParsedColumn struct {
	Name string // The column name or alias
	Expr string // The full expression (e.g., "SUM(amount)")
}

// ParseSelectColumns extracts column names from a SELECT statement. The
// context sanitizer uses the parsed list to describe a result set to the
// cloud tier without shipping its rows.
//
// It handles simple columns, AS aliases, functions, and table-qualified
// names. Subqueries in the SELECT list are not parsed; SELECT * returns nil
// because the columns cannot be known without the schema.
func ParseSelectColumns(sql string) []ParsedColumn {
	sql = strings.TrimSpace(sql)
	sqlLower := strings.ToLower(sql)

	selectIdx := strings.Index(sqlLower, "select")
	if selectIdx == -1 {
		return nil
	}

	// End of SELECT list: first top-level FROM etc. after SELECT.
	endKeywords := []string{" from ", " where ", " group ", " order ", " limit ", ";"}
	endIdx := len(sql)
	for _, keyword := range endKeywords {
		idx := strings.Index(sqlLower[selectIdx:], keyword)
		if idx != -1 && selectIdx+idx < endIdx {
			endIdx = selectIdx + idx
		}
	}

	selectClause := strings.TrimSpace(sql[selectIdx+len("select") : endIdx])
	selectClause = strings.TrimPrefix(selectClause, "DISTINCT ")
	selectClause = strings.TrimPrefix(selectClause, "distinct ")

	if strings.HasPrefix(selectClause, "*") {
		return nil
	}

	var result []ParsedColumn
	for _, expr := range splitSelectColumns(selectClause) {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		result = append(result, ParsedColumn{
			Name: columnName(expr),
			Expr: expr,
		})
	}
	return result
}

// splitSelectColumns splits a SELECT list on commas, ignoring commas inside
// parentheses and string literals.
func splitSelectColumns(clause string) []string {
	var (
		parts   []string
		current strings.Builder
		depth   int
		inQuote bool
	)

	for _, c := range clause {
		switch {
		case c == '\'':
			inQuote = !inQuote
			current.WriteRune(c)
		case inQuote:
			current.WriteRune(c)
		case c == '(':
			depth++
			current.WriteRune(c)
		case c == ')':
			depth--
			current.WriteRune(c)
		case c == ',' && depth == 0:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// columnName derives the reported name of a SELECT list expression:
// the AS alias if present, the bare trailing identifier otherwise, or the
// last path segment of a qualified name.
func columnName(expr string) string {
	lower := strings.ToLower(expr)

	if idx := strings.LastIndex(lower, " as "); idx != -1 {
		return strings.Trim(strings.TrimSpace(expr[idx+4:]), `"`)
	}

	// Implicit alias: "SUM(x) total"
	if !strings.HasSuffix(expr, ")") {
		fields := strings.Fields(expr)
		if len(fields) > 1 {
			return strings.Trim(fields[len(fields)-1], `"`)
		}
	}

	// Qualified name: "u.name" -> "name"
	name := expr
	if idx := strings.LastIndex(name, "."); idx != -1 && !strings.Contains(name, "(") {
		name = name[idx+1:]
	}
	return strings.Trim(name, `"`)
}

// Package sqlguard validates LLM-generated SQL before it touches a
// customer database.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyStatement indicates the generated SQL was empty.
	ErrEmptyStatement = errors.New("empty SQL statement")
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrNotReadOnly indicates the statement is not a plain SELECT.
	ErrNotReadOnly = errors.New("only SELECT statements are permitted")
)

// forbiddenVerbs are statement heads and embedded keywords rejected even
// when the statement starts with SELECT (e.g. "SELECT ... INTO outfile").
var forbiddenVerbs = []string{
	"insert", "update", "delete", "drop", "truncate", "alter", "create",
	"grant", "revoke", "merge", "call", "exec", "execute", "set", "into",
}

// ValidationResult contains the normalized SQL and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks generated SQL and returns the statement the
// executor may run.
//
// The validation order is:
//  1. Strip trailing semicolon and whitespace (normalize)
//  2. Reject multiple statements (any remaining semicolons outside string literals)
//  3. Reject anything that is not a single read-only SELECT / WITH ... SELECT
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if normalized == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	if hasSemicolonOutsideStrings(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	if err := checkReadOnly(normalized); err != nil {
		return ValidationResult{Error: err}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// checkReadOnly verifies the statement is a SELECT (optionally prefixed by a
// WITH clause) and carries no data-modification verbs at statement head.
func checkReadOnly(sqlQuery string) error {
	lower := strings.ToLower(sqlQuery)

	head := firstWord(lower)
	if head != "select" && head != "with" {
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, head)
	}

	// A WITH clause must end in a SELECT, not INSERT/UPDATE/DELETE
	// (Postgres allows data-modifying CTEs).
	for _, verb := range forbiddenVerbs {
		if containsWordOutsideStrings(lower, verb) {
			return fmt.Errorf("%w: contains forbidden keyword %q", ErrNotReadOnly, verb)
		}
	}

	return nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// containsWordOutsideStrings reports whether word appears as a standalone
// token outside single/double-quoted literals. Both inputs must be
// lowercase.
func containsWordOutsideStrings(sqlQuery, word string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	isWordChar := func(r byte) bool {
		return r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
	}

	state := stateNormal
	for i := 0; i+len(word) <= len(sqlQuery); i++ {
		c := sqlQuery[i]
		switch state {
		case stateNormal:
			switch c {
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			default:
				if sqlQuery[i:i+len(word)] == word {
					beforeOK := i == 0 || !isWordChar(sqlQuery[i-1])
					afterIdx := i + len(word)
					afterOK := afterIdx >= len(sqlQuery) || !isWordChar(sqlQuery[afterIdx])
					if beforeOK && afterOK {
						return true
					}
				}
			}
		case stateSingleQuote:
			if c == '\'' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		}
	}
	return false
}

// hasSemicolonOutsideStrings returns true if the SQL contains any semicolon
// outside of string literals.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateNormal
	prevChar := rune(0)

	for _, char := range sqlQuery {
		switch state {
		case stateNormal:
			switch char {
			case ';':
				return true
			case '\'':
				state = stateSingleQuote
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			// Handle both backslash escape (\') and SQL standard escape ('')
			if char == '\'' && prevChar != '\\' {
				state = stateNormal
			}
		case stateDoubleQuote:
			if char == '"' && prevChar != '\\' {
				state = stateNormal
			}
		}
		prevChar = char
	}

	return false
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace around it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}

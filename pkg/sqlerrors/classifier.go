// Package sqlerrors classifies database errors from generated SQL and
// learns which recovery hints actually fix them.
package sqlerrors

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Class is the error taxonomy used by the recovery loop.
type Class string

const (
	ClassSyntax           Class = "syntax_error"
	ClassFieldNotExists   Class = "field_not_exists"
	ClassTableNotExists   Class = "table_not_exists"
	ClassTypeMismatch     Class = "type_mismatch"
	ClassPermissionDenied Class = "permission_denied"
	ClassTimeout          Class = "timeout"
	ClassConnection       Class = "connection_error"
	ClassUnknown          Class = "unknown"
)

// Classification is the result of classifying a database error.
type Classification struct {
	Class  Class  `json:"class"`
	Detail string `json:"detail"`
	// Identifier is the missing column/table name when the error message
	// carries one.
	Identifier string `json:"identifier,omitempty"`
	// Recoverable reports whether regenerating the SQL can plausibly fix
	// the error. Permission and connection failures cannot be fixed by a
	// better query.
	Recoverable bool `json:"recoverable"`
	// Suggestion is guidance injected into the fix prompt.
	Suggestion string `json:"suggestion,omitempty"`
	// UserMessage is the canned message shown when recovery is abandoned.
	UserMessage string `json:"user_message"`
}

// userMessages are the canned per-class messages surfaced to the user.
var userMessages = map[Class]string{
	ClassSyntax:           "The generated SQL had a syntax problem. Please rephrase your question or try again.",
	ClassFieldNotExists:   "The query referenced a column that does not exist in this data source.",
	ClassTableNotExists:   "The query referenced a table that does not exist in this data source.",
	ClassTypeMismatch:     "The query compared values of incompatible types.",
	ClassPermissionDenied: "The configured database account is not allowed to read the requested data.",
	ClassTimeout:          "The query took too long and was cancelled. Try narrowing the time range or aggregating.",
	ClassConnection:       "Could not reach the data source. Check the connection settings.",
	ClassUnknown:          "The query failed for an unexpected reason.",
}

// suggestions feed the fix prompt for recoverable classes.
var suggestions = map[Class]string{
	ClassSyntax:         "Fix the SQL syntax. Emit exactly one SELECT statement valid for the target dialect.",
	ClassFieldNotExists: "Use only columns listed in the schema. Do not invent column names.",
	ClassTableNotExists: "Use only tables listed in the schema, with their exact names.",
	ClassTypeMismatch:   "Cast or compare values with matching types; quote date and string literals.",
	ClassTimeout:        "Simplify the query: aggregate instead of listing rows, and add a time-range filter.",
}

// Identifier extraction patterns per dialect family.
var (
	pgMissingColumn = regexp.MustCompile(`column "?([A-Za-z0-9_.]+)"? does not exist`)
	pgMissingTable  = regexp.MustCompile(`relation "([^"]+)" does not exist`)
	myMissingColumn = regexp.MustCompile(`Unknown column '([^']+)'`)
	myMissingTable  = regexp.MustCompile(`Table '([^']+)' doesn't exist`)
	msMissingColumn = regexp.MustCompile(`Invalid column name '([^']+)'`)
	msMissingObject = regexp.MustCompile(`Invalid object name '([^']+)'`)
)

// Classify maps a database error to its class. It prefers structured
// SQLSTATE codes (pgx surfaces them) and falls back to message heuristics
// that cover the MySQL and SQL Server message shapes.
func Classify(err error) *Classification {
	if err == nil {
		return nil
	}

	// Structured path: PostgreSQL SQLSTATE via pgx.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if c := classifySQLState(pgErr); c != nil {
			return c
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	// Connection failures first: driver errors often embed other keywords.
	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "unexpected eof"):
		return build(ClassConnection, msg, "")
	}

	switch {
	case strings.Contains(lower, "statement timeout"),
		strings.Contains(lower, "context deadline exceeded"),
		strings.Contains(lower, "i/o timeout"),
		strings.Contains(lower, "query execution was interrupted"),
		strings.Contains(lower, "canceling statement"):
		return build(ClassTimeout, msg, "")
	}

	// Missing column.
	for _, re := range []*regexp.Regexp{pgMissingColumn, myMissingColumn, msMissingColumn} {
		if m := re.FindStringSubmatch(msg); m != nil {
			return build(ClassFieldNotExists, msg, m[1])
		}
	}

	// Missing table.
	for _, re := range []*regexp.Regexp{pgMissingTable, myMissingTable, msMissingObject} {
		if m := re.FindStringSubmatch(msg); m != nil {
			return build(ClassTableNotExists, msg, m[1])
		}
	}

	switch {
	case strings.Contains(lower, "syntax error"), // postgres, sqlite
		strings.Contains(lower, "error 1064"),               // mysql
		strings.Contains(lower, "error in your sql syntax"), // mysql
		strings.Contains(lower, "incorrect syntax near"):    // mssql
		return build(ClassSyntax, msg, "")
	}

	switch {
	case strings.Contains(lower, "operator does not exist"), // postgres
		strings.Contains(lower, "invalid input syntax for"), // postgres
		strings.Contains(lower, "incorrect datetime value"), // mysql
		strings.Contains(lower, "incorrect integer value"),  // mysql
		strings.Contains(lower, "conversion failed"),        // mssql
		strings.Contains(lower, "truncated incorrect"):      // mysql 1292
		return build(ClassTypeMismatch, msg, "")
	}

	switch {
	case strings.Contains(lower, "permission denied"), // postgres
		strings.Contains(lower, "access denied"),         // mysql
		strings.Contains(lower, "command denied"),        // mysql 1142
		strings.Contains(lower, "permission was denied"): // mssql
		return build(ClassPermissionDenied, msg, "")
	}

	return build(ClassUnknown, msg, "")
}

// classifySQLState maps PostgreSQL SQLSTATE codes to classes.
func classifySQLState(pgErr *pgconn.PgError) *Classification {
	detail := pgErr.Message

	switch pgErr.Code {
	case "42601":
		return build(ClassSyntax, detail, "")
	case "42703":
		ident := ""
		if m := pgMissingColumn.FindStringSubmatch(detail); m != nil {
			ident = m[1]
		}
		return build(ClassFieldNotExists, detail, ident)
	case "42P01":
		ident := ""
		if m := pgMissingTable.FindStringSubmatch(detail); m != nil {
			ident = m[1]
		}
		return build(ClassTableNotExists, detail, ident)
	case "42804", "22P02", "42883":
		return build(ClassTypeMismatch, detail, "")
	case "42501":
		return build(ClassPermissionDenied, detail, "")
	case "57014":
		return build(ClassTimeout, detail, "")
	}

	return nil
}

func build(class Class, detail, identifier string) *Classification {
	c := &Classification{
		Class:       class,
		Detail:      detail,
		Identifier:  identifier,
		Recoverable: IsRecoverable(class),
		Suggestion:  suggestions[class],
		UserMessage: userMessages[class],
	}
	return c
}

// IsRecoverable reports whether regenerating SQL can plausibly fix an
// error of the given class.
func IsRecoverable(class Class) bool {
	switch class {
	case ClassSyntax, ClassFieldNotExists, ClassTableNotExists, ClassTypeMismatch, ClassTimeout:
		return true
	}
	return false
}

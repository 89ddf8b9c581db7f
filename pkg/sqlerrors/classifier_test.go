package sqlerrors

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_PostgresSQLState(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		wantClass Class
		wantIdent string
	}{
		{
			name:      "syntax error",
			code:      "42601",
			message:   `syntax error at or near "FORM"`,
			wantClass: ClassSyntax,
		},
		{
			name:      "undefined column",
			code:      "42703",
			message:   `column "custmer_name" does not exist`,
			wantClass: ClassFieldNotExists,
			wantIdent: "custmer_name",
		},
		{
			name:      "undefined table",
			code:      "42P01",
			message:   `relation "order_detail" does not exist`,
			wantClass: ClassTableNotExists,
			wantIdent: "order_detail",
		},
		{
			name:      "type mismatch",
			code:      "42804",
			message:   "argument of WHERE must be type boolean",
			wantClass: ClassTypeMismatch,
		},
		{
			name:      "undefined function",
			code:      "42883",
			message:   "operator does not exist: text > integer",
			wantClass: ClassTypeMismatch,
		},
		{
			name:      "permission denied",
			code:      "42501",
			message:   "permission denied for table salaries",
			wantClass: ClassPermissionDenied,
		},
		{
			name:      "statement timeout",
			code:      "57014",
			message:   "canceling statement due to statement timeout",
			wantClass: ClassTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &pgconn.PgError{Code: tt.code, Message: tt.message}
			c := Classify(err)
			require.NotNil(t, c)
			assert.Equal(t, tt.wantClass, c.Class)
			assert.Equal(t, tt.wantIdent, c.Identifier)
			assert.NotEmpty(t, c.UserMessage)
		})
	}
}

func TestClassify_MessageHeuristics(t *testing.T) {
	tests := []struct {
		name      string
		err       string
		wantClass Class
		wantIdent string
	}{
		{
			name:      "mysql unknown column",
			err:       `Error 1054: Unknown column 'custmer_id' in 'field list'`,
			wantClass: ClassFieldNotExists,
			wantIdent: "custmer_id",
		},
		{
			name:      "mysql missing table",
			err:       `Error 1146: Table 'sales.order_detail' doesn't exist`,
			wantClass: ClassTableNotExists,
			wantIdent: "sales.order_detail",
		},
		{
			name:      "mysql syntax",
			err:       "Error 1064: You have an error in your SQL syntax; check the manual",
			wantClass: ClassSyntax,
		},
		{
			name:      "mysql type mismatch",
			err:       `Error 1292: Incorrect datetime value: 'lastweek' for column 'dt'`,
			wantClass: ClassTypeMismatch,
		},
		{
			name:      "mysql command denied",
			err:       "Error 1142: SELECT command denied to user 'bi'@'10.0.0.8' for table 'salaries'",
			wantClass: ClassPermissionDenied,
		},
		{
			name:      "mssql invalid column",
			err:       `mssql: Invalid column name 'custmer_name'.`,
			wantClass: ClassFieldNotExists,
			wantIdent: "custmer_name",
		},
		{
			name:      "mssql invalid object",
			err:       `mssql: Invalid object name 'dbo.order_detail'.`,
			wantClass: ClassTableNotExists,
			wantIdent: "dbo.order_detail",
		},
		{
			name:      "mssql syntax",
			err:       "Incorrect syntax near the keyword 'FORM'.",
			wantClass: ClassSyntax,
		},
		{
			name:      "mssql conversion",
			err:       "Conversion failed when converting the varchar value 'abc' to data type int.",
			wantClass: ClassTypeMismatch,
		},
		{
			name:      "postgres plain message",
			err:       `ERROR: column "regino" does not exist (SQLSTATE 42703)`,
			wantClass: ClassFieldNotExists,
			wantIdent: "regino",
		},
		{
			name:      "connection refused",
			err:       "dial tcp 10.0.0.5:5432: connect: connection refused",
			wantClass: ClassConnection,
		},
		{
			name:      "deadline exceeded",
			err:       "query failed: context deadline exceeded",
			wantClass: ClassTimeout,
		},
		{
			name:      "unknown",
			err:       "something completely different",
			wantClass: ClassUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(errors.New(tt.err))
			require.NotNil(t, c)
			assert.Equal(t, tt.wantClass, c.Class)
			assert.Equal(t, tt.wantIdent, c.Identifier)
		})
	}
}

func TestClassify_Recoverability(t *testing.T) {
	recoverable := []Class{ClassSyntax, ClassFieldNotExists, ClassTableNotExists, ClassTypeMismatch, ClassTimeout}
	for _, class := range recoverable {
		assert.True(t, IsRecoverable(class), "expected %s to be recoverable", class)
	}

	fatal := []Class{ClassPermissionDenied, ClassConnection, ClassUnknown}
	for _, class := range fatal {
		assert.False(t, IsRecoverable(class), "expected %s to be non-recoverable", class)
	}
}

func TestSuggestIdentifiers(t *testing.T) {
	fields := []string{"customer_name", "customer_id", "order_total", "created_at", "region"}

	t.Run("near miss ranked first", func(t *testing.T) {
		got := SuggestIdentifiers("custmer_name", fields, 3)
		require.NotEmpty(t, got)
		assert.Equal(t, "customer_name", got[0].Name)
	})

	t.Run("qualified identifier stripped", func(t *testing.T) {
		got := SuggestIdentifiers("c.regoin", fields, 3)
		require.NotEmpty(t, got)
		assert.Equal(t, "region", got[0].Name)
	})

	t.Run("distant names dropped", func(t *testing.T) {
		got := SuggestIdentifiers("zzzzzz", fields, 3)
		assert.Empty(t, got)
	})

	t.Run("exact match excluded", func(t *testing.T) {
		for _, s := range SuggestIdentifiers("region", fields, 3) {
			assert.NotEqual(t, "region", s.Name)
		}
	})

	t.Run("respects max", func(t *testing.T) {
		got := SuggestIdentifiers("customer", []string{"customer1", "customer2", "customer3"}, 2)
		assert.LessOrEqual(t, len(got), 2)
	})
}

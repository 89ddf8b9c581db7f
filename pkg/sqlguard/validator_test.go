package sqlguard

import (
	"errors"
	"testing"
)

func TestValidateAndNormalize(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		wantErr error
	}{
		{
			name: "plain select",
			sql:  "SELECT id, name FROM customers",
			want: "SELECT id, name FROM customers",
		},
		{
			name: "trailing semicolon stripped",
			sql:  "SELECT count(*) FROM orders;",
			want: "SELECT count(*) FROM orders",
		},
		{
			name: "trailing semicolon with whitespace",
			sql:  "SELECT 1 ;  \n",
			want: "SELECT 1",
		},
		{
			name: "with clause allowed",
			sql:  "WITH recent AS (SELECT * FROM orders WHERE dt > '2026-01-01') SELECT count(*) FROM recent",
			want: "WITH recent AS (SELECT * FROM orders WHERE dt > '2026-01-01') SELECT count(*) FROM recent",
		},
		{
			name:    "empty",
			sql:     "   ",
			wantErr: ErrEmptyStatement,
		},
		{
			name:    "lone semicolon",
			sql:     ";",
			wantErr: ErrEmptyStatement,
		},
		{
			name:    "multiple statements",
			sql:     "SELECT 1; DROP TABLE users",
			wantErr: ErrMultipleStatements,
		},
		{
			name: "semicolon inside string literal ok",
			sql:  "SELECT * FROM logs WHERE msg = 'a;b'",
			want: "SELECT * FROM logs WHERE msg = 'a;b'",
		},
		{
			name:    "update rejected",
			sql:     "UPDATE customers SET name = 'x'",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "delete rejected",
			sql:     "DELETE FROM orders",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "data-modifying cte rejected",
			sql:     "WITH x AS (DELETE FROM orders RETURNING *) SELECT * FROM x",
			wantErr: ErrNotReadOnly,
		},
		{
			name:    "select into rejected",
			sql:     "SELECT * INTO backup FROM orders",
			wantErr: ErrNotReadOnly,
		},
		{
			name: "keyword inside string literal ok",
			sql:  "SELECT * FROM audit WHERE action = 'delete'",
			want: "SELECT * FROM audit WHERE action = 'delete'",
		},
		{
			name: "keyword as identifier substring ok",
			sql:  "SELECT created_at, updated_at FROM orders",
			want: "SELECT created_at, updated_at FROM orders",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.sql)
			if tt.wantErr != nil {
				if result.Error == nil {
					t.Fatalf("expected error %v, got none (normalized: %q)", tt.wantErr, result.NormalizedSQL)
				}
				if !errors.Is(result.Error, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, result.Error)
				}
				return
			}
			if result.Error != nil {
				t.Fatalf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.want {
				t.Errorf("expected %q, got %q", tt.want, result.NormalizedSQL)
			}
		})
	}
}

func TestCheckValueForInjection(t *testing.T) {
	t.Run("clean value", func(t *testing.T) {
		if r := CheckValueForInjection("region", "east"); r != nil {
			t.Errorf("expected nil for clean value, got %+v", r)
		}
	})

	t.Run("classic injection", func(t *testing.T) {
		r := CheckValueForInjection("search", "' OR 1=1 --")
		if r == nil {
			t.Fatal("expected injection detection")
		}
		if !r.IsSQLi || r.Name != "search" {
			t.Errorf("unexpected result: %+v", r)
		}
	})

	t.Run("non-string skipped", func(t *testing.T) {
		if r := CheckValueForInjection("limit", 42); r != nil {
			t.Errorf("expected nil for int value, got %+v", r)
		}
	})
}

func TestCheckAllValues(t *testing.T) {
	results := CheckAllValues(map[string]any{
		"region": "east",
		"attack": "'; DROP TABLE users--",
		"count":  10,
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 flagged value, got %d", len(results))
	}
	if results[0].Name != "attack" {
		t.Errorf("wrong value flagged: %s", results[0].Name)
	}
}

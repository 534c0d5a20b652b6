package request

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Filter
	}{
		{
			name:  "empty input",
			input: "   ",
			want:  nil,
		},
		{
			name:  "string equality",
			input: "title eq 'dune'",
			want:  FieldFilter{Field: "title", Op: OpEq, Value: "dune"},
		},
		{
			name:  "item-prefixed field",
			input: "@item.ownerId eq 42",
			want:  FieldFilter{Field: "ownerId", Op: OpEq, Value: int64(42)},
		},
		{
			name:  "escaped quote",
			input: "title eq 'it''s here'",
			want:  FieldFilter{Field: "title", Op: OpEq, Value: "it's here"},
		},
		{
			name:  "numeric comparisons",
			input: "pages gt 100 and rating ge 4.5",
			want: AndFilter{Items: []Filter{
				FieldFilter{Field: "pages", Op: OpGt, Value: int64(100)},
				FieldFilter{Field: "rating", Op: OpGte, Value: 4.5},
			}},
		},
		{
			name:  "negative number",
			input: "balance lt -10",
			want:  FieldFilter{Field: "balance", Op: OpLt, Value: int64(-10)},
		},
		{
			name:  "booleans",
			input: "available eq true or archived ne false",
			want: OrFilter{Items: []Filter{
				FieldFilter{Field: "available", Op: OpEq, Value: true},
				FieldFilter{Field: "archived", Op: OpNeq, Value: false},
			}},
		},
		{
			name:  "null checks",
			input: "deletedAt eq null and publishedAt ne null",
			want: AndFilter{Items: []Filter{
				FieldFilter{Field: "deletedAt", Op: OpIsNull},
				FieldFilter{Field: "publishedAt", Op: OpIsNotNull},
			}},
		},
		{
			name:  "grouping changes precedence",
			input: "a eq 1 and (b eq 2 or c eq 3)",
			want: AndFilter{Items: []Filter{
				FieldFilter{Field: "a", Op: OpEq, Value: int64(1)},
				OrFilter{Items: []Filter{
					FieldFilter{Field: "b", Op: OpEq, Value: int64(2)},
					FieldFilter{Field: "c", Op: OpEq, Value: int64(3)},
				}},
			}},
		},
		{
			name:  "and binds tighter than or",
			input: "a eq 1 or b eq 2 and c eq 3",
			want: OrFilter{Items: []Filter{
				FieldFilter{Field: "a", Op: OpEq, Value: int64(1)},
				AndFilter{Items: []Filter{
					FieldFilter{Field: "b", Op: OpEq, Value: int64(2)},
					FieldFilter{Field: "c", Op: OpEq, Value: int64(3)},
				}},
			}},
		},
		{
			name:  "not",
			input: "not (status eq 'deleted')",
			want:  NotFilter{Item: FieldFilter{Field: "status", Op: OpEq, Value: "deleted"}},
		},
		{
			name:  "string functions",
			input: "contains(title, 'war') and startswith(title, 'the') and endswith(title, 'peace')",
			want: AndFilter{Items: []Filter{
				FieldFilter{Field: "title", Op: OpContains, Value: "war"},
				FieldFilter{Field: "title", Op: OpStartsWith, Value: "the"},
				FieldFilter{Field: "title", Op: OpEndsWith, Value: "peace"},
			}},
		},
		{
			name:  "in list",
			input: "status in ('active', 'archived', 3)",
			want:  FieldFilter{Field: "status", Op: OpIn, Value: []any{"active", "archived", int64(3)}},
		},
		{
			name:  "like",
			input: "title like 'd_ne%' and title notlike '%x%'",
			want: AndFilter{Items: []Filter{
				FieldFilter{Field: "title", Op: OpLike, Value: "d_ne%"},
				FieldFilter{Field: "title", Op: OpNotLike, Value: "%x%"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.input)
			if err != nil {
				t.Fatalf("ParseFilter(%q) unexpected error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseFilter(%q) =\n%#v\nwant\n%#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSub string
	}{
		{"unterminated string", "title eq 'dune", "unterminated string"},
		{"unknown operator", "title equals 'dune'", "unknown operator"},
		{"dangling operator", "title eq", "expected a literal"},
		{"unbalanced paren", "(title eq 'dune'", "expected )"},
		{"trailing garbage", "title eq 'dune' pages", "unexpected"},
		{"unresolved claims", "@claims.userId eq 1", "unresolved claim reference"},
		{"bad field reference", "a.b.c eq 1", "bad field reference"},
		{"null in list", "status in (null)", "null is not allowed"},
		{"null with gt", "pages gt null", "null only combines"},
		{"stray character", "title eq 'x' ; drop", "unexpected character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilter(tt.input)
			if err == nil {
				t.Fatalf("ParseFilter(%q) expected error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestFields(t *testing.T) {
	f := AndFilter{Items: []Filter{
		FieldFilter{Field: "a", Op: OpEq, Value: 1},
		OrFilter{Items: []Filter{
			FieldFilter{Field: "b", Op: OpIsNull},
			NotFilter{Item: FieldFilter{Field: "c", Op: OpGt, Value: 2}},
		}},
	}}
	got := Fields(f)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
}

func TestAndOrHelpers(t *testing.T) {
	a := FieldFilter{Field: "a", Op: OpEq, Value: 1}
	b := FieldFilter{Field: "b", Op: OpEq, Value: 2}

	if got := And(); got != nil {
		t.Errorf("And() = %v, want nil", got)
	}
	if got := And(nil, a); !reflect.DeepEqual(got, a) {
		t.Errorf("And(nil, a) = %v, want the single filter", got)
	}
	if got := And(a, b); !reflect.DeepEqual(got, AndFilter{Items: []Filter{a, b}}) {
		t.Errorf("And(a, b) = %v", got)
	}
	if got := Or(a, nil, b); !reflect.DeepEqual(got, OrFilter{Items: []Filter{a, b}}) {
		t.Errorf("Or(a, nil, b) = %v", got)
	}
}

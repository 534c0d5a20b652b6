package query

import (
	"reflect"
	"testing"
)

func TestKeysetPredicate_SingleAscending(t *testing.T) {
	ps := NewParameterSet()
	col := Column{Table: "table0", Name: "id"}

	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: col, Value: int64(10)},
	})

	want := Comparison{Column: col, Op: OpGt, Param: "param0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("predicate =\n%#v\nwant\n%#v", got, want)
	}
	if v, _ := ps.Value("param0"); v != int64(10) {
		t.Errorf("param0 = %v, want 10", v)
	}
}

func TestKeysetPredicate_TwoColumns(t *testing.T) {
	ps := NewParameterSet()
	title := Column{Table: "table0", Name: "title"}
	id := Column{Table: "table0", Name: "id"}

	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: title, Value: "dune"},
		{Column: id, Value: int64(7)},
	})

	want := Or{Items: []Predicate{
		Comparison{Column: title, Op: OpGt, Param: "param0"},
		And{Items: []Predicate{
			Comparison{Column: title, Op: OpEq, Param: "param0"},
			Comparison{Column: id, Op: OpGt, Param: "param1"},
		}},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("predicate =\n%#v\nwant\n%#v", got, want)
	}
}

func TestKeysetPredicate_TieReusesParameter(t *testing.T) {
	ps := NewParameterSet()
	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: Column{Table: "t", Name: "a"}, Value: 1},
		{Column: Column{Table: "t", Name: "b"}, Value: 2},
		{Column: Column{Table: "t", Name: "c"}, Value: 3},
	})

	// Three cursor values bind exactly three parameters no matter how many
	// times ties repeat them.
	if ps.Len() != 3 {
		t.Errorf("bound %d parameters, want 3", ps.Len())
	}
	or, ok := got.(Or)
	if !ok || len(or.Items) != 3 {
		t.Fatalf("predicate = %#v, want 3-way disjunction", got)
	}
}

func TestKeysetPredicate_DescendingNullable(t *testing.T) {
	ps := NewParameterSet()
	col := Column{Table: "table0", Name: "publishedAt"}

	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: col, Descending: true, Nullable: true, Value: "2024-01-01"},
	})

	// Descending with NULLs last: smaller values and NULLs both follow.
	want := Or{Items: []Predicate{
		Comparison{Column: col, Op: OpLt, Param: "param0"},
		Comparison{Column: col, Op: OpIsNull},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("predicate =\n%#v\nwant\n%#v", got, want)
	}
}

func TestKeysetPredicate_AscendingNullValue(t *testing.T) {
	ps := NewParameterSet()
	rating := Column{Table: "table0", Name: "rating"}
	id := Column{Table: "table0", Name: "id"}

	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: rating, Nullable: true, Value: nil},
		{Column: id, Value: int64(5)},
	})

	// After a NULL ascending: every non-null rating, or deeper ties among
	// the remaining NULLs.
	want := Or{Items: []Predicate{
		Comparison{Column: rating, Op: OpIsNotNull},
		And{Items: []Predicate{
			Comparison{Column: rating, Op: OpIsNull},
			Comparison{Column: id, Op: OpGt, Param: "param0"},
		}},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("predicate =\n%#v\nwant\n%#v", got, want)
	}
}

func TestKeysetPredicate_DescendingNullValueExhausted(t *testing.T) {
	ps := NewParameterSet()
	got := KeysetPredicate(ps, []KeysetColumn{
		{Column: Column{Table: "t", Name: "a"}, Descending: true, Nullable: true, Value: nil},
	})

	// Descending with the cursor already on NULL: nothing follows.
	if _, ok := got.(False); !ok {
		t.Errorf("predicate = %#v, want False", got)
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		prefix  bool
		suffix  bool
		want    string
	}{
		{"contains", "war", true, true, "%war%"},
		{"startswith", "the", false, true, "the%"},
		{"endswith", "peace", true, false, "%peace"},
		{"escapes percent", "100%", true, true, `%100\%%`},
		{"escapes underscore", "a_b", true, true, `%a\_b%`},
		{"escapes backslash", `a\b`, true, true, `%a\\b%`},
		{"escapes bracket", "x[1]", true, true, `%x\[1]%`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LikePattern(tt.value, tt.prefix, tt.suffix); got != tt.want {
				t.Errorf("LikePattern(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

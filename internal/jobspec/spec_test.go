package jobspec

import (
	"reflect"
	"testing"
)

func TestParseBasic(t *testing.T) {
	got, err := Parse("Sleep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Spec{Name: "Sleep"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseNamedAndPositional(t *testing.T) {
	got, err := Parse(`C:a=1,b="x,y"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "C" {
		t.Fatalf("name = %q", got.Name)
	}
	if len(got.Args) != 0 {
		t.Fatalf("args = %v, want none", got.Args)
	}
	want := map[string]string{"a": "1", "b": "x,y"}
	if !reflect.DeepEqual(got.KWArgs, want) {
		t.Fatalf("kwargs = %v want %v", got.KWArgs, want)
	}
}

func TestParsePositionalThenNamed(t *testing.T) {
	got, err := Parse("Sleep:10,path=/tmp/out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Args, []string{"10"}) {
		t.Fatalf("args = %v", got.Args)
	}
	if got.KWArgs["path"] != "/tmp/out" {
		t.Fatalf("kwargs = %v", got.KWArgs)
	}
}

func TestParsePositionalAfterNamedRejected(t *testing.T) {
	if _, err := Parse("Sleep:a=1,2"); err == nil {
		t.Fatal("expected error for positional after named")
	}
}

func TestParseDuplicateKeyRejected(t *testing.T) {
	if _, err := Parse("Sleep:a=1,a=2"); err == nil {
		t.Fatal("expected error for duplicated key")
	}
}

func TestParseImplicitEmptyRejected(t *testing.T) {
	if _, err := Parse("Sleep:a=1,,b=2"); err == nil {
		t.Fatal("expected error for implicit empty value")
	}
}

func TestParseExplicitEmptyAllowed(t *testing.T) {
	got, err := Parse(`Sleep:a=""`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := got.KWArgs["a"]; !ok || v != "" {
		t.Fatalf("kwargs = %v", got.KWArgs)
	}
}

func TestParseEmptyNamedKeyRejected(t *testing.T) {
	if _, err := Parse("Sleep:=1"); err == nil {
		t.Fatal("expected error for empty named key")
	}
}

func TestParseLiteralParensAllowed(t *testing.T) {
	// Literal, evenly- or unevenly-balanced parens are just ordinary value
	// characters — the "unbalanced parentheses" invariant is really about
	// quote-character parity (see TestParseUnbalancedQuotesRejected below),
	// so neither of these should error.
	for _, jobSpec := range []string{"Sleep:a=foo(bar)", "Sleep:a=foo(bar"} {
		got, err := Parse(jobSpec)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", jobSpec, err)
		}
		if got.KWArgs["a"] == "" {
			t.Fatalf("Parse(%q): kwargs = %v", jobSpec, got.KWArgs)
		}
	}
}

func TestParseUnbalancedQuotesRejected(t *testing.T) {
	// A stray, unmatched quote character inside a bare value is rejected
	// with the original's "unbalanced parentheses" (quote-parity) error; it
	// must never be absorbed into a following token's comma.
	for _, jobSpec := range []string{`Sleep:it's,can't`, `Sleep:a="`, `Sleep:a=it's`} {
		if _, err := Parse(jobSpec); err == nil {
			t.Fatalf("Parse(%q): expected error for unbalanced quotes", jobSpec)
		}
	}
}

func TestParseStrayApostropheDoesNotMergeTokens(t *testing.T) {
	// Guards against the whole-string quote-toggle bug: an unmatched quote
	// in one token must raise (it fails quote-parity), not silently merge
	// the comma-separated tokens around it into a single positional arg.
	_, err := Parse("Sleep:it's,can't")
	if err == nil {
		t.Fatal("expected error, got successful parse (tokens were merged)")
	}
}

func TestParseSingleQuotes(t *testing.T) {
	got, err := Parse("Sleep:a='x,y'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.KWArgs["a"] != "x,y" {
		t.Fatalf("kwargs = %v", got.KWArgs)
	}
}

func TestExtractReserved(t *testing.T) {
	taskID, cronitorID, rest := ExtractReserved(map[string]string{
		"task_id":     "42",
		"cronitor_id": "abc",
		"seconds":     "1",
	})
	if taskID != "42" || cronitorID != "abc" {
		t.Fatalf("taskID=%q cronitorID=%q", taskID, cronitorID)
	}
	if len(rest) != 1 || rest["seconds"] != "1" {
		t.Fatalf("rest = %v", rest)
	}
}

func TestSpecStringRoundTrip(t *testing.T) {
	s := Spec{Name: "C", KWArgs: map[string]string{"a": "1"}}
	if got := s.String(); got != "C:a=1" {
		t.Fatalf("String() = %q", got)
	}
}

package memory

import (
	"errors"
	"testing"
)

func TestNormalizeSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"Hello World", "hello-world"},
		{"  spaced  out  ", "spaced-out"},
		{"snake_case_name", "snake-case-name"},
		{"UPPER", "upper"},
		{"multi---dash", "multi-dash"},
		{"-leading-and-trailing-", "leading-and-trailing"},
		{"dots.and,commas", "dotsandcommas"},
		{"tabs\tand\nnewlines", "tabs-and-newlines"},
		{"a1-b2", "a1-b2"},
		{"Ünïcödé-mix", "ncd-mix"},
	}

	for _, testCase := range tests {
		t.Run(testCase.input, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeSlug(testCase.input)
			if err != nil {
				t.Fatalf("NormalizeSlug(%q) failed: %v", testCase.input, err)
			}

			if got.String() != testCase.want {
				t.Errorf("NormalizeSlug(%q) = %q, want %q", testCase.input, got, testCase.want)
			}
		})
	}
}

func TestNormalizeSlugEmptyResult(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "---", "...", "日本語", "  ", "___"} {
		_, err := NormalizeSlug(input)
		if !errors.Is(err, ErrEmptyAfterNormalization) {
			t.Errorf("NormalizeSlug(%q) = %v, want ErrEmptyAfterNormalization", input, err)
		}
	}
}

func TestParseSlug(t *testing.T) {
	t.Parallel()

	valid := []string{"a", "abc", "a-b", "a1-2b", "0", "long-slug-with-many-parts"}
	for _, input := range valid {
		_, err := ParseSlug(input)
		if err != nil {
			t.Errorf("ParseSlug(%q) failed: %v", input, err)
		}
	}

	invalid := []string{"", "A", "a_b", "a b", "-a", "a-", "a--b", "a/b", "é"}
	for _, input := range invalid {
		_, err := ParseSlug(input)
		if !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("ParseSlug(%q) = %v, want ErrInvalidSlug", input, err)
		}
	}
}

func TestParseCategoryPath(t *testing.T) {
	t.Parallel()

	root, err := ParseCategoryPath("")
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}

	if !root.IsRoot() || root.Depth() != 0 {
		t.Errorf("empty string should parse to the root category")
	}

	path, err := ParseCategoryPath("a/b/c")
	if err != nil {
		t.Fatalf("parse a/b/c: %v", err)
	}

	if path.Depth() != 3 || path.String() != "a/b/c" {
		t.Errorf("ParseCategoryPath(a/b/c) = %q depth %d", path, path.Depth())
	}

	if path.Parent().String() != "a/b" {
		t.Errorf("parent of a/b/c = %q, want a/b", path.Parent())
	}
}

func TestParseCategoryPathRejectsUnsafeInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"leading separator", "/a/b"},
		{"trailing separator", "a/b/"},
		{"empty segment", "a//b"},
		{"dot segment", "a/./b"},
		{"dotdot segment", "a/../b"},
		{"bare dotdot", ".."},
		{"backslash", `a\b`},
		{"windows drive", `c:/a`},
		{"uppercase", "A/b"},
		{"underscore", "a_b/c"},
		{"space", "a b/c"},
		{"unicode", "café/x"},
		{"absolute", "/etc/passwd"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseCategoryPath(testCase.input)
			if err == nil {
				t.Errorf("ParseCategoryPath(%q) should fail", testCase.input)
			}
		})
	}
}

func TestParseMemoryPath(t *testing.T) {
	t.Parallel()

	path, err := ParseMemoryPath("project/cortex/architecture")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	category, leaf := path.Split()
	if category.String() != "project/cortex" {
		t.Errorf("category = %q, want project/cortex", category)
	}

	if leaf.String() != "architecture" {
		t.Errorf("leaf = %q, want architecture", leaf)
	}

	if path.String() != "project/cortex/architecture" {
		t.Errorf("round-trip = %q", path)
	}

	_, err = ParseMemoryPath("")
	if err == nil {
		t.Error("empty memory path should fail")
	}

	// A single segment is a root-level memory, never the root itself.
	single, err := ParseMemoryPath("notes")
	if err != nil {
		t.Fatalf("parse single segment: %v", err)
	}

	if !single.Category().IsRoot() {
		t.Error("single-segment memory should live in the root category")
	}
}

func TestCategoryPathStartsWith(t *testing.T) {
	t.Parallel()

	base := MustCategoryPath("a/b")

	tests := []struct {
		path   string
		prefix CategoryPath
		want   bool
	}{
		{"a/b", base, true},
		{"a/b/c", base, true},
		{"a", base, false},
		{"a/bc", base, false},
		{"x/a/b", base, false},
	}

	for _, testCase := range tests {
		got := MustCategoryPath(testCase.path).StartsWith(testCase.prefix)
		if got != testCase.want {
			t.Errorf("StartsWith(%q, %q) = %v, want %v", testCase.path, testCase.prefix, got, testCase.want)
		}
	}

	// Everything starts with the root.
	if !MustCategoryPath("a/b").StartsWith(RootCategory()) {
		t.Error("every path should start with the root")
	}
}

func TestCategoryPathAncestors(t *testing.T) {
	t.Parallel()

	ancestors := MustCategoryPath("a/b/c").Ancestors()
	if len(ancestors) != 2 {
		t.Fatalf("ancestors of a/b/c: got %d, want 2", len(ancestors))
	}

	if ancestors[0].String() != "a" || ancestors[1].String() != "a/b" {
		t.Errorf("ancestors = [%q, %q], want [a, a/b]", ancestors[0], ancestors[1])
	}

	if MustCategoryPath("a").Ancestors() != nil {
		t.Error("a top-level category has no proper ancestors")
	}
}

func TestMemoryPathInCategory(t *testing.T) {
	t.Parallel()

	path := MustMemoryPath("a/b/leaf")

	if !path.InCategory(MustCategoryPath("a")) {
		t.Error("a/b/leaf should be in a")
	}

	if !path.InCategory(RootCategory()) {
		t.Error("every memory is under the root")
	}

	if path.InCategory(MustCategoryPath("a/b/leaf")) {
		t.Error("the leaf slug is not a category")
	}
}

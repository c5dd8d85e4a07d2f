package memory

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ts(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}

	return parsed.UTC()
}

func TestSerializeParseRoundTrip(t *testing.T) {
	t.Parallel()

	expiry := ts("2030-06-01T00:00:00Z")

	tests := []struct {
		name   string
		record Memory
	}{
		{
			name: "minimal",
			record: Memory{
				Metadata: Metadata{
					CreatedAt: ts("2026-01-02T03:04:05Z"),
					UpdatedAt: ts("2026-01-02T03:04:05Z"),
					Source:    "user",
				},
				Content: "hello\n",
			},
		},
		{
			name: "all fields",
			record: Memory{
				Metadata: Metadata{
					CreatedAt: ts("2026-01-02T03:04:05Z"),
					UpdatedAt: ts("2026-02-02T03:04:05Z"),
					Tags:      []string{"architecture", "decisions"},
					Source:    "mcp",
					ExpiresAt: &expiry,
					Citations: []string{"https://example.com/spec", "docs/adr-001.md"},
				},
				Content: "# Title\n\nBody with **markdown**.\n",
			},
		},
		{
			name: "empty body",
			record: Memory{
				Metadata: Metadata{
					CreatedAt: ts("2026-01-02T03:04:05Z"),
					UpdatedAt: ts("2026-01-02T03:04:05Z"),
					Tags:      []string{"a"},
					Source:    "user",
				},
				Content: "",
			},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			serialized, err := Serialize(&testCase.record)
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}

			parsed, err := Parse(serialized)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}

			if diff := cmp.Diff(testCase.record, parsed); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMissingDelimiters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"no frontmatter", "just a body\n"},
		{"no opening", "created_at: 2026-01-01T00:00:00Z\n---\nbody\n"},
		{"no closing", "---\ncreated_at: 2026-01-01T00:00:00Z\nbody\n"},
		{"empty file", ""},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(testCase.input))
			if !errors.Is(err, ErrMissingFrontmatter) {
				t.Errorf("Parse = %v, want ErrMissingFrontmatter", err)
			}
		})
	}
}

func TestParseDuplicateKeysLastWins(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"---",
		"created_at: 2026-01-01T00:00:00Z",
		"updated_at: 2026-01-01T00:00:00Z",
		"source: first",
		"source: second",
		"tags: [a]",
		"tags: [b, c]",
		"---",
		"body",
	}, "\n")

	parsed, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Metadata.Source != "second" {
		t.Errorf("source = %q, want the last value", parsed.Metadata.Source)
	}

	if diff := cmp.Diff([]string{"b", "c"}, parsed.Metadata.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnknownKeysPreserved(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"---",
		"created_at: 2026-01-01T00:00:00Z",
		"updated_at: 2026-01-01T00:00:00Z",
		"source: user",
		"custom_field: kept",
		"---",
		"body",
	}, "\n")

	parsed, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Metadata.Extra["custom_field"] != "kept" {
		t.Errorf("unknown key not preserved: %#v", parsed.Metadata.Extra)
	}

	// Strict mode drops it instead.
	strict, err := Parse([]byte(input), WithStrictKeys(true))
	if err != nil {
		t.Fatalf("strict parse: %v", err)
	}

	if len(strict.Metadata.Extra) != 0 {
		t.Errorf("strict mode should drop unknown keys, got %#v", strict.Metadata.Extra)
	}

	// And the preserved key survives a round trip.
	serialized, err := Serialize(&parsed)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	again, err := Parse(serialized)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if again.Metadata.Extra["custom_field"] != "kept" {
		t.Errorf("unknown key lost on round trip: %#v", again.Metadata.Extra)
	}
}

func TestParseInvalidTimestamp(t *testing.T) {
	t.Parallel()

	tests := []string{
		"---\ncreated_at: not-a-date\nupdated_at: 2026-01-01T00:00:00Z\nsource: user\n---\n",
		"---\ncreated_at: 2026-01-01T00:00:00Z\nupdated_at: 2026-13-40\nsource: user\n---\n",
		"---\nupdated_at: 2026-01-01T00:00:00Z\nsource: user\n---\n", // created_at missing
	}

	for _, input := range tests {
		_, err := Parse([]byte(input))
		if !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidTimestamp", input, err)
		}
	}
}

func TestParseInvalidTags(t *testing.T) {
	t.Parallel()

	input := "---\ncreated_at: 2026-01-01T00:00:00Z\nupdated_at: 2026-01-01T00:00:00Z\nsource: user\ntags: [a, \"\"]\n---\n"

	_, err := Parse([]byte(input))
	if !errors.Is(err, ErrInvalidTags) {
		t.Errorf("Parse = %v, want ErrInvalidTags", err)
	}
}

func TestParseMissingSource(t *testing.T) {
	t.Parallel()

	input := "---\ncreated_at: 2026-01-01T00:00:00Z\nupdated_at: 2026-01-01T00:00:00Z\n---\nbody\n"

	_, err := Parse([]byte(input))
	if !errors.Is(err, ErrInvalidSource) {
		t.Errorf("Parse = %v, want ErrInvalidSource", err)
	}
}

func TestSerializeOmitsEmptyOptionals(t *testing.T) {
	t.Parallel()

	record := Memory{
		Metadata: Metadata{
			CreatedAt: ts("2026-01-01T00:00:00Z"),
			UpdatedAt: ts("2026-01-01T00:00:00Z"),
			Source:    "user",
		},
		Content: "body\n",
	}

	serialized, err := Serialize(&record)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	text := string(serialized)

	if strings.Contains(text, "expires_at") {
		t.Error("expires_at should be omitted when unset")
	}

	if strings.Contains(text, "citations") {
		t.Error("citations should be omitted when empty")
	}

	// Tags are always present, even as the empty list.
	if !strings.Contains(text, "tags: []") {
		t.Errorf("tags should serialize as an empty flow list:\n%s", text)
	}
}

func TestBodyPreservedVerbatim(t *testing.T) {
	t.Parallel()

	body := "# Heading\n\n---\n\ntext after a horizontal rule\n\n```yaml\nkey: value\n```\n"

	record := Memory{
		Metadata: Metadata{
			CreatedAt: ts("2026-01-01T00:00:00Z"),
			UpdatedAt: ts("2026-01-01T00:00:00Z"),
			Source:    "user",
		},
		Content: body,
	}

	serialized, err := Serialize(&record)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	parsed, err := Parse(serialized)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Content != body {
		t.Errorf("body mismatch:\ngot  %q\nwant %q", parsed.Content, body)
	}
}

func TestDedupeTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input []string
		want  []string
	}{
		{nil, nil},
		{[]string{"a", "a", "b"}, []string{"a", "b"}},
		{[]string{"b", "a", "b", "a"}, []string{"b", "a"}},
		{[]string{"", "a", ""}, []string{"a"}},
	}

	for _, testCase := range tests {
		got := DedupeTags(testCase.input)
		if diff := cmp.Diff(testCase.want, got); diff != "" {
			t.Errorf("DedupeTags(%v) mismatch (-want +got):\n%s", testCase.input, diff)
		}
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := ts("2030-01-01T00:00:00Z")
	past := ts("2001-01-01T00:00:00Z")
	future := ts("2040-01-01T00:00:00Z")

	tests := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{"no expiry", nil, false},
		{"past expiry", &past, true},
		{"future expiry", &future, false},
		{"exactly now", &now, true},
	}

	for _, testCase := range tests {
		record := Memory{Metadata: Metadata{ExpiresAt: testCase.expires}}
		if got := record.Expired(now); got != testCase.want {
			t.Errorf("%s: Expired = %v, want %v", testCase.name, got, testCase.want)
		}
	}
}

func TestTokenEstimate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}

	for _, testCase := range tests {
		if got := TokenEstimate(testCase.content); got != testCase.want {
			t.Errorf("TokenEstimate(%d bytes) = %d, want %d", len(testCase.content), got, testCase.want)
		}
	}
}

// Package memory defines the Cortex data model: slugs, hierarchical paths,
// memory records, and the frontmatter codec for the on-disk format.
//
// Everything in this package is pure; no function touches the filesystem.
package memory

import (
	"fmt"
	"strings"
)

// Slug is a validated lowercase identifier segment.
// The canonical form matches ^[a-z0-9]+(?:-[a-z0-9]+)*$.
type Slug struct {
	value string
}

// ParseSlug validates s as an already-canonical slug.
// It does not normalize; use NormalizeSlug for lossy canonicalization.
func ParseSlug(s string) (Slug, error) {
	if s == "" {
		return Slug{}, fmt.Errorf("%w: empty slug", ErrInvalidSlug)
	}

	if !isCanonicalSlug(s) {
		return Slug{}, fmt.Errorf("%w: %q (use lowercase letters, digits, and single dashes)", ErrInvalidSlug, s)
	}

	return Slug{value: s}, nil
}

// NormalizeSlug canonicalizes arbitrary input into a slug: lowercase,
// whitespace and underscores collapse to dashes, dash runs collapse,
// leading/trailing dashes are stripped, and anything outside [a-z0-9-]
// is dropped. Input that normalizes to nothing is an error.
func NormalizeSlug(s string) (Slug, error) {
	var builder strings.Builder

	builder.Grow(len(s))

	prevDash := true // suppress leading dash

	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(r + ('a' - 'A'))

			prevDash = false
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			builder.WriteRune(r)

			prevDash = false
		case r == '-' || r == '_' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !prevDash {
				builder.WriteRune('-')

				prevDash = true
			}
		default:
			// Dropped: punctuation, unicode, control characters.
		}
	}

	normalized := strings.TrimSuffix(builder.String(), "-")
	if normalized == "" {
		return Slug{}, fmt.Errorf("%w: %q normalizes to nothing", ErrEmptyAfterNormalization, s)
	}

	return Slug{value: normalized}, nil
}

// String returns the canonical slug text.
func (s Slug) String() string { return s.value }

// IsZero reports whether the slug is the zero value.
func (s Slug) IsZero() bool { return s.value == "" }

func isCanonicalSlug(s string) bool {
	prevDash := true // leading dash is invalid

	for i := range len(s) {
		c := s[i]

		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			prevDash = false
		case c == '-':
			if prevDash {
				return false
			}

			prevDash = true
		default:
			return false
		}
	}

	return !prevDash // trailing dash is invalid
}

// PathSeparator joins slug segments in canonical paths.
const PathSeparator = "/"

// CategoryPath is an ordered sequence of slugs naming a category.
// The zero value is the root category.
type CategoryPath struct {
	segments []string
}

// RootCategory returns the root category path.
func RootCategory() CategoryPath { return CategoryPath{} }

// ParseCategoryPath parses "a/b/c" into a category path.
// The empty string denotes the root. Each segment must be a canonical slug;
// leading, trailing, or doubled separators are rejected, as are dot segments.
func ParseCategoryPath(s string) (CategoryPath, error) {
	if s == "" {
		return RootCategory(), nil
	}

	segments, err := splitPathSegments(s)
	if err != nil {
		return CategoryPath{}, err
	}

	return CategoryPath{segments: segments}, nil
}

// MustCategoryPath parses s and panics on error. For tests and constants.
func MustCategoryPath(s string) CategoryPath {
	p, err := ParseCategoryPath(s)
	if err != nil {
		panic(err)
	}

	return p
}

// IsRoot reports whether the path is the root category.
func (p CategoryPath) IsRoot() bool { return len(p.segments) == 0 }

// Depth returns the number of segments.
func (p CategoryPath) Depth() int { return len(p.segments) }

// Segments returns a copy of the path segments.
func (p CategoryPath) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)

	return out
}

// String returns the canonical slash-joined form. Root is the empty string.
func (p CategoryPath) String() string { return strings.Join(p.segments, PathSeparator) }

// Parent returns the parent category. The root's parent is the root.
func (p CategoryPath) Parent() CategoryPath {
	if len(p.segments) == 0 {
		return RootCategory()
	}

	return CategoryPath{segments: p.segments[:len(p.segments)-1]}
}

// Leaf returns the last segment, or "" for the root.
func (p CategoryPath) Leaf() string {
	if len(p.segments) == 0 {
		return ""
	}

	return p.segments[len(p.segments)-1]
}

// Join appends a slug segment.
func (p CategoryPath) Join(s Slug) CategoryPath {
	segments := make([]string, 0, len(p.segments)+1)
	segments = append(segments, p.segments...)
	segments = append(segments, s.String())

	return CategoryPath{segments: segments}
}

// JoinPath appends all segments of other.
func (p CategoryPath) JoinPath(other CategoryPath) CategoryPath {
	segments := make([]string, 0, len(p.segments)+len(other.segments))
	segments = append(segments, p.segments...)
	segments = append(segments, other.segments...)

	return CategoryPath{segments: segments}
}

// StartsWith reports whether p equals prefix or is nested under it.
func (p CategoryPath) StartsWith(prefix CategoryPath) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}

	for i, seg := range prefix.segments {
		if p.segments[i] != seg {
			return false
		}
	}

	return true
}

// Equal reports whether both paths name the same category.
func (p CategoryPath) Equal(other CategoryPath) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}

	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}

	return true
}

// Ancestors returns every proper ancestor from the root down, excluding the
// root itself and p. For "a/b/c" it returns ["a", "a/b"].
func (p CategoryPath) Ancestors() []CategoryPath {
	if len(p.segments) <= 1 {
		return nil
	}

	out := make([]CategoryPath, 0, len(p.segments)-1)
	for i := 1; i < len(p.segments); i++ {
		out = append(out, CategoryPath{segments: p.segments[:i]})
	}

	return out
}

// Memory returns the memory path formed by appending leaf to p.
func (p CategoryPath) Memory(leaf Slug) MemoryPath {
	return MemoryPath{category: p, leaf: leaf.String()}
}

// MemoryPath addresses a single memory: a category path plus a leaf slug.
// A memory path is never the root.
type MemoryPath struct {
	category CategoryPath
	leaf     string
}

// ParseMemoryPath parses "a/b/leaf" into a memory path.
func ParseMemoryPath(s string) (MemoryPath, error) {
	if s == "" {
		return MemoryPath{}, fmt.Errorf("%w: empty memory path", ErrInvalidPath)
	}

	segments, err := splitPathSegments(s)
	if err != nil {
		return MemoryPath{}, err
	}

	return MemoryPath{
		category: CategoryPath{segments: segments[:len(segments)-1]},
		leaf:     segments[len(segments)-1],
	}, nil
}

// MustMemoryPath parses s and panics on error. For tests and constants.
func MustMemoryPath(s string) MemoryPath {
	p, err := ParseMemoryPath(s)
	if err != nil {
		panic(err)
	}

	return p
}

// Split returns the containing category and the leaf slug.
func (p MemoryPath) Split() (CategoryPath, Slug) {
	return p.category, Slug{value: p.leaf}
}

// Category returns the containing category path.
func (p MemoryPath) Category() CategoryPath { return p.category }

// Leaf returns the leaf slug.
func (p MemoryPath) Leaf() Slug { return Slug{value: p.leaf} }

// String returns the canonical slash-joined form.
func (p MemoryPath) String() string {
	if p.category.IsRoot() {
		return p.leaf
	}

	return p.category.String() + PathSeparator + p.leaf
}

// IsZero reports whether the path is the zero value.
func (p MemoryPath) IsZero() bool { return p.leaf == "" }

// Equal reports whether both paths address the same memory.
func (p MemoryPath) Equal(other MemoryPath) bool {
	return p.leaf == other.leaf && p.category.Equal(other.category)
}

// InCategory reports whether the memory lives in category or a descendant.
func (p MemoryPath) InCategory(category CategoryPath) bool {
	return p.category.StartsWith(category)
}

// splitPathSegments validates and splits a canonical slash-joined path.
// Rejects anything that could escape the store root or alias a path:
// separators at either end, empty segments, dot segments, backslashes,
// and non-canonical slug characters (including drive letters via ':').
func splitPathSegments(s string) ([]string, error) {
	if strings.HasPrefix(s, PathSeparator) {
		return nil, fmt.Errorf("%w: %q has a leading separator", ErrInvalidPath, s)
	}

	if strings.HasSuffix(s, PathSeparator) {
		return nil, fmt.Errorf("%w: %q has a trailing separator", ErrInvalidPath, s)
	}

	if strings.ContainsRune(s, '\\') {
		return nil, fmt.Errorf("%w: %q contains a backslash (use %q)", ErrInvalidPath, s, PathSeparator)
	}

	parts := strings.Split(s, PathSeparator)
	segments := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: %q contains an empty segment", ErrInvalidPath, s)
		}

		if part == "." || part == ".." {
			return nil, fmt.Errorf("%w: %q contains a dot segment", ErrInvalidPath, s)
		}

		if !isCanonicalSlug(part) {
			return nil, fmt.Errorf("%w: segment %q in %q (use lowercase letters, digits, and single dashes)", ErrInvalidSlug, part, s)
		}

		segments = append(segments, part)
	}

	return segments, nil
}

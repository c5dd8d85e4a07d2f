package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontmatter keys as written on disk.
const (
	keyCreatedAt = "created_at"
	keyUpdatedAt = "updated_at"
	keyTags      = "tags"
	keySource    = "source"
	keyExpiresAt = "expires_at"
	keyCitations = "citations"
)

const frontmatterDelimiter = "---"

// timestampFormat is ISO-8601 UTC with second precision, matching RFC 3339.
const timestampFormat = time.RFC3339

// ParseOptions configures frontmatter parsing.
type ParseOptions struct {
	// Strict drops unknown keys instead of preserving them in Metadata.Extra.
	Strict bool
}

// ParseOption mutates ParseOptions.
type ParseOption func(*ParseOptions)

// WithStrictKeys discards unknown frontmatter keys instead of carrying them
// through the round-trip.
func WithStrictKeys(strict bool) ParseOption {
	return func(opts *ParseOptions) {
		opts.Strict = strict
	}
}

// Parse decodes a full on-disk memory file (frontmatter plus body).
//
// A missing opening or closing delimiter is a hard error. Duplicate keys
// follow last-value-wins. Unknown keys are preserved in Metadata.Extra
// unless strict mode is set.
func Parse(raw []byte, opts ...ParseOption) (Memory, error) {
	options := ParseOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	block, body, err := splitFrontmatter(raw)
	if err != nil {
		return Memory{}, err
	}

	fields, err := decodeMappingLastWins(block)
	if err != nil {
		return Memory{}, fmt.Errorf("parse frontmatter: %w", err)
	}

	var meta Metadata

	for _, field := range fields {
		switch field.key {
		case keyCreatedAt:
			meta.CreatedAt, err = decodeTimestamp(field.key, field.node)
		case keyUpdatedAt:
			meta.UpdatedAt, err = decodeTimestamp(field.key, field.node)
		case keyExpiresAt:
			var ts time.Time

			ts, err = decodeTimestamp(field.key, field.node)
			if err == nil {
				meta.ExpiresAt = &ts
			}
		case keyTags:
			meta.Tags, err = decodeStringList(field.key, field.node)
			if err == nil {
				for _, tag := range meta.Tags {
					if tag == "" {
						err = fmt.Errorf("%w: empty tag", ErrInvalidTags)

						break
					}
				}

				if len(meta.Tags) == 0 {
					meta.Tags = nil
				}
			}
		case keySource:
			err = field.node.Decode(&meta.Source)
			if err == nil && meta.Source == "" {
				err = ErrInvalidSource
			}
		case keyCitations:
			meta.Citations, err = decodeStringList(field.key, field.node)
			if err == nil {
				for _, citation := range meta.Citations {
					if citation == "" {
						err = fmt.Errorf("%w: empty citation", ErrInvalidCitations)

						break
					}
				}

				if len(meta.Citations) == 0 {
					meta.Citations = nil
				}
			}
		default:
			if options.Strict {
				continue
			}

			var value any

			err = field.node.Decode(&value)
			if err == nil {
				if meta.Extra == nil {
					meta.Extra = make(map[string]any)
				}

				meta.Extra[field.key] = value
			}
		}

		if err != nil {
			return Memory{}, fmt.Errorf("parse frontmatter: %w", err)
		}
	}

	if meta.CreatedAt.IsZero() {
		return Memory{}, fmt.Errorf("parse frontmatter: %w: missing %s", ErrInvalidTimestamp, keyCreatedAt)
	}

	if meta.UpdatedAt.IsZero() {
		return Memory{}, fmt.Errorf("parse frontmatter: %w: missing %s", ErrInvalidTimestamp, keyUpdatedAt)
	}

	if meta.Source == "" {
		return Memory{}, fmt.Errorf("parse frontmatter: %w", ErrInvalidSource)
	}

	return Memory{Metadata: meta, Content: string(body)}, nil
}

// Serialize renders a memory in the canonical on-disk form. Key order is
// fixed; unknown preserved keys follow the known ones sorted by name.
func Serialize(m *Memory) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("serialize memory: %w", err)
	}

	var builder strings.Builder

	builder.WriteString(frontmatterDelimiter)
	builder.WriteString("\n")
	builder.WriteString(keyCreatedAt + ": " + m.Metadata.CreatedAt.UTC().Format(timestampFormat) + "\n")
	builder.WriteString(keyUpdatedAt + ": " + m.Metadata.UpdatedAt.UTC().Format(timestampFormat) + "\n")
	builder.WriteString(keyTags + ": " + formatInlineList(m.Metadata.Tags) + "\n")
	builder.WriteString(keySource + ": " + scalarYAML(m.Metadata.Source) + "\n")

	if m.Metadata.ExpiresAt != nil {
		builder.WriteString(keyExpiresAt + ": " + m.Metadata.ExpiresAt.UTC().Format(timestampFormat) + "\n")
	}

	if len(m.Metadata.Citations) > 0 {
		builder.WriteString(keyCitations + ":\n")

		for _, citation := range m.Metadata.Citations {
			builder.WriteString("  - " + scalarYAML(citation) + "\n")
		}
	}

	if len(m.Metadata.Extra) > 0 {
		keys := make([]string, 0, len(m.Metadata.Extra))
		for key := range m.Metadata.Extra {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			encoded, err := yaml.Marshal(map[string]any{key: m.Metadata.Extra[key]})
			if err != nil {
				return nil, fmt.Errorf("serialize memory: key %s: %w", key, err)
			}

			builder.Write(encoded)
		}
	}

	builder.WriteString(frontmatterDelimiter)
	builder.WriteString("\n")
	builder.WriteString(m.Content)

	return []byte(builder.String()), nil
}

// splitFrontmatter cuts raw into the YAML block and the body. Both delimiters
// are required.
func splitFrontmatter(raw []byte) (block, body []byte, err error) {
	text := string(raw)

	first, rest, found := strings.Cut(text, "\n")
	if !found || strings.TrimRight(first, "\r") != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("%w: no opening delimiter", ErrMissingFrontmatter)
	}

	idx := findClosingDelimiter(rest)
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: no closing delimiter", ErrMissingFrontmatter)
	}

	blockText := rest[:idx]

	after := rest[idx:]
	if _, tail, ok := strings.Cut(after, "\n"); ok {
		after = tail
	} else {
		after = ""
	}

	return []byte(blockText), []byte(after), nil
}

// findClosingDelimiter returns the byte offset of the line holding the
// closing delimiter, or -1.
func findClosingDelimiter(text string) int {
	offset := 0

	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')

		var line string
		if lineEnd < 0 {
			line = text[offset:]
		} else {
			line = text[offset : offset+lineEnd]
		}

		if strings.TrimRight(line, "\r") == frontmatterDelimiter {
			return offset
		}

		if lineEnd < 0 {
			break
		}

		offset += lineEnd + 1
	}

	return -1
}

type mappingField struct {
	key  string
	node *yaml.Node
}

// decodeMappingLastWins parses the frontmatter block as a YAML mapping,
// folding duplicate keys left to right so the last value wins. yaml.v3
// rejects duplicates when decoding into a map, so we walk the node tree.
func decodeMappingLastWins(block []byte) ([]mappingField, error) {
	var doc yaml.Node

	err := yaml.Unmarshal(block, &doc)
	if err != nil {
		return nil, err
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter must be a mapping, got %s", yamlKindName(root.Kind))
	}

	byKey := make(map[string]int)

	var fields []mappingField

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode := root.Content[i]
		valueNode := root.Content[i+1]

		var key string

		err = keyNode.Decode(&key)
		if err != nil {
			return nil, fmt.Errorf("frontmatter key at line %d: %w", keyNode.Line, err)
		}

		if prev, ok := byKey[key]; ok {
			fields[prev].node = valueNode // last value wins

			continue
		}

		byKey[key] = len(fields)
		fields = append(fields, mappingField{key: key, node: valueNode})
	}

	return fields, nil
}

func decodeTimestamp(key string, node *yaml.Node) (time.Time, error) {
	var text string

	err := node.Decode(&text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s at line %d", ErrInvalidTimestamp, key, node.Line)
	}

	ts, err := time.Parse(timestampFormat, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not ISO-8601", ErrInvalidTimestamp, key, text)
	}

	return ts.UTC(), nil
}

func decodeStringList(key string, node *yaml.Node) ([]string, error) {
	var list []string

	err := node.Decode(&list)
	if err != nil {
		return nil, fmt.Errorf("%s must be a list of strings (line %d)", key, node.Line)
	}

	return list, nil
}

// formatInlineList renders tags as a YAML flow sequence, matching the
// on-disk format even for the empty list.
func formatInlineList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}

	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = scalarYAML(item)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

// scalarYAML renders a string scalar, quoting only when YAML requires it.
func scalarYAML(s string) string {
	if s == "" {
		return `""`
	}

	if strings.ContainsAny(s, ":#{}[],&*!|>'\"%@`\n\r\t") ||
		strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") ||
		strings.HasPrefix(s, "- ") {
		encoded, err := yaml.Marshal(s)
		if err != nil {
			return s
		}

		return strings.TrimRight(string(encoded), "\n")
	}

	return s
}

func yamlKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

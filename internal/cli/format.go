package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// Output formats.
const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// render serializes a typed result in the selected format. Lossless for
// every field present in the value.
func render(o *IO, format string, value any) error {
	switch format {
	case formatYAML:
		encoded, marshalErr := yaml.Marshal(value)
		if marshalErr != nil {
			return fmt.Errorf("encoding output: %w", marshalErr)
		}

		o.Printf("%s", encoded)
	case formatJSON:
		encoded, marshalErr := json.MarshalIndent(value, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("encoding output: %w", marshalErr)
		}

		o.Println(string(encoded))
	default:
		return &cortex.Error{
			Code:    cortex.CodeInvalidInput,
			Message: fmt.Sprintf("unknown output format %q (expected yaml or json)", format),
			Field:   "format",
		}
	}

	return nil
}

// memoryView is the render shape of a full memory.
type memoryView struct {
	Path      string   `yaml:"path" json:"path"`
	CreatedAt string   `yaml:"created_at" json:"created_at"`
	UpdatedAt string   `yaml:"updated_at" json:"updated_at"`
	Tags      []string `yaml:"tags" json:"tags"`
	Source    string   `yaml:"source" json:"source"`
	ExpiresAt string   `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	Citations []string `yaml:"citations,omitempty" json:"citations,omitempty"`
	Content   string   `yaml:"content" json:"content"`
}

func viewOfMemory(path memory.MemoryPath, m *memory.Memory) memoryView {
	tags := m.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}

	view := memoryView{
		Path:      path.String(),
		CreatedAt: m.Metadata.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: m.Metadata.UpdatedAt.UTC().Format(time.RFC3339),
		Tags:      tags,
		Source:    m.Metadata.Source,
		Citations: m.Metadata.Citations,
		Content:   m.Content,
	}

	if m.Metadata.ExpiresAt != nil {
		view.ExpiresAt = m.Metadata.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return view
}

// entryView is the render shape of an index entry.
type entryView struct {
	Path          string   `yaml:"path" json:"path"`
	TokenEstimate int      `yaml:"token_estimate" json:"token_estimate"`
	Source        string   `yaml:"source,omitempty" json:"source,omitempty"`
	Summary       string   `yaml:"summary,omitempty" json:"summary,omitempty"`
	Tags          []string `yaml:"tags" json:"tags"`
	UpdatedAt     string   `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	ExpiresAt     string   `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

func viewOfEntry(entry store.IndexEntry) entryView {
	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}

	view := entryView{
		Path:          entry.Path.String(),
		TokenEstimate: entry.TokenEstimate,
		Source:        entry.Source,
		Summary:       entry.Summary,
		Tags:          tags,
	}

	if !entry.UpdatedAt.IsZero() {
		view.UpdatedAt = entry.UpdatedAt.UTC().Format(time.RFC3339)
	}

	if entry.ExpiresAt != nil {
		view.ExpiresAt = entry.ExpiresAt.UTC().Format(time.RFC3339)
	}

	return view
}

func viewOfEntries(entries []store.IndexEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, viewOfEntry(entry))
	}

	return out
}

// subcategoryView is the render shape of a subcategory entry.
type subcategoryView struct {
	Path        string `yaml:"path" json:"path"`
	MemoryCount int    `yaml:"memory_count" json:"memory_count"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

func viewOfSubcategories(subs []store.SubcategoryEntry) []subcategoryView {
	out := make([]subcategoryView, 0, len(subs))

	for _, sub := range subs {
		out = append(out, subcategoryView{
			Path:        sub.Path.String(),
			MemoryCount: sub.MemoryCount,
			Description: sub.Description,
		})
	}

	return out
}

// listView is the render shape of a category listing.
type listView struct {
	Memories      []entryView       `yaml:"memories" json:"memories"`
	Subcategories []subcategoryView `yaml:"subcategories" json:"subcategories"`
}

// Package checklist defines the checklist document model and its JSON
// serialization. Documents are stored byte-for-byte on both sides of a
// sync, so this package only decodes to validate and summarize; it never
// rewrites a document it did not create.
package checklist

import (
	"fmt"

	"github.com/goccy/go-json"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
)

// ItemType identifies how a checklist item is rendered.
type ItemType string

const (
	ItemChallengeResponse ItemType = "challenge_response"
	ItemChallenge         ItemType = "challenge"
	ItemTitle             ItemType = "title"
	ItemWarning           ItemType = "warning"
	ItemCaution           ItemType = "caution"
	ItemNote              ItemType = "note"
	ItemSpace             ItemType = "space"
)

func (t ItemType) valid() bool {
	switch t {
	case ItemChallengeResponse, ItemChallenge, ItemTitle, ItemWarning, ItemCaution, ItemNote, ItemSpace:
		return true
	}

	return false
}

// Item is a single line of a checklist.
type Item struct {
	Type        ItemType `json:"type"`
	Prompt      string   `json:"prompt,omitempty"`
	Expectation string   `json:"expectation,omitempty"`
	Indent      int      `json:"indent,omitempty"`
	Centered    bool     `json:"centered,omitempty"`
}

// Checklist is an ordered list of items under a title.
type Checklist struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Group collects related checklists, e.g. "Normal" or "Emergency".
type Group struct {
	Title      string      `json:"title"`
	Category   string      `json:"category,omitempty"`
	Checklists []Checklist `json:"checklists"`
}

// Metadata is free-form descriptive information about a file.
type Metadata struct {
	Aircraft    string `json:"aircraft,omitempty"`
	Description string `json:"description,omitempty"`
	Revision    string `json:"revision,omitempty"`
}

// File is a complete checklist document. Name is the document's own idea
// of its name and normally matches the name it is stored under.
type File struct {
	Name     string    `json:"name"`
	Groups   []Group   `json:"groups"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Summary holds item counts for listing documents without their content.
type Summary struct {
	Name       string `json:"name"`
	Groups     int    `json:"groups"`
	Checklists int    `json:"checklists"`
	Items      int    `json:"items"`
}

// Unmarshal decodes and validates a serialized checklist file.
func Unmarshal(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidDocument, err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Marshal serializes a checklist file with stable indentation.
func Marshal(f *File) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling checklist %q: %w", f.Name, err)
	}

	return data, nil
}

// Validate checks the structural rules a document must satisfy.
func (f *File) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: missing name", apperrors.ErrInvalidDocument)
	}

	for gi, g := range f.Groups {
		for ci, c := range g.Checklists {
			for ii, it := range c.Items {
				if !it.Type.valid() {
					return fmt.Errorf("%w: group %d checklist %d item %d has unknown type %q",
						apperrors.ErrInvalidDocument, gi, ci, ii, it.Type)
				}

				if it.Indent < 0 {
					return fmt.Errorf("%w: group %d checklist %d item %d has negative indent",
						apperrors.ErrInvalidDocument, gi, ci, ii)
				}
			}
		}
	}

	return nil
}

// Summarize counts the groups, checklists and items in f.
func (f *File) Summarize() Summary {
	s := Summary{Name: f.Name, Groups: len(f.Groups)}
	for _, g := range f.Groups {
		s.Checklists += len(g.Checklists)
		for _, c := range g.Checklists {
			s.Items += len(c.Items)
		}
	}

	return s
}

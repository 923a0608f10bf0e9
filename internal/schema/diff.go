package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ChangeKind classifies a Change.
type ChangeKind string

const (
	FieldAdded   ChangeKind = "field_added"
	FieldRemoved ChangeKind = "field_removed"
	TypeChanged  ChangeKind = "type_changed"
)

// Change is one field-level difference between two snapshots. OldType is
// empty for added fields and NewType is empty for removed ones.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Path    string     `json:"path"`
	OldType string     `json:"old_type,omitempty"`
	NewType string     `json:"new_type,omitempty"`
}

func (c Change) String() string {
	switch c.Kind {
	case FieldAdded:
		return fmt.Sprintf("Added field '%s' with type %s", c.Path, c.NewType)
	case FieldRemoved:
		return fmt.Sprintf("Removed field '%s' (was type %s)", c.Path, c.OldType)
	case TypeChanged:
		return fmt.Sprintf("Changed field '%s' type from %s to %s", c.Path, c.OldType, c.NewType)
	default:
		return fmt.Sprintf("%s: %s", c.Kind, c.Path)
	}
}

// Diff is the immutable result of Compare. Each list is sorted by path.
type Diff struct {
	added    []Change
	removed  []Change
	modified []Change
}

// Compare reports how current differs from previous.
func Compare(current, previous Snapshot) Diff {
	var d Diff

	for _, path := range current.Paths() {
		newType := current.fields[path]
		oldType, existed := previous.fields[path]
		switch {
		case !existed:
			d.added = append(d.added, Change{Kind: FieldAdded, Path: path, NewType: newType})
		case oldType != newType:
			d.modified = append(d.modified, Change{Kind: TypeChanged, Path: path, OldType: oldType, NewType: newType})
		}
	}

	for _, path := range previous.Paths() {
		if _, kept := current.fields[path]; !kept {
			d.removed = append(d.removed, Change{Kind: FieldRemoved, Path: path, OldType: previous.fields[path]})
		}
	}

	return d
}

func (d Diff) Added() []Change { return slices.Clone(d.added) }

func (d Diff) Removed() []Change { return slices.Clone(d.removed) }

func (d Diff) Modified() []Change { return slices.Clone(d.modified) }

func (d Diff) HasChanges() bool {
	return len(d.added)+len(d.removed)+len(d.modified) > 0
}

// All returns added, then removed, then modified changes.
func (d Diff) All() []Change {
	return slices.Concat(d.added, d.removed, d.modified)
}

// String summarises the diff, e.g. "1 field(s) added, 2 field(s) modified".
func (d Diff) String() string {
	if !d.HasChanges() {
		return "No schema changes detected"
	}

	var parts []string
	if n := len(d.added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d field(s) added", n))
	}
	if n := len(d.removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d field(s) removed", n))
	}
	if n := len(d.modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d field(s) modified", n))
	}
	return strings.Join(parts, ", ")
}

type diffJSON struct {
	Added    []Change `json:"added"`
	Removed  []Change `json:"removed"`
	Modified []Change `json:"modified"`
	Summary  string   `json:"summary"`
}

func (d Diff) MarshalJSON() ([]byte, error) {
	return json.Marshal(diffJSON{
		Added:    nonNil(d.added),
		Removed:  nonNil(d.removed),
		Modified: nonNil(d.modified),
		Summary:  d.String(),
	})
}

func nonNil(changes []Change) []Change {
	if changes == nil {
		return []Change{}
	}
	return changes
}

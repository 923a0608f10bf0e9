package schema

import (
	"encoding/json"
	"maps"
	"slices"
)

// Snapshot maps field paths to type tags. It is immutable; the zero
// Snapshot is empty.
type Snapshot struct {
	fields map[string]string
}

// NewSnapshot copies fields into a Snapshot.
func NewSnapshot(fields map[string]string) Snapshot {
	return Snapshot{fields: maps.Clone(fields)}
}

// Extract flattens v into a Snapshot.
//
// Object keys join with "." and a sampled list element extends its list's
// path with "[]". A list contributes its own "list" tag plus, when its first
// element is an object, that element's fields. A root list is sampled the
// same way under the "[]" prefix. Null and scalar roots produce an empty
// Snapshot; callers with a bare scalar must wrap it in an object first.
//
// The root list handling is intentional: it neither returns an empty
// Snapshot for a non-object root nor records a "" path tagged "list".
func Extract(v Value) Snapshot {
	fields := make(map[string]string)

	switch v.Kind() {
	case KindObject:
		extractObject(v, "", fields)
	case KindList:
		sampleList(v, "[]", fields)
	}

	return Snapshot{fields: fields}
}

func extractObject(obj Value, base string, fields map[string]string) {
	for _, m := range obj.Members() {
		path := m.Key
		if base != "" {
			path = base + "." + m.Key
		}

		fields[path] = m.Value.Tag()

		switch m.Value.Kind() {
		case KindObject:
			extractObject(m.Value, path, fields)
		case KindList:
			sampleList(m.Value, path+"[]", fields)
		}
	}
}

func sampleList(list Value, base string, fields map[string]string) {
	items := list.Items()
	if len(items) == 0 || items[0].Kind() != KindObject {
		return
	}
	extractObject(items[0], base, fields)
}

func (s Snapshot) Len() int { return len(s.fields) }

// Paths returns every field path in lexical order.
func (s Snapshot) Paths() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Type returns the tag recorded for path.
func (s Snapshot) Type(path string) (string, bool) {
	tag, ok := s.fields[path]
	return tag, ok
}

// Map returns a copy of the path to tag mapping.
func (s Snapshot) Map() map[string]string {
	if s.fields == nil {
		return map[string]string{}
	}
	return maps.Clone(s.fields)
}

func (s Snapshot) Equal(other Snapshot) bool {
	return maps.Equal(s.fields, other.fields)
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	s.fields = fields
	return nil
}

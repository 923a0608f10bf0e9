package schema

import "strconv"

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindObject
	KindOpaque
)

// Type tags recorded in a Snapshot.
const (
	TagNull   = "null"
	TagBool   = "bool"
	TagInt    = "int"
	TagFloat  = "float"
	TagString = "str"
	TagList   = "list"
	TagObject = "dict"
)

// Member is one key of an object Value.
type Member struct {
	Key   string
	Value Value
}

// Value is a JSON-like value. The zero Value is null.
//
// Numbers keep their source literal, so integers wider than int64 are still
// tagged as ints.
type Value struct {
	kind     Kind
	boolean  bool
	number   string
	text     string
	items    []Value
	members  []Member
	typeName string
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

func Int(i int64) Value { return Value{kind: KindInt, number: strconv.FormatInt(i, 10)} }

func Float(f float64) Value {
	return Value{kind: KindFloat, number: strconv.FormatFloat(f, 'g', -1, 64)}
}

func String(s string) Value { return Value{kind: KindString, text: s} }

func List(items ...Value) Value { return Value{kind: KindList, items: items} }

func Object(members ...Member) Value { return Value{kind: KindObject, members: members} }

// Opaque wraps a value of no JSON kind. Its tag is typeName.
func Opaque(typeName string) Value { return Value{kind: KindOpaque, typeName: typeName} }

func (v Value) Kind() Kind { return v.kind }

// Tag returns the snapshot type tag for v.
func (v Value) Tag() string {
	switch v.kind {
	case KindNull:
		return TagNull
	case KindBool:
		return TagBool
	case KindInt:
		return TagInt
	case KindFloat:
		return TagFloat
	case KindString:
		return TagString
	case KindList:
		return TagList
	case KindObject:
		return TagObject
	default:
		return v.typeName
	}
}

// Items returns the elements of a list, or nil for any other kind.
// The slice is shared with v and must not be modified.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// Members returns the keys of an object in decode order, or nil for any
// other kind. The slice is shared with v and must not be modified.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Field returns the value stored under key in an object.
func (v Value) Field(key string) (Value, bool) {
	for _, m := range v.Members() {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Number returns the numeric literal of an int or float Value.
func (v Value) Number() string { return v.number }

func (v Value) Text() string { return v.text }

func (v Value) Boolean() bool { return v.boolean }

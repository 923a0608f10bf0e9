// Package schema derives structural signatures from JSON payloads and
// diffs them.
//
// A payload is first turned into a Value, a tagged union over the JSON
// kinds, either with Decode (which keeps the integer/real distinction of
// numeric literals) or FromAny for values already decoded in Go. Extract
// flattens a Value into a Snapshot that maps field paths to type tags:
//
//	{"id":1,"types":[{"type":{"name":"grass"}}]}
//
// becomes
//
//	id               int
//	types            list
//	types[].type     dict
//	types[].type.name str
//
// Lists are sampled through their first element only, and only when that
// element is an object. Heterogeneous lists therefore report the shape of
// their first item. Compare reports the fields added, removed and retyped
// between two snapshots, each sorted by path.
package schema

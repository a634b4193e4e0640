// Package fieldpath addresses nested fields within a row and matches data
// category prefixes. Both are plain dotted-segment structures: a FieldPath
// descends into nested documents, a DataCategory tags a field with a
// hierarchical classification.
package fieldpath

import "strings"

// Path is an ordered sequence of field names descending into a nested
// document. Equality is structural (segment-by-segment), not by string
// value, so callers never compare raw joined strings.
type Path []string

// New builds a Path from individual segments.
func New(segments ...string) Path {
	p := make(Path, len(segments))
	copy(p, segments)
	return p
}

// Parse splits a dotted string into a Path. Empty segments are dropped.
func Parse(dotted string) Path {
	if dotted == "" {
		return nil
	}
	parts := strings.Split(dotted, ".")
	out := make(Path, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders the path as a dotted string.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Equal reports whether two paths have the same segments in the same order.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Head returns the first segment and whether the path was non-empty.
func (p Path) Head() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

// Tail returns the path without its first segment.
func (p Path) Tail() Path {
	if len(p) <= 1 {
		return nil
	}
	return p[1:]
}

// Child appends a segment, returning a new Path.
func (p Path) Child(segment string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = segment
	return out
}

// Category is a dotted hierarchical tag on a field, e.g.
// "user.provided.identifiable.contact.email".
type Category string

// Segments splits a Category into its dotted components.
func (c Category) Segments() []string {
	if c == "" {
		return nil
	}
	return strings.Split(string(c), ".")
}

// IsPrefixOf reports whether c is a dotted-segment prefix of other — every
// segment of c matches the corresponding segment of other in order. This is
// segment-aware: "user.provided" is a prefix of "user.provided.identifiable"
// but "user.prov" is not a prefix of "user.provided" even though it is a
// string prefix.
func (c Category) IsPrefixOf(other Category) bool {
	cs := c.Segments()
	os := other.Segments()
	if len(cs) > len(os) {
		return false
	}
	for i, seg := range cs {
		if os[i] != seg {
			return false
		}
	}
	return true
}

// AnyIsPrefixOf reports whether any category in requested is a
// dotted-segment prefix of target.
func AnyIsPrefixOf(requested []Category, target Category) bool {
	for _, r := range requested {
		if r.IsPrefixOf(target) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether any of a field's declared categories is
// matched (as a prefix relationship) by any requested category.
func MatchesAny(requested []Category, declared []Category) bool {
	for _, d := range declared {
		if AnyIsPrefixOf(requested, d) {
			return true
		}
	}
	return false
}

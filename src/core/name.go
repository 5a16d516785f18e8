package core

import "strings"

// PairSeparator joins adjacent Names into a pair chain, used to express key/value lists
// in a single buildfile token (e.g. `cxx.std=17`).
const PairSeparator = '='

// A Name is the parsed form of a buildfile reference such as `proj%dir/type{value}`:
// an optional project qualifier, a directory, a target-type name, and a value. Names
// may chain via Pair to express key/value lists; a chained Name's Pair points at the
// next link, or is nil for the last one.
type Name struct {
	Project   string // optional; empty means "this project"
	Directory string
	Type      string // target-type name, e.g. "exe", "obj"; empty means "unspecified"
	Value     string
	Pair      *Name
}

// ParseName parses a single `proj%dir/type{value}` token. It does not handle pair
// chains; callers that need to split `a=b` pairs do so before calling ParseName on
// each side.
func ParseName(s string) Name {
	var n Name
	if i := strings.IndexByte(s, '%'); i >= 0 {
		n.Project = s[:i]
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '{'); i >= 0 && strings.HasSuffix(s, "}") {
		typeDir := s[:i]
		n.Value = s[i+1 : len(s)-1]
		if j := strings.LastIndexByte(typeDir, '/'); j >= 0 {
			n.Directory = typeDir[:j]
			n.Type = typeDir[j+1:]
		} else {
			n.Type = typeDir
		}
		return n
	}
	// No braces: the whole remainder is a directory/value with no explicit type.
	if j := strings.LastIndexByte(s, '/'); j >= 0 {
		n.Directory = s[:j]
		n.Value = s[j+1:]
	} else {
		n.Value = s
	}
	return n
}

// String renders n back to its canonical textual form.
func (n Name) String() string {
	var b strings.Builder
	if n.Project != "" {
		b.WriteString(n.Project)
		b.WriteByte('%')
	}
	if n.Directory != "" {
		b.WriteString(n.Directory)
		b.WriteByte('/')
	}
	if n.Type != "" {
		b.WriteString(n.Type)
		b.WriteByte('{')
		b.WriteString(n.Value)
		b.WriteByte('}')
	} else {
		b.WriteString(n.Value)
	}
	if n.Pair != nil {
		b.WriteByte(PairSeparator)
		b.WriteString(n.Pair.String())
	}
	return b.String()
}

// Values walks the pair chain and returns every value in order.
func (n Name) Values() []string {
	vals := []string{n.Value}
	for p := n.Pair; p != nil; p = p.Pair {
		vals = append(vals, p.Value)
	}
	return vals
}

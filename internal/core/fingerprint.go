package core

import (
	"sort"
	"strings"
)

// ClassName is the fully-qualified name of a compiled class, e.g.
// "com.example.LeftPadder" or "com.example.Outer$Inner".
type ClassName string

// String returns the string representation of the ClassName.
func (c ClassName) String() string { return string(c) }

// SimpleName returns the part after the last package separator.
func (c ClassName) SimpleName() string {
	s := string(c)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Hash is the hex-encoded MD5 digest of a compiled class's bytes.
//
// Identical content on disk always yields the same Hash.
type Hash string

// String returns the string representation of the Hash.
func (h Hash) String() string { return string(h) }

// Fingerprint pairs a class with the digest of its content in one snapshot.
type Fingerprint struct {
	Class ClassName
	Hash  Hash
}

// Fingerprints maps class name to content hash for one snapshot.
//
// There is at most one entry per class name.
type Fingerprints map[ClassName]Hash

// Classes returns the class names in lexicographic order.
func (f Fingerprints) Classes() []ClassName {
	out := make([]ClassName, 0, len(f))
	for c := range f {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sorted returns the fingerprints ordered by class name.
func (f Fingerprints) Sorted() []Fingerprint {
	classes := f.Classes()
	out := make([]Fingerprint, len(classes))
	for i, c := range classes {
		out[i] = Fingerprint{Class: c, Hash: f[c]}
	}
	return out
}

// Clone returns an independent copy.
func (f Fingerprints) Clone() Fingerprints {
	out := make(Fingerprints, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// CoverageSet is the set of classes a test depends on.
type CoverageSet map[ClassName]struct{}

// NewCoverageSet builds a set from the given class names.
func NewCoverageSet(classes ...ClassName) CoverageSet {
	s := make(CoverageSet, len(classes))
	for _, c := range classes {
		if c == "" {
			continue
		}
		s[c] = struct{}{}
	}
	return s
}

// Add inserts a class name. Empty names are ignored.
func (s CoverageSet) Add(c ClassName) {
	if c == "" {
		return
	}
	s[c] = struct{}{}
}

// Has reports whether c is in the set.
func (s CoverageSet) Has(c ClassName) bool {
	_, ok := s[c]
	return ok
}

// With returns a copy of the set that also contains c.
func (s CoverageSet) With(c ClassName) CoverageSet {
	out := make(CoverageSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out.Add(c)
	return out
}

// Sorted returns the members in lexicographic order.
func (s CoverageSet) Sorted() []ClassName {
	out := make([]ClassName, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

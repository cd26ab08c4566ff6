// Package pkgpath implements PackagePath: a hierarchical, dotted,
// namespaced package identifier and its mapping onto a sharded
// filesystem path (spec.md §3/§4.1).
package pkgpath

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxLength is the total length limit on a PackagePath (spec.md §3).
const MaxLength = 2048

// namespaces is the fixed set of path elements that, when first, make a
// path absolute and fix its ownership rules.
var namespaces = map[string]int{
	// lower value sorts first, matching the deterministic display order
	// spec.md §4.1 calls for: loc, pvt before org, org before everything
	// else.
	"loc": 0,
	"pvt": 0,
	"org": 1,
	"com": 2,
}

// ErrInvalidElement is returned by Parse when an element contains a
// character outside [A-Za-z0-9._] or the total length exceeds MaxLength.
type ErrInvalidElement struct {
	Path    string
	Element string
}

func (e *ErrInvalidElement) Error() string {
	return "invalid package path element " + e.Element + " in " + e.Path
}

// Path is an ordered sequence of lowercase elements. It is stored as its
// canonical dotted string so that Path remains a comparable value
// (usable as a map key, e.g. by pkg.Package) rather than holding a slice.
type Path struct {
	s string
}

// Parse splits s on "." into elements, lower-casing each one, and
// validates the character set and total length. An empty string parses
// to an empty (relative) Path.
func Parse(s string) (Path, error) {
	if len(s) > MaxLength {
		return Path{}, errors.Wrapf(&ErrInvalidElement{Path: s}, "path exceeds %d characters", MaxLength)
	}
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	elements := make([]string, len(parts))
	for i, p := range parts {
		if p == "" || !validElement(p) {
			return Path{}, &ErrInvalidElement{Path: s, Element: p}
		}
		elements[i] = strings.ToLower(p)
	}
	return Path{s: strings.Join(elements, ".")}, nil
}

// MustParse is Parse but panics on error; for use with literal paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func validElement(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_':
		default:
			return false
		}
	}
	return true
}

func fromElements(elements []string) Path { return Path{s: strings.Join(elements, ".")} }

// String joins the elements back with ".".
func (p Path) String() string { return p.s }

// Elements returns the "." split of the path's elements.
func (p Path) Elements() []string {
	if p.s == "" {
		return nil
	}
	return strings.Split(p.s, ".")
}

// Empty reports whether p has no elements.
func (p Path) Empty() bool { return p.s == "" }

// IsAbsolute reports whether p's first element names a fixed namespace.
// user, mirroring spec.md's is_absolute(user?) signature, extends the
// fixed {com, org, pvt, loc} set: a first element equal to any entry of
// user also makes p absolute.
func (p Path) IsAbsolute(user ...string) bool {
	elements := p.Elements()
	if len(elements) == 0 {
		return false
	}
	if _, ok := namespaces[elements[0]]; ok {
		return true
	}
	for _, ns := range user {
		if elements[0] == ns {
			return true
		}
	}
	return false
}

// IsRelative is the negation of IsAbsolute.
func (p Path) IsRelative(user ...string) bool { return !p.IsAbsolute(user...) }

// IsRootOf reports whether p is a strict prefix of other by element
// sequence (p must be shorter and every element must match).
func (p Path) IsRootOf(other Path) bool {
	pe, oe := p.Elements(), other.Elements()
	if len(pe) >= len(oe) {
		return false
	}
	for i, e := range pe {
		if oe[i] != e {
			return false
		}
	}
	return true
}

// Back returns the suffix of p after root, or an error if root is not a
// strict prefix of p.
func (p Path) Back(root Path) ([]string, error) {
	if !root.IsRootOf(p) {
		return nil, errors.Errorf("%q is not rooted at %q", p, root)
	}
	return p.Elements()[len(root.Elements()):], nil
}

// Rebase rebases a relative path against an absolute root project path,
// producing root.path. It is an error to rebase an already-absolute
// path.
func (p Path) Rebase(root Path) (Path, error) {
	if p.IsAbsolute() {
		return Path{}, errors.Errorf("cannot rebase already-absolute path %q", p)
	}
	return fromElements(append(root.Elements(), p.Elements()...)), nil
}

// Slice identifies the three-way split of a path used for display and
// storage-path derivation.
type Slice int

const (
	// SliceNamespace is the first element (loc/pvt/org/com).
	SliceNamespace Slice = iota
	// SliceOwner is the second element, the owning account/group.
	SliceOwner
	// SliceTail is everything after the owner.
	SliceTail
)

// Part returns the requested three-way slice as a Path. Absent elements
// (e.g. SliceOwner on a one-element path) yield an empty Path.
func (p Path) Part(s Slice) Path {
	elements := p.Elements()
	switch s {
	case SliceNamespace:
		if len(elements) == 0 {
			return Path{}
		}
		return fromElements(elements[:1])
	case SliceOwner:
		if len(elements) < 2 {
			return Path{}
		}
		return fromElements(elements[1:2])
	case SliceTail:
		if len(elements) < 3 {
			return Path{}
		}
		return fromElements(elements[2:])
	}
	return Path{}
}

// Less orders two paths for deterministic display: loc/pvt namespaces
// first, then org, then everything else; ties broken element-wise.
func (p Path) Less(o Path) bool {
	pr, or := namespaceRank(p), namespaceRank(o)
	if pr != or {
		return pr < or
	}
	pe, oe := p.Elements(), o.Elements()
	for i := 0; i < len(pe) && i < len(oe); i++ {
		if pe[i] != oe[i] {
			return pe[i] < oe[i]
		}
	}
	return len(pe) < len(oe)
}

func namespaceRank(p Path) int {
	elements := p.Elements()
	if len(elements) == 0 {
		return 2
	}
	if r, ok := namespaces[elements[0]]; ok {
		return r
	}
	return 2
}

// Equal compares two paths element-wise.
func (p Path) Equal(o Path) bool { return p.s == o.s }

// FSPath maps the path onto a filesystem location by splitting the owner
// element (the second element) into first_char / first_two_chars /
// element shards, bounding directory fan-out exactly as spec.md §3
// describes. The namespace element and the tail are joined around that
// shard using sep (typically "/"), e.g.
//
//	org.boost.smart_ptr -> "org/b/bo/boost/smart_ptr"
func (p Path) FSPath(sep string) string {
	elements := p.Elements()
	if len(elements) < 2 {
		return strings.Join(elements, sep)
	}
	owner := elements[1]
	shard := []string{elements[0]}
	if len(owner) >= 1 {
		shard = append(shard, owner[:1])
	}
	if len(owner) >= 2 {
		shard = append(shard, owner[:2])
	}
	shard = append(shard, owner)
	shard = append(shard, elements[2:]...)
	return strings.Join(shard, sep)
}

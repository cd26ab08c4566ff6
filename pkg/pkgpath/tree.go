package pkgpath

import radix "github.com/armon/go-radix"

// Tree is a prefix-queryable set of Paths keyed by their dotted string
// form, backed by a radix tree. No other package in this module uses
// it: the catalog expands a RootProject with a SQL prefix query and the
// package store keeps its own radix tree of target names.
type Tree struct {
	t *radix.Tree
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{t: radix.New()}
}

// Insert associates path with value, returning the previous value if
// path was already present.
func (t *Tree) Insert(path Path, value interface{}) (interface{}, bool) {
	return t.t.Insert(path.String(), value)
}

// Get looks up the exact path.
func (t *Tree) Get(path Path) (interface{}, bool) {
	return t.t.Get(path.String())
}

// WalkPrefix calls fn for every entry whose key starts with root's
// dotted string representation followed by ".", i.e. every strict
// descendant of root. Iteration stops early if fn returns false.
func (t *Tree) WalkPrefix(root Path, fn func(path Path, value interface{}) bool) {
	prefix := root.String()
	if prefix != "" {
		prefix += "."
	}
	t.t.WalkPrefix(prefix, func(k string, v interface{}) bool {
		p, err := Parse(k)
		if err != nil {
			return false
		}
		return !fn(p, v)
	})
}

// Len reports the number of entries.
func (t *Tree) Len() int { return t.t.Len() }

// Package pkg implements the Package and Dependency data model of
// spec.md §3: a (PackagePath, Version, Flags) triple with memoized
// content-hash derived names, and the Dependency wrapper resolution
// populates.
package pkg

import (
	"crypto/sha256"
	"fmt"
	"path"

	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// Flags records independent boolean aspects of a Package (spec.md §3).
type Flags uint16

const (
	// FlagHeaderOnly marks a header-only library (no binary artifact).
	FlagHeaderOnly Flags = 1 << iota
	// FlagExecutable marks an executable target.
	FlagExecutable
	// FlagPrivateDependency marks an edge as private (not re-exported).
	FlagPrivateDependency
	// FlagIncludeDirectoriesOnly marks a dependency contributing only
	// include directories, no link step.
	FlagIncludeDirectoriesOnly
	// FlagDirectDependency marks a dependency the root project named
	// directly, as opposed to one pulled in transitively.
	FlagDirectDependency
	// FlagLocalProject marks a package materialized from a local spec
	// file rather than the catalog.
	FlagLocalProject
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Package is the immutable (path, version, flags) unit addressed by a
// content hash.
type Package struct {
	Path    pkgpath.Path
	Version version.Version
	Flags   Flags

	targetName string
	hash       string
	namesSet   bool
}

// New constructs a Package and memoizes its derived names
// (createNames(), in spec.md's terms). The returned value is immutable;
// callers must not mutate Path/Version/Flags on a value already handed
// out, since the memoized names would go stale.
func New(p pkgpath.Path, v version.Version, flags Flags) Package {
	pk := Package{Path: p, Version: v, Flags: flags}
	pk.createNames()
	return pk
}

func (p *Package) createNames() {
	p.targetName = fmt.Sprintf("%s-%s", p.Path.String(), p.Version.String())
	sum := sha256.Sum256([]byte(p.Path.String() + "/" + p.Version.String()))
	p.hash = fmt.Sprintf("%x", sum[:])
	p.namesSet = true
}

// TargetName returns "{path}-{version}", memoized at construction.
func (p Package) TargetName() string {
	if !p.namesSet {
		p.createNames()
	}
	return p.targetName
}

// Hash returns the full SHA-256 hex digest of "{path}/{version}".
func (p Package) Hash() string {
	if !p.namesSet {
		p.createNames()
	}
	return p.hash
}

// ShortHash returns the first 8 hex characters of Hash.
func (p Package) ShortHash() string {
	h := p.Hash()
	if len(h) < 8 {
		return h
	}
	return h[:8]
}

// StoragePath returns storage_root/hash[0..2]/hash[2..4]/hash[4..], the
// on-disk storage location for this package (spec.md §3).
func (p Package) StoragePath(storageRoot string) string {
	h := p.Hash()
	return path.Join(storageRoot, h[0:2], h[2:4], h[4:])
}

// Dependency wraps a Package with its predicate-edges, resolved map, and
// the archive hash/remote it was resolved from (spec.md §3).
type Dependency struct {
	Package Package

	// Edges are predicate-edges to other dependencies by catalog id,
	// populated during catalog traversal (spec.md §4.2 step 4).
	Edges []Edge

	// Resolved maps each edge's Package to its Dependency node, populated
	// by the resolver from Edges via an id->Dependency lookup table.
	Resolved map[Package]*Dependency

	// SHA256 is the known content hash for the source archive, as
	// recorded by the catalog.
	SHA256 string

	// RemoteName is a non-owning back-reference (by name) to the Remote
	// this dependency came from.
	RemoteName string

	// ProjectFlags and EdgeFlags preserve the two raw flag sources the
	// catalog ORs together into Package.Flags, so callers can tell them
	// apart (spec.md §9 open question on flag precedence).
	ProjectFlags Flags
	EdgeFlags    Flags
}

// Edge is a predicate-edge from one dependency to another by catalog id,
// with the edge's own flags (spec.md §3 CatalogRow).
type Edge struct {
	TargetID  int64
	Predicate version.Version
	Flags     Flags
}

// NewDependency builds a Dependency, OR-merging the project and edge
// flags into pkg.Flags while keeping both raw values for callers that
// need to distinguish provenance.
func NewDependency(p Package, projectFlags, edgeFlags Flags) *Dependency {
	p.Flags = projectFlags | edgeFlags
	p.createNames()
	return &Dependency{
		Package:      p,
		Resolved:     make(map[Package]*Dependency),
		ProjectFlags: projectFlags,
		EdgeFlags:    edgeFlags,
	}
}

package specfile

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// DependencyDecl is one entry of the spec file's `dependencies`/`deps`
// key, carrying the raw (possibly relative) path string alongside its
// predicate; Resolve binds it against a root project once the project's
// own absolute path is known, mirroring cppan.cpp's
// relative_name_to_absolute deferred-rebase idiom.
type DependencyDecl struct {
	RawPath   string
	Predicate string
}

// Resolve parses RawPath and, if it names a relative path, rebases it
// against root (spec.md §4.1's PackagePath.Rebase); it then parses
// Predicate, defaulting to version.Any() when empty.
func (d DependencyDecl) Resolve(root pkgpath.Path) (pkgpath.Path, version.Version, error) {
	p, err := pkgpath.Parse(d.RawPath)
	if err != nil {
		return pkgpath.Path{}, version.Version{}, errors.Wrapf(err, "dependency path %q", d.RawPath)
	}
	if p.IsRelative() && !root.Empty() {
		p, err = p.Rebase(root)
		if err != nil {
			return pkgpath.Path{}, version.Version{}, errors.Wrapf(err, "rebasing dependency %q", d.RawPath)
		}
	}

	pred := d.Predicate
	if pred == "" {
		return p, version.Any(), nil
	}
	v, err := version.Parse(pred)
	if err != nil {
		return pkgpath.Path{}, version.Version{}, errors.Wrapf(err, "dependency predicate %q", d.Predicate)
	}
	return p, v, nil
}

// parseDependencyScalar splits cppan.yml's inline "org.foo.bar @ 1.2"
// form (cppan.cpp's extractFromString) into path and predicate.
func parseDependencyScalar(s string) DependencyDecl {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return DependencyDecl{
			RawPath:   strings.TrimSpace(s[:i]),
			Predicate: strings.Trim(strings.TrimSpace(s[i+1:]), `"`),
		}
	}
	return DependencyDecl{RawPath: strings.TrimSpace(s)}
}

// parseDependencies reads the `dependencies`/`deps` key, which accepts a
// sequence of scalars/maps or a map of name->predicate (cppan.cpp's
// read_single_dep: scalar "path @ predicate", a map with "name"/"package"
// plus an optional version, or a single-key map "{path: predicate}").
func parseDependencies(v interface{}) ([]DependencyDecl, error) {
	if v == nil {
		return nil, nil
	}

	var entries []interface{}
	switch t := v.(type) {
	case []interface{}:
		entries = t
	default:
		m, ok := asMap(v)
		if !ok {
			return nil, errors.New("'dependencies' must be a sequence or a map")
		}
		for k, val := range m {
			entries = append(entries, map[string]interface{}{k: val})
		}
	}

	out := make([]DependencyDecl, 0, len(entries))
	for _, e := range entries {
		switch t := e.(type) {
		case string:
			out = append(out, parseDependencyScalar(t))
		default:
			m, ok := asMap(e)
			if !ok {
				return nil, errors.Errorf("dependency entry must be a string or map, got %T", t)
			}
			d, err := parseDependencyEntry(m)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// ResolvedDependency is a DependencyDecl after path rebasing and
// predicate parsing.
type ResolvedDependency struct {
	Path      pkgpath.Path
	Predicate version.Version
}

// ResolveDependencies resolves every ProjectSpec.Dependencies entry
// against root.
func (ps ProjectSpec) ResolveDependencies(root pkgpath.Path) ([]ResolvedDependency, error) {
	out := make([]ResolvedDependency, 0, len(ps.Dependencies))
	for _, d := range ps.Dependencies {
		p, v, err := d.Resolve(root)
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedDependency{Path: p, Predicate: v})
	}
	return out, nil
}

func parseDependencyEntry(m map[string]interface{}) (DependencyDecl, error) {
	l := &loader{}
	name := l.str(m, "name", "")
	if name == "" {
		name = l.str(m, "package", "")
	}
	if l.err != nil {
		return DependencyDecl{}, l.err
	}
	if name != "" {
		pred := ""
		if v, ok := m["version"]; ok && v != nil {
			pred = fmt.Sprint(v)
		}
		return DependencyDecl{RawPath: name, Predicate: pred}, nil
	}
	if local := l.str(m, "local", ""); local != "" {
		return DependencyDecl{RawPath: local}, nil
	}
	if len(m) == 1 {
		for k, val := range m {
			pred, ok := val.(string)
			if !ok {
				return DependencyDecl{}, errors.Errorf("dependency %q: predicate must be a string", k)
			}
			return DependencyDecl{RawPath: k, Predicate: pred}, nil
		}
	}
	return DependencyDecl{}, errors.New("dependency entry missing 'name'/'package'/'local' or a single path key")
}

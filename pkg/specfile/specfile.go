// Package specfile loads a project's cppan.yml (spec.md §6's External
// Interfaces key table): the `source`/`dependencies`/`files`/
// `include_directories`/`options`/`patch`/`type` keys and the
// `import_from_bazel` file-list extractor. It is a collaborator, not
// part of the core resolution/fetch pipeline: pkg/store consumes a
// *Spec to seed what the resolver and fetch pipeline need.
//
// Grounded on internal/cfg's manifest-reading role (ReadManifest) and
// toml.go's tomlMapper query-and-continue-on-first-error idiom
// (mapper.go), adapted to YAML; the key set and per-key parsing rules
// are grounded directly on
// _examples/original_source/src/sw/driver/frontend/cppan/cppan.cpp and
// _examples/original_source/src/common/source.cpp.
package specfile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/cppan/cppan/pkg/pkgpath"
)

// IncludeDirectories splits include paths by visibility, per cppan.cpp's
// get_variety over the `include_directories` key: a bare scalar/sequence
// goes to Public, a map keys into Public/Private/Interface/Protected.
type IncludeDirectories struct {
	Public    []string
	Private   []string
	Interface []string
	Protected []string
}

// ProjectSpec is the per-target config a `projects` entry holds, or the
// implicit single project a spec file with no `projects` key describes
// at its top level.
type ProjectSpec struct {
	Files               []string
	Build               []string
	ExcludeFromPackage  []string
	ExcludeFromBuild    []string
	IncludeDirectories  IncludeDirectories
	Dependencies        []DependencyDecl
	Options             map[string]map[string][]string
	Patch               Patch
	Type                string
	LibraryType         string
	CStandard           string
	CxxStandard         string
	ImportFromBazel     bool
	BazelTargetName     string
	BazelTargetFunction string
	LocalSettings       map[string]interface{}
}

// Spec is a fully parsed cppan.yml document.
type Spec struct {
	Version     string
	Source      Source
	RootProject string
	ProjectSpec

	// Projects holds named subproject configs from the `projects` key;
	// nil for a single-project spec file.
	Projects map[string]*ProjectSpec
}

// Load reads and parses the spec file at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading spec file %s", path)
	}
	return Parse(data)
}

// Parse parses a cppan.yml document from raw YAML bytes.
func Parse(data []byte) (*Spec, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing spec file yaml")
	}
	if raw == nil {
		return &Spec{}, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, errors.New("spec file root must be a map")
	}

	l := &loader{}
	spec := &Spec{
		Version:     l.str(m, "version", ""),
		RootProject: l.str(m, "root_project", ""),
	}
	if l.err != nil {
		return nil, l.err
	}

	if sv, ok := m["source"]; ok {
		src, err := loadSource(sv)
		if err != nil {
			return nil, errors.Wrap(err, "parsing 'source'")
		}
		spec.Source = src
	}

	ps, err := parseProjectSpec(m)
	if err != nil {
		return nil, err
	}
	spec.ProjectSpec = ps

	if pv, ok := m["projects"]; ok {
		pm, ok := asMap(pv)
		if !ok {
			return nil, errors.New("'projects' must be a map")
		}
		spec.Projects = make(map[string]*ProjectSpec, len(pm))
		for name, raw := range pm {
			sub, ok := asMap(raw)
			if !ok {
				return nil, errors.Errorf("project %q must be a map", name)
			}
			subSpec, err := parseProjectSpec(sub)
			if err != nil {
				return nil, errors.Wrapf(err, "project %q", name)
			}
			spec.Projects[name] = &subSpec
		}
	}

	return spec, nil
}

func parseProjectSpec(m map[string]interface{}) (ProjectSpec, error) {
	l := &loader{}
	ps := ProjectSpec{
		Files:              l.stringList(m, "files"),
		Build:              l.stringList(m, "build"),
		ExcludeFromPackage: l.stringList(m, "exclude_from_package"),
		ExcludeFromBuild:   l.stringList(m, "exclude_from_build"),
		Type:               normalizeType(l.str(m, "type", "")),
		LibraryType:        l.str(m, "library_type", ""),
		ImportFromBazel:    l.boolean(m, "import_from_bazel", false),
		BazelTargetName:    l.str(m, "bazel_target_name", ""),
	}
	if l.err != nil {
		return ProjectSpec{}, l.err
	}
	if ps.ImportFromBazel {
		ps.ExcludeFromBuild = append(ps.ExcludeFromBuild, BazelFilenames...)
	}

	ps.CStandard = l.standardString(m, "c_standard")
	ps.CxxStandard = l.standardString(m, "cxx_standard")
	if l.err != nil {
		return ProjectSpec{}, l.err
	}

	if iv, ok := m["include_directories"]; ok {
		dirs, err := parseIncludeDirectories(iv)
		if err != nil {
			return ProjectSpec{}, err
		}
		ps.IncludeDirectories = dirs
	}

	if dv, ok := firstDefined(m, "dependencies", "deps"); ok {
		deps, err := parseDependencies(dv)
		if err != nil {
			return ProjectSpec{}, err
		}
		ps.Dependencies = deps
	}

	if ov, ok := m["options"]; ok {
		opts, err := parseOptions(ov)
		if err != nil {
			return ProjectSpec{}, err
		}
		ps.Options = opts
	}

	if pv, ok := m["patch"]; ok {
		patch, err := parsePatch(pv)
		if err != nil {
			return ProjectSpec{}, err
		}
		ps.Patch = patch
	}

	if lv, ok := m["local_settings"]; ok {
		lsm, ok := asMap(lv)
		if !ok {
			return ProjectSpec{}, errors.New("'local_settings' must be a map")
		}
		ps.LocalSettings = lsm
	}

	return ps, nil
}

func firstDefined(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// normalizeType maps the spec file's short/long type spellings onto
// "library"/"executable" (cppan.cpp's `pt == "l" || pt == "lib" ...`).
func normalizeType(pt string) string {
	switch pt {
	case "l", "lib", "library":
		return "library"
	case "e", "exe", "executable":
		return "executable"
	default:
		return pt
	}
}

// standardString reads c_standard/cxx_standard, which accept either an
// int (11, 14, 17, 20) or a suffixed string ("1z", "2x").
func (l *loader) standardString(m map[string]interface{}, key string) string {
	if l.err != nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		l.fail(errors.Errorf("key %q must be an int or string, got %T", key, v))
		return ""
	}
}

func parseIncludeDirectories(v interface{}) (IncludeDirectories, error) {
	switch t := v.(type) {
	case string:
		return IncludeDirectories{Public: []string{t}}, nil
	case []interface{}:
		var out []string
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return IncludeDirectories{}, errors.New("'include_directories' sequence entries must be strings")
			}
			out = append(out, s)
		}
		return IncludeDirectories{Public: out}, nil
	default:
		m, ok := asMap(v)
		if !ok {
			return IncludeDirectories{}, errors.New("'include_directories' must be a scalar, sequence, or map")
		}
		var dirs IncludeDirectories
		for key, raw := range m {
			seq, ok := asSlice(raw)
			if !ok {
				return IncludeDirectories{}, errors.Errorf("'include_directories.%s' must be a sequence", key)
			}
			var out []string
			for _, e := range seq {
				s, ok := e.(string)
				if !ok {
					return IncludeDirectories{}, errors.Errorf("'include_directories.%s' entries must be strings", key)
				}
				out = append(out, s)
			}
			switch key {
			case "public":
				dirs.Public = append(dirs.Public, out...)
			case "private":
				dirs.Private = append(dirs.Private, out...)
			case "interface":
				dirs.Interface = append(dirs.Interface, out...)
			case "protected":
				dirs.Protected = append(dirs.Protected, out...)
			default:
				return IncludeDirectories{}, errors.New("include key must be only 'public', 'private', 'interface', or 'protected'")
			}
		}
		return dirs, nil
	}
}

// parseOptions reads the `options` key: a map of variant name
// (any/static/shared) to a map of knob name to a string list.
func parseOptions(v interface{}) (map[string]map[string][]string, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, errors.New("'options' must be a map")
	}
	out := make(map[string]map[string][]string, len(m))
	for variant, raw := range m {
		vm, ok := asMap(raw)
		if !ok {
			return nil, errors.Errorf("'options.%s' must be a map", variant)
		}
		knobs := make(map[string][]string, len(vm))
		for knob, kv := range vm {
			var vals []string
			switch t := kv.(type) {
			case string:
				vals = []string{t}
			case []interface{}:
				for _, e := range t {
					s, ok := e.(string)
					if !ok {
						return nil, errors.Errorf("'options.%s.%s' entries must be strings", variant, knob)
					}
					vals = append(vals, s)
				}
			default:
				return nil, errors.Errorf("'options.%s.%s' must be a scalar or sequence", variant, knob)
			}
			knobs[knob] = vals
		}
		out[variant] = knobs
	}
	return out, nil
}

// rootPath parses RootProject into a pkgpath.Path, for callers rebasing
// relative dependency paths.
func (s *Spec) rootPath() (pkgpath.Path, error) {
	if s.RootProject == "" {
		return pkgpath.Path{}, nil
	}
	return pkgpath.Parse(s.RootProject)
}

// Package store implements PackageStore (spec.md §4.6): the owner of
// every spec loaded during one process lifetime and the dependency
// edges the Resolver fills in for them.
//
// Grounded on the teacher's internal/kdep/project.go, which wraps a
// root dep.Project, loads its LocalDeps as sub-projects, and merges
// their package trees back into the root's (ParseRootPackageTree's
// delete-then-reinsert loop). Store plays the same role for cppan.yml
// projects: one root Config, a set of local sub-Configs, merged by
// Process.
package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/armon/go-radix"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cppan/cppan/pkg/accesstable"
	"github.com/cppan/cppan/pkg/archiveio"
	"github.com/cppan/cppan/pkg/cppanctx"
	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/servicedb"
	"github.com/cppan/cppan/pkg/specfile"
	"github.com/cppan/cppan/pkg/version"
)

// Resolver is the subset of *resolver.Resolver the store depends on.
type Resolver interface {
	Resolve(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error)
}

// PackagesSet is a set of packages keyed by the path each was loaded or
// resolved under, mirroring spec.md §4.6's PackagesSet.
type PackagesSet map[pkg.Package]*pkg.Dependency

// Config is one loaded project configuration: the parsed spec, the
// synthetic or catalog package it was loaded as, its declared
// dependency predicates, and whatever the Resolver fills in for them.
type Config struct {
	Package  pkg.Package
	Spec     *specfile.Spec
	Declared []specfile.ResolvedDependency
	Resolved map[int64]*pkg.Dependency

	// Checks holds feature/compiler probe results (the original's
	// CheckSet) keyed by check name; Process merges a child Config's
	// Checks into its root rather than re-running the probe.
	Checks map[string]bool
}

// Emitter is the out-of-scope collaborator that turns a resolved
// Config into build files; spec.md's Non-goals exclude compiling or
// generating build output, so the default Emitter does nothing.
// Process still calls it, matching the original's
// PackageStore::process, so a caller can supply a real one without
// changing Store.
type Emitter interface {
	Emit(root *Config, set PackagesSet) error
}

type noopEmitter struct{}

func (noopEmitter) Emit(*Config, PackagesSet) error { return nil }

// Store owns every Config loaded during one process lifetime.
type Store struct {
	ctx      *cppanctx.Context
	db       *servicedb.DB
	resolver Resolver
	at       *accesstable.AccessTable
	emitter  Emitter

	// names indexes loaded Configs by target name for recognizing a
	// dependency that is itself one of this process's own local projects
	// (spec.md §4.6's "propagate resolved flags back to local-package
	// edges") and for merging its Checks. Lookups are by exact target
	// name.
	names *radix.Tree

	log *logrus.Entry
}

// New builds a Store. emitter may be nil, in which case Process invokes
// a no-op Emitter.
func New(ctx *cppanctx.Context, db *servicedb.DB, resolver Resolver, at *accesstable.AccessTable, emitter Emitter) *Store {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	return &Store{
		ctx:      ctx,
		db:       db,
		resolver: resolver,
		at:       at,
		emitter:  emitter,
		names:    radix.New(),
		log:      logrus.WithField("component", "store"),
	}
}

// ReadPackagesFromFile implements spec.md §4.6's
// read_packages_from_file. path may be a directory (searched for a spec
// file or a bare main.cpp), a regular file, or an http(s) URL
// (downloaded into cwd first). direct marks the loaded package as
// directly named by the caller rather than pulled in transitively
// (pkg.FlagDirectDependency).
func (s *Store) ReadPackagesFromFile(path, configName string, direct bool) (PackagesSet, *Config, string, error) {
	localPath, err := s.materialize(path)
	if err != nil {
		return nil, nil, "", err
	}

	specPath, sp, err := loadSpec(localPath)
	if err != nil {
		return nil, nil, "", err
	}

	syntheticName, err := syntheticPackagePath(specPath)
	if err != nil {
		return nil, nil, "", err
	}

	v, err := version.NewBranch("local")
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "building local package version")
	}

	flags := pkg.FlagLocalProject
	if direct {
		flags |= pkg.FlagDirectDependency
	}
	p := pkg.New(syntheticName, v, flags)

	rootPath := syntheticName
	if sp.RootProject != "" {
		rootPath, err = pkgpath.Parse(sp.RootProject)
		if err != nil {
			return nil, nil, "", errors.Wrap(err, "parsing root_project")
		}
	}
	declared, err := sp.ResolveDependencies(rootPath)
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "resolving declared dependencies")
	}

	cfg := &Config{
		Package:  p,
		Spec:     sp,
		Declared: declared,
		Checks:   make(map[string]bool),
	}
	s.names.Insert(p.TargetName(), cfg)

	dep := pkg.NewDependency(p, flags, 0)
	set := PackagesSet{p: dep}

	s.log.WithField("path", syntheticName.String()).WithField("config", configName).Debug("loaded local package")

	return set, cfg, syntheticName.String(), nil
}

// materialize resolves path to a local filesystem location: an
// existing directory or file is used as-is, an http(s) URL is
// downloaded into the current working directory first (spec.md §4.6).
func (s *Store) materialize(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return path, nil
	}

	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	if _, err := archiveio.Download(context.Background(), u.String(), name, s.ctx.HTTP.MaxArchiveBytes); err != nil {
		return "", errors.Wrapf(err, "downloading %s", path)
	}
	return name, nil
}

// specFilenames are tried, in order, inside a directory argument.
var specFilenames = []string{"cppan.yml", "cppan.yaml"}

// loadSpec locates and parses the spec file for path, per
// read_packages_from_file's directory/file rule: a directory is
// searched for a recognized spec filename, falling back to a bare
// main.cpp synthesized into a minimal executable ProjectSpec; a regular
// file is parsed directly if it looks like a spec, otherwise treated as
// a single-source-file project the same way.
func loadSpec(path string) (string, *specfile.Spec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, errors.Wrapf(err, "stat %s", path)
	}

	if info.IsDir() {
		for _, name := range specFilenames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				sp, err := specfile.Load(candidate)
				return candidate, sp, err
			}
		}
		candidate := filepath.Join(path, "main.cpp")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, syntheticExecutableSpec("main.cpp"), nil
		}
		return "", nil, errors.Errorf("no spec file or main.cpp found under %s", path)
	}

	base := filepath.Base(path)
	for _, name := range specFilenames {
		if base == name {
			sp, err := specfile.Load(path)
			return path, sp, err
		}
	}
	return path, syntheticExecutableSpec(base), nil
}

func syntheticExecutableSpec(file string) *specfile.Spec {
	return &specfile.Spec{
		Version: "local",
		ProjectSpec: specfile.ProjectSpec{
			Files: []string{file},
			Type:  "executable",
		},
	}
}

// syntheticPackagePath builds loc.<sha_short(normalized path)>.<stem>
// per spec.md §4.6.
func syntheticPackagePath(path string) (pkgpath.Path, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return pkgpath.Path{}, errors.Wrapf(err, "resolving %s", path)
	}
	abs = filepath.Clean(abs)

	sum := sha256.Sum256([]byte(abs))
	short := fmt.Sprintf("%x", sum[:])[:8]

	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	stem = sanitizePathElement(stem)
	if stem == "" {
		stem = "project"
	}

	return pkgpath.Parse("loc." + short + "." + stem)
}

func sanitizePathElement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ResolveDependencies implements spec.md §4.6's resolve_dependencies: it
// pulls cfg's non-local, not-yet-resolved dependencies and hands them
// to the Resolver, memoizing the result onto cfg.
func (s *Store) ResolveDependencies(ctx context.Context, cfg *Config) (map[int64]*pkg.Dependency, error) {
	if cfg.Resolved != nil {
		return cfg.Resolved, nil
	}

	roots := make([]pkg.Package, 0, len(cfg.Declared))
	for _, d := range cfg.Declared {
		if isLocalPath(d.Path) {
			continue
		}
		roots = append(roots, pkg.New(d.Path, d.Predicate, 0))
	}

	resolved, err := s.resolver.Resolve(ctx, roots)
	if err != nil {
		return nil, errors.Wrap(err, "resolving dependencies")
	}
	cfg.Resolved = resolved
	return resolved, nil
}

func isLocalPath(p pkgpath.Path) bool {
	elements := p.Elements()
	return len(elements) > 0 && elements[0] == "loc"
}

// Process implements spec.md §4.6's process: resolve root, propagate
// resolved flags back to any edge that is itself one of this store's
// own loaded local packages, merge every resolved child's Checks into
// root, run the dep-change hash check, and invoke the Emitter.
func (s *Store) Process(ctx context.Context, root *Config) (PackagesSet, error) {
	resolved, err := s.ResolveDependencies(ctx, root)
	if err != nil {
		return nil, err
	}

	set := make(PackagesSet, len(resolved)+1)
	set[root.Package] = pkg.NewDependency(root.Package, root.Package.Flags, 0)

	for _, dep := range resolved {
		set[dep.Package] = dep
		s.propagateLocalFlags(dep)
		s.mergeChecks(root, dep)
	}

	changed, err := s.trackDependencyChange(root, resolved)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.purgeStaleOutputs(root.Package); err != nil {
			return nil, err
		}
	}

	if err := s.emitter.Emit(root, set); err != nil {
		return nil, errors.Wrap(err, "emitting")
	}
	return set, nil
}

// propagateLocalFlags sets FlagLocalProject on dep if it resolved to a
// package this store already loaded directly (i.e. it shares a target
// name with an entry in s.names), per spec.md §4.6.
func (s *Store) propagateLocalFlags(dep *pkg.Dependency) {
	if _, ok := s.names.Get(dep.Package.TargetName()); ok {
		dep.Package.Flags |= pkg.FlagLocalProject
	}
}

// mergeChecks folds a resolved child's feature checks into root's, the
// Go analog of the original's per-config CheckSet merge ahead of
// emission.
func (s *Store) mergeChecks(root *Config, dep *pkg.Dependency) {
	v, ok := s.names.Get(dep.Package.TargetName())
	if !ok {
		return
	}
	child, ok := v.(*Config)
	if !ok {
		return
	}
	for name, result := range child.Checks {
		if _, exists := root.Checks[name]; !exists {
			root.Checks[name] = result
		}
	}
}

// trackDependencyChange implements spec.md §4.6's dep-change tracking:
// a hash of the resolved children's target names, compared against the
// last recorded PackageDependenciesHashes row.
func (s *Store) trackDependencyChange(root *Config, resolved map[int64]*pkg.Dependency) (bool, error) {
	names := make([]string, 0, len(resolved))
	for _, dep := range resolved {
		names = append(names, dep.Package.TargetName())
	}
	sort.Strings(names)

	sum := sha256.Sum256([]byte(strings.Join(names, "\n")))
	hash := fmt.Sprintf("%x", sum[:])

	same, err := s.db.HasPackageDependenciesHash(root.Package, hash)
	if err != nil {
		return false, errors.Wrap(err, "checking dependencies hash")
	}
	if same {
		return false, nil
	}
	if err := s.db.SetPackageDependenciesHash(root.Package, hash); err != nil {
		return false, errors.Wrap(err, "recording dependencies hash")
	}
	return true, nil
}

// purgeStaleOutputs removes p's cached export artifacts and binary
// outputs once trackDependencyChange reports its dependency set
// changed, per spec.md §4.6.
func (s *Store) purgeStaleOutputs(p pkg.Package) error {
	if s.at != nil {
		s.at.Remove(p.TargetName())
	}
	for _, dir := range []string{s.ctx.Dirs.Bin(), s.ctx.Dirs.Lib(), s.ctx.Dirs.Obj()} {
		target := filepath.Join(dir, p.TargetName())
		if err := os.RemoveAll(target); err != nil {
			return errors.Wrapf(err, "removing stale output %s", target)
		}
	}
	return nil
}

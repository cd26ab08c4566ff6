package catalog

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// newTestCatalog builds an in-memory catalog with the schema applied but
// skips Open's mirroring/locking machinery, which needs a real remote
// and filesystem.
func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening in-memory db: %v", err)
	}
	// A single shared connection keeps every statement on the same
	// in-memory database; sqlite3's :memory: mode gives each new
	// connection its own empty database otherwise.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return &Catalog{db: db}
}

func seedProject(t *testing.T, c *Catalog, id int64, path string, typeID int, flags int64) {
	t.Helper()
	if _, err := c.db.Exec(`insert into Projects (id, path, type_id, flags) values (?, ?, ?, ?)`, id, path, typeID, flags); err != nil {
		t.Fatalf("seeding project %s: %v", path, err)
	}
}

func seedVersion(t *testing.T, c *Catalog, id, projectID int64, major, minor, patch interface{}, branch interface{}, flags int64, created time.Time, sha256 string) {
	t.Helper()
	_, err := c.db.Exec(
		`insert into ProjectVersions (id, project_id, major, minor, patch, branch, flags, created, sha256) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, major, minor, patch, branch, flags, created.Format(time.RFC3339), sha256,
	)
	if err != nil {
		t.Fatalf("seeding version for project %d: %v", projectID, err)
	}
}

func seedDependency(t *testing.T, c *Catalog, versionID, depProjectID int64, predicate string, flags int64) {
	t.Helper()
	_, err := c.db.Exec(
		`insert into ProjectVersionDependencies (project_version_id, project_dependency_id, version, flags) values (?, ?, ?, ?)`,
		versionID, depProjectID, predicate, flags,
	)
	if err != nil {
		t.Fatalf("seeding dependency: %v", err)
	}
}

func TestLookupProjectNotFound(t *testing.T) {
	c := newTestCatalog(t)
	_, _, _, err := c.LookupProject(pkgpath.MustParse("org.nope"))
	if _, ok := err.(*ErrPackageNotFound); !ok {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestRootProjectChildrenEmpty(t *testing.T) {
	c := newTestCatalog(t)
	seedProject(t, c, 1, "org.foo", projectTypeRootProject, 0)
	_, err := c.RootProjectChildren(pkgpath.MustParse("org.foo"))
	if _, ok := err.(*ErrRootProjectEmpty); !ok {
		t.Fatalf("expected ErrRootProjectEmpty, got %v", err)
	}
}

func TestRootProjectChildrenExpansion(t *testing.T) {
	c := newTestCatalog(t)
	seedProject(t, c, 1, "org.foo", projectTypeRootProject, 0)
	seedProject(t, c, 2, "org.foo.core", projectTypeLibrary, 0)
	seedProject(t, c, 3, "org.foo.tool", projectTypeExecutable, 0)

	children, err := c.RootProjectChildren(pkgpath.MustParse("org.foo"))
	if err != nil {
		t.Fatalf("RootProjectChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Path.String() != "org.foo.core" || children[1].Path.String() != "org.foo.tool" {
		t.Errorf("unexpected children: %+v", children)
	}
}

func TestFindDependenciesExactMatch(t *testing.T) {
	c := newTestCatalog(t)
	old := time.Now().Add(-time.Hour)

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, 1, 2, 3, nil, 0, old, "deadbeef")

	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, 2, 3), 0)}
	deps, err := c.FindDependencies(roots, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindDependencies: %v", err)
	}
	dep, ok := deps[10]
	if !ok {
		t.Fatalf("expected version id 10 in result, got %v", deps)
	}
	if dep.SHA256 != "deadbeef" {
		t.Errorf("SHA256 = %q, want deadbeef", dep.SHA256)
	}
	if !dep.Package.Flags.Has(pkg.FlagDirectDependency) {
		t.Error("root dependency should carry FlagDirectDependency")
	}
}

func TestFindDependenciesTransitive(t *testing.T) {
	c := newTestCatalog(t)
	old := time.Now().Add(-time.Hour)

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedProject(t, c, 2, "org.bar", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, 1, 0, 0, nil, 0, old, "foosum")
	seedVersion(t, c, 20, 2, 2, 0, 0, nil, 0, old, "barsum")
	seedDependency(t, c, 10, 2, "2", 0)

	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, 0, 0), 0)}
	deps, err := c.FindDependencies(roots, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindDependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 resolved dependencies, got %d", len(deps))
	}
	if deps[20].SHA256 != "barsum" {
		t.Errorf("expected transitive dep resolved, got %+v", deps[20])
	}
}

func TestFindDependenciesYoungPackage(t *testing.T) {
	c := newTestCatalog(t)
	recent := time.Now()

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, 1, 0, 0, nil, 0, recent, "sum")

	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, 0, 0), 0)}
	_, err := c.FindDependencies(roots, 30*time.Minute)
	if _, ok := err.(*ErrYoungPackage); !ok {
		t.Fatalf("expected ErrYoungPackage, got %v", err)
	}
}

func TestFindDependenciesVersionNotFound(t *testing.T) {
	c := newTestCatalog(t)
	old := time.Now().Add(-time.Hour)

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, 1, 0, 0, nil, 0, old, "sum")

	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(2, 0, 0), 0)}
	_, err := c.FindDependencies(roots, 30*time.Minute)
	if _, ok := err.(*ErrVersionNotFound); !ok {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestFindDependenciesPartialVersionFallsBackToLatest(t *testing.T) {
	c := newTestCatalog(t)
	old := time.Now().Add(-time.Hour)

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, 1, 0, 0, nil, 0, old, "v100")
	seedVersion(t, c, 11, 1, 1, 5, 0, nil, 0, old, "v150")

	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, version.Unspecified, version.Unspecified), 0)}
	deps, err := c.FindDependencies(roots, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindDependencies: %v", err)
	}
	dep, ok := deps[11]
	if !ok || dep.SHA256 != "v150" {
		t.Fatalf("expected latest minor (id 11) chosen, got %+v", deps)
	}
}

func TestFindDependenciesBranch(t *testing.T) {
	c := newTestCatalog(t)
	old := time.Now().Add(-time.Hour)

	seedProject(t, c, 1, "org.foo", projectTypeLibrary, 0)
	seedVersion(t, c, 10, 1, nil, nil, nil, "develop", 0, old, "branchsum")

	v, err := version.NewBranch("develop")
	if err != nil {
		t.Fatalf("NewBranch: %v", err)
	}
	roots := []pkg.Package{pkg.New(pkgpath.MustParse("org.foo"), v, 0)}
	deps, err := c.FindDependencies(roots, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindDependencies: %v", err)
	}
	if deps[10].SHA256 != "branchsum" {
		t.Fatalf("expected branch version resolved, got %+v", deps)
	}
}

func TestSortDependencyIDs(t *testing.T) {
	m := map[int64]*pkg.Dependency{3: nil, 1: nil, 2: nil}
	ids := sortDependencyIDs(m)
	want := []int64{1, 2, 3}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("sortDependencyIDs = %v, want %v", ids, want)
		}
	}
}

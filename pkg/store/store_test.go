package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cppan/cppan/pkg/accesstable"
	"github.com/cppan/cppan/pkg/cppanctx"
	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/servicedb"
	"github.com/cppan/cppan/pkg/version"
)

type fakeResolver struct {
	deps map[int64]*pkg.Dependency
	err  error
	got  []pkg.Package
}

func (f *fakeResolver) Resolve(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error) {
	f.got = roots
	if f.err != nil {
		return nil, f.err
	}
	return f.deps, nil
}

func newTestStore(t *testing.T, r Resolver) (*Store, *servicedb.DB) {
	t.Helper()
	db, err := servicedb.Open("file::memory:", "stamp")
	if err != nil {
		t.Fatalf("servicedb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	ctx, err := cppanctx.New(dir)
	if err != nil {
		t.Fatalf("cppanctx.New: %v", err)
	}

	at, err := accesstable.Open(db, dir)
	if err != nil {
		t.Fatalf("accesstable.Open: %v", err)
	}
	t.Cleanup(func() { at.Close() })

	return New(ctx, db, r, at, nil), db
}

func writeSpec(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "cppan.yml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestReadPackagesFromFileDirectoryWithSpec(t *testing.T) {
	s, _ := newTestStore(t, &fakeResolver{})
	dir := t.TempDir()
	writeSpec(t, dir, "version: 1.0.0\ntype: library\n")

	set, cfg, name, err := s.ReadPackagesFromFile(dir, "", true)
	if err != nil {
		t.Fatalf("ReadPackagesFromFile: %v", err)
	}
	if len(set) != 1 {
		t.Fatalf("set = %v", set)
	}
	if cfg.Package.Flags&pkg.FlagLocalProject == 0 {
		t.Fatalf("expected FlagLocalProject, flags = %v", cfg.Package.Flags)
	}
	if cfg.Package.Flags&pkg.FlagDirectDependency == 0 {
		t.Fatalf("expected FlagDirectDependency, flags = %v", cfg.Package.Flags)
	}
	if cfg.Spec.Type != "library" {
		t.Fatalf("Spec.Type = %q", cfg.Spec.Type)
	}
	if len(name) == 0 || name[:4] != "loc." {
		t.Fatalf("synthetic name = %q", name)
	}
}

func TestReadPackagesFromFileBareSourceFile(t *testing.T) {
	s, _ := newTestStore(t, &fakeResolver{})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.cpp"), []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, cfg, _, err := s.ReadPackagesFromFile(dir, "", false)
	if err != nil {
		t.Fatalf("ReadPackagesFromFile: %v", err)
	}
	if cfg.Spec.Type != "executable" {
		t.Fatalf("Spec.Type = %q", cfg.Spec.Type)
	}
	if len(cfg.Spec.Files) != 1 || cfg.Spec.Files[0] != "main.cpp" {
		t.Fatalf("Spec.Files = %v", cfg.Spec.Files)
	}
}

func TestResolveDependenciesSkipsLocalAndMemoizes(t *testing.T) {
	r := &fakeResolver{deps: map[int64]*pkg.Dependency{}}
	s, _ := newTestStore(t, r)
	dir := t.TempDir()
	writeSpec(t, dir, "dependencies:\n  - org.foo.bar @ \"1\"\n")

	_, cfg, _, err := s.ReadPackagesFromFile(dir, "", true)
	if err != nil {
		t.Fatalf("ReadPackagesFromFile: %v", err)
	}

	if _, err := s.ResolveDependencies(context.Background(), cfg); err != nil {
		t.Fatalf("ResolveDependencies: %v", err)
	}
	if len(r.got) != 1 || r.got[0].Path.String() != "org.foo.bar" {
		t.Fatalf("resolver roots = %v", r.got)
	}

	r.got = nil
	if _, err := s.ResolveDependencies(context.Background(), cfg); err != nil {
		t.Fatalf("ResolveDependencies (memoized): %v", err)
	}
	if r.got != nil {
		t.Fatalf("expected resolver not called again, got %v", r.got)
	}
}

func TestProcessTracksDependencyChangeAndPurgesOutputs(t *testing.T) {
	childPath := pkgpath.MustParse("org.foo.bar")
	childVersion := version.NewNumeric(1, 0, 0)
	childPkg := pkg.New(childPath, childVersion, 0)
	dep := pkg.NewDependency(childPkg, 0, 0)

	r := &fakeResolver{deps: map[int64]*pkg.Dependency{1: dep}}
	s, _ := newTestStore(t, r)
	dir := t.TempDir()
	writeSpec(t, dir, "dependencies:\n  - org.foo.bar @ \"1\"\n")

	_, cfg, _, err := s.ReadPackagesFromFile(dir, "", true)
	if err != nil {
		t.Fatalf("ReadPackagesFromFile: %v", err)
	}

	stalePath := filepath.Join(s.ctx.Dirs.Bin(), cfg.Package.TargetName())
	if err := os.MkdirAll(stalePath, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	set, err := s.Process(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("set = %v", set)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale output removed, stat err = %v", err)
	}

	// A second Process call with the same resolved set must not mark
	// the dependency set changed again.
	cfg.Resolved = nil
	stalePath2 := filepath.Join(s.ctx.Dirs.Lib(), cfg.Package.TargetName())
	if err := os.MkdirAll(stalePath2, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if _, err := s.Process(context.Background(), cfg); err != nil {
		t.Fatalf("Process (second): %v", err)
	}
	if _, err := os.Stat(stalePath2); os.IsNotExist(err) {
		t.Fatalf("second Process should not have purged unrelated output, it changed nothing")
	}
}

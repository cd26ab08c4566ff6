package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

type fakeLocal struct {
	deps map[int64]*pkg.Dependency
	err  error
}

func (f *fakeLocal) FindDependencies(roots []pkg.Package, youngWindow time.Duration) (map[int64]*pkg.Dependency, error) {
	return f.deps, f.err
}

type fakeRemote struct {
	deps   map[int64]*pkg.Dependency
	err    error
	called int
}

func (f *fakeRemote) FindDependencies(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error) {
	f.called++
	return f.deps, f.err
}

type fakeFetcher struct {
	err     error
	errOnce bool
	ensured []pkg.Package
	fired   int
}

func (f *fakeFetcher) Ensure(ctx context.Context, dep *pkg.Dependency) error {
	f.fired++
	f.ensured = append(f.ensured, dep.Package)
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return err
	}
	return nil
}

func samplePackage() pkg.Package {
	return pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, 0, 0), 0)
}

func TestResolveUsesLocalWhenAvailable(t *testing.T) {
	deps := map[int64]*pkg.Dependency{1: pkg.NewDependency(samplePackage(), 0, pkg.FlagDirectDependency)}
	local := &fakeLocal{deps: deps}
	remote := &fakeRemote{}
	fetcher := &fakeFetcher{}

	r := New(local, remote, fetcher, 30*time.Minute, true)
	got, err := r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 dependency, got %d", len(got))
	}
	if remote.called != 0 {
		t.Fatalf("expected remote not to be consulted, called %d times", remote.called)
	}
	if fetcher.fired != 1 {
		t.Fatalf("expected fetcher invoked once, got %d", fetcher.fired)
	}
}

func TestResolveFallsBackToRemoteOnYoungPackage(t *testing.T) {
	local := &fakeLocal{err: &catalog.ErrYoungPackage{Path: "org.foo", Version: "1.0.0"}}
	remoteDeps := map[int64]*pkg.Dependency{2: pkg.NewDependency(samplePackage(), 0, pkg.FlagDirectDependency)}
	remote := &fakeRemote{deps: remoteDeps}
	fetcher := &fakeFetcher{}

	r := New(local, remote, fetcher, 30*time.Minute, true)
	got, err := r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if remote.called != 1 {
		t.Fatalf("expected remote consulted once, got %d", remote.called)
	}
	if len(got) != 1 {
		t.Fatalf("expected remote's result returned, got %d deps", len(got))
	}
}

func TestResolveDowngradesOnLocalDbHash(t *testing.T) {
	local := &fakeLocal{err: &catalog.ErrLocalDbHash{Path: "org.foo"}}
	remoteDeps := map[int64]*pkg.Dependency{2: pkg.NewDependency(samplePackage(), 0, pkg.FlagDirectDependency)}
	remote := &fakeRemote{deps: remoteDeps}
	fetcher := &fakeFetcher{}

	r := New(local, remote, fetcher, 30*time.Minute, true)
	_, err := r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.queryLocalDB != 0 {
		t.Fatal("expected queryLocalDB to be downgraded to 0")
	}

	// A second resolve must go straight to remote without touching local.
	remote.called = 0
	_, err = r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if remote.called != 1 {
		t.Fatalf("expected remote consulted on second resolve, got %d", remote.called)
	}
}

func TestResolvePropagatesLocalErrors(t *testing.T) {
	local := &fakeLocal{err: &catalog.ErrVersionNotFound{Path: "org.foo", Predicate: "1.0.0"}}
	remote := &fakeRemote{}
	fetcher := &fakeFetcher{}

	r := New(local, remote, fetcher, 30*time.Minute, true)
	_, err := r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if _, ok := err.(*catalog.ErrVersionNotFound); !ok {
		t.Fatalf("expected ErrVersionNotFound to propagate, got %v", err)
	}
	if remote.called != 0 {
		t.Fatal("expected remote not consulted for a non-retryable local error")
	}
}

func TestResolveRetriesOnFetchLocalDbHash(t *testing.T) {
	localDeps := map[int64]*pkg.Dependency{1: pkg.NewDependency(samplePackage(), 0, pkg.FlagDirectDependency)}
	local := &fakeLocal{deps: localDeps}
	remoteDeps := map[int64]*pkg.Dependency{2: pkg.NewDependency(samplePackage(), 0, pkg.FlagDirectDependency)}
	remote := &fakeRemote{deps: remoteDeps}
	fetcher := &fakeFetcher{err: &catalog.ErrLocalDbHash{Path: "org.foo"}, errOnce: true}

	r := New(local, remote, fetcher, 30*time.Minute, true)
	got, err := r.Resolve(context.Background(), []pkg.Package{samplePackage()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if remote.called != 1 {
		t.Fatalf("expected remote consulted after fetch hash mismatch, got %d", remote.called)
	}
	if len(got) != 1 {
		t.Fatalf("expected final remote result, got %d", len(got))
	}
}

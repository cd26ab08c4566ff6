package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
}

func testDependency(sha256Hex string) *pkg.Dependency {
	p := pkg.New(pkgpath.MustParse("org.foo"), version.NewNumeric(1, 0, 0), 0)
	dep := pkg.NewDependency(p, 0, pkg.FlagDirectDependency)
	dep.SHA256 = sha256Hex
	return dep
}

func TestEnsureDownloadsVerifiesAndUnpacks(t *testing.T) {
	data := buildZip(t, map[string]string{"include/foo.h": "int foo();"})
	sum := fmt.Sprintf("%x", sha256.Sum256(data))

	srv := serveBytes(t, data)
	defer srv.Close()

	storageRoot := t.TempDir()
	p := New(storageRoot)
	p.DefaultSource = TemplateSource{Template: srv.URL + "/archive.zip"}

	dep := testDependency(sum)
	if err := p.Ensure(context.Background(), dep); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	unpacked := filepath.Join(p.unpackDir(dep), "include", "foo.h")
	content, err := os.ReadFile(unpacked)
	if err != nil {
		t.Fatalf("reading unpacked file: %v", err)
	}
	if string(content) != "int foo();" {
		t.Fatalf("unpacked content = %q", content)
	}

	stamp, err := os.ReadFile(p.stampPath(dep))
	if err != nil {
		t.Fatalf("reading stamp: %v", err)
	}
	if string(stamp) != sum {
		t.Fatalf("stamp = %q, want %q", stamp, sum)
	}
}

func TestEnsureSkipsWhenStampFresh(t *testing.T) {
	storageRoot := t.TempDir()
	p := New(storageRoot)
	// No DefaultSource configured; if Ensure tries to download this
	// will fail, proving the freshness check short-circuited it.

	dep := testDependency("deadbeef")
	if err := writeStamp(p.stampPath(dep), "deadbeef"); err != nil {
		t.Fatalf("writeStamp: %v", err)
	}

	if err := p.Ensure(context.Background(), dep); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func TestEnsureRemoteHashMismatchIsFatal(t *testing.T) {
	data := buildZip(t, map[string]string{"a.h": "a"})
	srv := serveBytes(t, data)
	defer srv.Close()

	storageRoot := t.TempDir()
	p := New(storageRoot)
	p.DefaultSource = TemplateSource{Template: srv.URL + "/archive.zip"}

	dep := testDependency("wronghash")
	dep.RemoteName = srv.URL // came from a remote resolution, not local
	err := p.Ensure(context.Background(), dep)
	if _, ok := err.(*ErrBadArchiveHash); !ok {
		t.Fatalf("expected ErrBadArchiveHash, got %v", err)
	}
}

func TestEnsureLocalHashMismatchRaisesLocalDbHash(t *testing.T) {
	data := buildZip(t, map[string]string{"a.h": "a"})
	srv := serveBytes(t, data)
	defer srv.Close()

	storageRoot := t.TempDir()
	p := New(storageRoot)
	p.DefaultSource = TemplateSource{Template: srv.URL + "/archive.zip"}

	dep := testDependency("wronghash")
	// RemoteName left empty: resolved from the local catalog.
	err := p.Ensure(context.Background(), dep)
	if _, ok := err.(*catalog.ErrLocalDbHash); !ok {
		t.Fatalf("expected ErrLocalDbHash, got %v", err)
	}
}

func TestEnsureUnpackDirectoryRelocation(t *testing.T) {
	data := buildZip(t, map[string]string{
		"cppan.yml":     "version: 1",
		"include/foo.h": "int foo();",
		"src/foo.cpp":   "int foo() { return 1; }",
	})
	sum := fmt.Sprintf("%x", sha256.Sum256(data))

	srv := serveBytes(t, data)
	defer srv.Close()

	storageRoot := t.TempDir()
	p := New(storageRoot)
	p.DefaultSource = TemplateSource{Template: srv.URL + "/archive.zip"}
	p.UnpackDirectory = func(dep *pkg.Dependency) string { return "vendor/foo" }

	dep := testDependency(sum)
	if err := p.Ensure(context.Background(), dep); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	root := p.unpackDir(dep)
	if _, err := os.Stat(filepath.Join(root, "cppan.yml")); err != nil {
		t.Fatalf("expected spec file to remain at unpack root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "vendor", "foo", "include", "foo.h")); err != nil {
		t.Fatalf("expected include/ relocated under vendor/foo: %v", err)
	}
}

func TestDownloadFromSourcesFallsThroughOnMismatch(t *testing.T) {
	goodData := buildZip(t, map[string]string{"a.h": "a"})
	sum := fmt.Sprintf("%x", sha256.Sum256(goodData))
	badData := buildZip(t, map[string]string{"b.h": "b"})

	badSrv := serveBytes(t, badData)
	defer badSrv.Close()
	goodSrv := serveBytes(t, goodData)
	defer goodSrv.Close()

	storageRoot := t.TempDir()
	p := New(storageRoot)
	p.PrimarySources = []URLSource{TemplateSource{Template: badSrv.URL + "/archive.zip"}}
	p.DefaultSource = TemplateSource{Template: goodSrv.URL + "/archive.zip"}

	dep := testDependency(sum)
	if err := p.Ensure(context.Background(), dep); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

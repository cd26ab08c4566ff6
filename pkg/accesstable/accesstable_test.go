package accesstable

import (
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cppan/cppan/pkg/servicedb"
)

func newTestDB(t *testing.T) *servicedb.DB {
	t.Helper()
	db, err := servicedb.Open("file::memory:", "stamp")
	if err != nil {
		t.Fatalf("servicedb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMustUpdateContentsMissingFile(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	must, err := at.MustUpdateContents(filepath.Join(dir, "nope.txt"))
	if err != nil {
		t.Fatalf("MustUpdateContents: %v", err)
	}
	if !must {
		t.Fatal("expected true for a missing file")
	}
}

func TestUpdateContentsThenNoRewrite(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	p := filepath.Join(dir, "config.cmake")
	if err := at.UpdateContents(p, "set(X 1)"); err != nil {
		t.Fatalf("UpdateContents: %v", err)
	}

	must, err := at.MustUpdateContents(p)
	if err != nil {
		t.Fatalf("MustUpdateContents: %v", err)
	}
	if must {
		t.Fatal("expected no update needed right after writing")
	}
}

func TestUpdatesDisabled(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	p := filepath.Join(dir, "whatever.txt")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	at.SetUpdatesDisabled(true)
	must, err := at.MustUpdateContents(p)
	if err != nil {
		t.Fatalf("MustUpdateContents: %v", err)
	}
	if must {
		t.Fatal("expected false while updates are disabled")
	}
}

func TestWriteIfOlderOutsideRootAlwaysWrites(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	p := filepath.Join(outside, "somewhere.txt")
	if err := at.WriteIfOlder(p, "hello"); err != nil {
		t.Fatalf("WriteIfOlder: %v", err)
	}
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("content = %q, want hello", got)
	}
}

func TestClearForcesUpdate(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	p := filepath.Join(dir, "x.txt")
	if err := at.UpdateContents(p, "v1"); err != nil {
		t.Fatalf("UpdateContents: %v", err)
	}
	if err := at.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	must, err := at.MustUpdateContents(p)
	if err != nil {
		t.Fatalf("MustUpdateContents after clear: %v", err)
	}
	if !must {
		t.Fatal("expected update required after Clear")
	}
}

func TestRemoveDropsPrefixedStamps(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	sub := filepath.Join(dir, "pkg-1.0.0")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	p := filepath.Join(sub, "header.h")
	if err := at.UpdateContents(p, "content"); err != nil {
		t.Fatalf("UpdateContents: %v", err)
	}

	at.Remove(sub)

	must, err := at.MustUpdateContents(p)
	if err != nil {
		t.Fatalf("MustUpdateContents: %v", err)
	}
	if !must {
		t.Fatal("expected stamp removed under prefix to force an update")
	}
}

func TestRelocateStampsSeedsUntrackedFiles(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)
	at, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer at.Close()

	if err := os.WriteFile(filepath.Join(dir, "a.h"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := at.RelocateStamps(dir); err != nil {
		t.Fatalf("RelocateStamps: %v", err)
	}

	must, err := at.MustUpdateContents(filepath.Join(dir, "a.h"))
	if err != nil {
		t.Fatalf("MustUpdateContents: %v", err)
	}
	if must {
		t.Fatal("expected RelocateStamps to seed the stamp so no rewrite is required")
	}
}

func TestSharedStoreAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t)

	at1, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	at2, err := Open(db, dir)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}

	p := filepath.Join(dir, "shared.txt")
	if err := at1.UpdateContents(p, "v1"); err != nil {
		t.Fatalf("UpdateContents: %v", err)
	}
	must, err := at2.MustUpdateContents(p)
	if err != nil {
		t.Fatalf("MustUpdateContents via second handle: %v", err)
	}
	if must {
		t.Fatal("expected second handle to see the stamp written through the first")
	}

	if err := at1.Close(); err != nil {
		t.Fatalf("Close 1: %v", err)
	}
	if err := at2.Close(); err != nil {
		t.Fatalf("Close 2: %v", err)
	}
}

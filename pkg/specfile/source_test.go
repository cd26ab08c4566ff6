package specfile

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestRemoteFileSourceFetchUnpacks(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("foo.h")
	w.Write([]byte("int foo();"))
	zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := RemoteFileSource{URL: srv.URL + "/archive.zip"}
	if err := src.Fetch(context.Background(), dir); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "foo.h")); err != nil {
		t.Fatalf("expected unpacked foo.h: %v", err)
	}
}

func TestRemoteFilesSourceFetchDownloadsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raw content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := RemoteFilesSource{URLs: []string{srv.URL + "/a.txt", srv.URL + "/b.txt"}}
	if err := src.Fetch(context.Background(), dir); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != "raw content" {
			t.Fatalf("%s content = %q", name, data)
		}
	}
}

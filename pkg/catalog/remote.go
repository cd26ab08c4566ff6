package catalog

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/archiveio"
)

// Remote names a source of the catalog mirror; it carries the transports
// used to mirror the catalog itself (spec.md §4.2: native git first,
// generic HTTP zip second). Package archive URLs are not part of it.
type Remote struct {
	Name string

	// GitURL, if set, is tried first to mirror the catalog via a
	// clone/pull through github.com/Masterminds/vcs. The clone is a full
	// clone, not a shallow one.
	GitURL string

	// ArchiveURL, if set, is a zipped master archive fetched over plain
	// HTTP when the git transport is unavailable or fails.
	ArchiveURL string

	// APIBaseURL is the remote HTTP API root (spec.md §6). The catalog
	// does not issue API requests itself; find_dependencies and the
	// telemetry calls go through resolver.HTTPClient's own BaseURL.
	APIBaseURL string

	// CurrentAPILevel is this client's API level (spec.md §6). The
	// catalog does not read it; resolver.HTTPClient compares its own
	// copy against the server's reply.
	CurrentAPILevel int

	// VersionURL, if set, serves a small plain-text db.version integer,
	// fetched as the cheap TTL-refresh pre-check of spec.md §4.2 before
	// paying for a full git clone/pull or archive download. Left empty,
	// the pre-check is skipped and Refresh always re-mirrors on TTL
	// expiry.
	VersionURL string
}

// fetchRemoteDBVersion performs spec.md §4.2's "small version file"
// pre-check: a single bounded GET of VersionURL, expected to hold
// nothing but the db.version integer.
func (r Remote) fetchRemoteDBVersion(ctx context.Context) (int, error) {
	if r.VersionURL == "" {
		return 0, errors.New("remote has no VersionURL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.VersionURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "building db.version pre-check request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "fetching remote db.version")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("fetching remote db.version: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, errors.Wrap(err, "reading remote db.version")
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing remote db.version %q", string(raw))
	}
	return n, nil
}

// mirrorCatalog refreshes the local mirror directory, trying git first
// and falling back to an HTTP zip download, per spec.md §4.2.
func (r Remote) mirrorCatalog(ctx context.Context, dir string) error {
	if r.GitURL != "" {
		if err := r.mirrorViaGit(ctx, dir); err == nil {
			return nil
		} else if r.ArchiveURL == "" {
			return errors.Wrap(err, "git mirror failed and no archive fallback configured")
		}
	}
	if r.ArchiveURL == "" {
		return errors.New("remote has neither a git URL nor an archive URL")
	}
	return r.mirrorViaHTTPArchive(ctx, dir)
}

func (r Remote) mirrorViaGit(ctx context.Context, dir string) error {
	repo, err := vcs.NewRepo(r.GitURL, dir)
	if err != nil {
		return errors.Wrap(err, "constructing git repo handle")
	}
	if repo.CheckLocal() {
		if err := repo.Update(); err != nil {
			return errors.Wrap(err, "pulling catalog mirror")
		}
		return nil
	}
	if err := repo.Get(); err != nil {
		return errors.Wrap(err, "cloning catalog mirror")
	}
	return nil
}

func (r Remote) mirrorViaHTTPArchive(ctx context.Context, dir string) error {
	u, err := url.Parse(r.ArchiveURL)
	if err != nil {
		return errors.Wrapf(err, "invalid archive URL %q", r.ArchiveURL)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), "cppan-mirror-")
	if err != nil {
		return errors.Wrap(err, "creating temp mirror directory")
	}
	defer os.RemoveAll(tmp)

	zipPath := filepath.Join(tmp, "master.zip")
	if _, err := archiveio.Download(ctx, u.String(), zipPath, 0); err != nil {
		return errors.Wrap(err, "downloading master archive")
	}
	extracted := filepath.Join(tmp, "extracted")
	if err := archiveio.ExtractZip(zipPath, extracted); err != nil {
		return errors.Wrap(err, "unzipping master archive")
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "clearing previous mirror")
	}
	return os.Rename(extracted, dir)
}

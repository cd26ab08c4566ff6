package specfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/archiveio"
)

// Source is the tagged variant spec.md §9's REDESIGN FLAGS name for the
// spec file's `source` key: `Git{url, tag?, branch?, commit?}`,
// `RemoteFile{url}`, or `RemoteFiles{urls}`. Grounded on
// _examples/original_source/src/common/source.h's boost::variant triple
// and source.cpp's Git/RemoteFile/RemoteFiles download() overloads.
type Source interface {
	// Fetch materializes the source into dir, which must already exist.
	Fetch(ctx context.Context, dir string) error
}

// GitSource clones (or updates) a git repository, checking out exactly
// one of Tag/Branch/Commit (source.cpp's Git::isValid requires exactly
// one to be set).
type GitSource struct {
	URL    string
	Tag    string
	Branch string
	Commit string
}

// Fetch implements Source using github.com/Masterminds/vcs, the same
// library pkg/catalog's mirrorViaGit uses for the catalog's own git
// transport, rather than hand-rolling the teacher's "git init; git
// remote add; git fetch --depth 1; git reset --hard" sequence (source.cpp's
// Git::download) with os/exec.
func (g GitSource) Fetch(ctx context.Context, dir string) error {
	repo, err := vcs.NewRepo(g.URL, dir)
	if err != nil {
		return errors.Wrap(err, "constructing git repo handle")
	}
	if repo.CheckLocal() {
		if err := repo.Update(); err != nil {
			return errors.Wrap(err, "updating git source")
		}
	} else if err := repo.Get(); err != nil {
		return errors.Wrap(err, "cloning git source")
	}

	ref := g.Commit
	if ref == "" {
		ref = g.Tag
	}
	if ref == "" {
		ref = g.Branch
	}
	if ref == "" {
		return nil
	}
	if err := repo.UpdateVersion(ref); err != nil {
		return errors.Wrapf(err, "checking out %q", ref)
	}
	return nil
}

// isValid mirrors Git::isValid: exactly one of Tag/Branch/Commit.
func (g GitSource) isValid() error {
	n := 0
	for _, v := range []string{g.Tag, g.Branch, g.Commit} {
		if v != "" {
			n++
		}
	}
	if g.URL == "" {
		return errors.New("git source url is missing")
	}
	if n == 0 {
		return errors.New("no git source (tag, branch, or commit) available")
	}
	if n > 1 {
		return errors.New("only one of tag, branch, or commit must be specified")
	}
	return nil
}

// RemoteFileSource downloads a single archive and unpacks it into dir
// (source.cpp's RemoteFile::download: download_and_unpack).
type RemoteFileSource struct {
	URL string
}

func (r RemoteFileSource) Fetch(ctx context.Context, dir string) error {
	return downloadAndUnpack(ctx, r.URL, dir)
}

// RemoteFilesSource downloads a set of raw files into dir without
// unpacking (source.cpp's RemoteFiles::download: plain download_file per
// url, no archive extraction).
type RemoteFilesSource struct {
	URLs []string
}

func (r RemoteFilesSource) Fetch(ctx context.Context, dir string) error {
	for _, u := range r.URLs {
		dest := filepath.Join(dir, filepath.Base(u))
		if _, err := archiveio.Download(ctx, u, dest, 0); err != nil {
			return errors.Wrapf(err, "downloading %s", u)
		}
	}
	return nil
}

func downloadAndUnpack(ctx context.Context, url, dir string) error {
	tmp, err := os.MkdirTemp(dir, "download-")
	if err != nil {
		return errors.Wrap(err, "creating temp download directory")
	}
	defer os.RemoveAll(tmp)

	archivePath := filepath.Join(tmp, filepath.Base(url))
	if _, err := archiveio.Download(ctx, url, archivePath, 0); err != nil {
		return errors.Wrapf(err, "downloading %s", url)
	}

	switch {
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return archiveio.ExtractTarGz(archivePath, dir)
	default:
		return archiveio.ExtractZip(archivePath, dir)
	}
}

// loadSource reads the spec file's `source` key, selecting the variant by
// which of "git"/"remote"/"remote_files" is present, per source.cpp's
// load_source (the SOURCE_TYPES macro list, tried in order).
func loadSource(v interface{}) (Source, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, errors.New("'source' must be a map")
	}

	if gv, ok := m["git"]; ok {
		gm, ok := asMap(gv)
		if !ok {
			return nil, errors.New("'source.git' must be a map")
		}
		l := &loader{}
		g := GitSource{
			URL:    l.str(gm, "url", ""),
			Tag:    l.str(gm, "tag", ""),
			Branch: l.str(gm, "branch", ""),
			Commit: l.str(gm, "commit", ""),
		}
		if l.err != nil {
			return nil, l.err
		}
		if err := g.isValid(); err != nil {
			return nil, err
		}
		return g, nil
	}

	if rv, ok := m["remote"]; ok {
		switch t := rv.(type) {
		case string:
			return RemoteFileSource{URL: t}, nil
		default:
			rm, ok := asMap(rv)
			if !ok {
				return nil, errors.New("'source.remote' must be a string or a map with 'url'")
			}
			l := &loader{}
			url := l.str(rm, "url", "")
			if l.err != nil {
				return nil, l.err
			}
			if url == "" {
				return nil, errors.New("remote url is missing")
			}
			return RemoteFileSource{URL: url}, nil
		}
	}

	if rv, ok := m["remote_files"]; ok {
		seq, ok := asSlice(rv)
		if !ok {
			return nil, errors.New("'source.remote_files' must be a sequence of urls")
		}
		urls := make([]string, 0, len(seq))
		for _, e := range seq {
			s, ok := e.(string)
			if !ok {
				return nil, errors.New("'source.remote_files' entries must be strings")
			}
			urls = append(urls, s)
		}
		if len(urls) == 0 {
			return nil, errors.New("empty remote_files")
		}
		return RemoteFilesSource{URLs: urls}, nil
	}

	return nil, errors.New("'source' must contain one of 'git', 'remote', 'remote_files'")
}

// Package fetch implements the per-dependency fetch/verify/unpack
// pipeline of spec.md §4.5: at most one in-flight fetch per package
// across processes, a size-capped streaming hash download tried across
// an ordered list of URL providers, and atomic placement into the
// content-addressed storage tree.
//
// Grounded on internal/gps/registry.go's execDownloadDependency/
// extractDependency (streaming tee-hash download, archive extraction,
// via the shared pkg/archiveio helpers) and internal/fs/fs.go's
// rename-with-copy-fallback idiom for atomic placement; the per-stamp-
// file advisory lock uses github.com/theckman/go-flock, vendored by the
// teacher but unused by the retained file slice.
package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/theckman/go-flock"

	"github.com/cppan/cppan/pkg/accesstable"
	"github.com/cppan/cppan/pkg/archiveio"
	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/pkg"
)

// defaultMaxBytes is spec.md §4.5's "size limit (default 1 GB)".
const defaultMaxBytes = 1 << 30

// URLSource produces a candidate download URL for a package; the first
// source to produce an archive whose hash matches the catalog wins
// (spec.md §4.5 step 3).
type URLSource interface {
	URL(p pkg.Package) (string, error)
}

// Pipeline runs the fetch/verify/unpack stages for resolved
// dependencies, one at a time per dependency but safely concurrent
// across dependencies (the only shared mutable state, per-package
// locks and the AccessTable, are synchronized internally).
type Pipeline struct {
	// StorageRoot is the package storage root; archives unpack under
	// StorageRoot/src/<hash-path> (spec.md §4.5 step 7).
	StorageRoot string

	// PrimarySources, DefaultSource, and AdditionalSources are tried in
	// that order (spec.md §4.5 step 3). DefaultSource is mandatory;
	// PrimarySources/AdditionalSources may be empty.
	PrimarySources    []URLSource
	DefaultSource     URLSource
	AdditionalSources []URLSource

	// TryOnlyFirst restricts URL selection to the very first candidate,
	// for smoke tests (spec.md §4.5 step 3).
	TryOnlyFirst bool

	// MaxBytes caps a single archive download; 0 means defaultMaxBytes.
	MaxBytes int64

	// AccessTable, if set, has RelocateStamps called against a freshly
	// unpacked directory so subsequent generated-file checks don't
	// treat every unpacked file as stale.
	AccessTable *accesstable.AccessTable

	// UnpackDirectory returns the project-declared unpack_directory for
	// dep, or "" if none (spec.md §4.3's "unpack relocation"). Optional.
	UnpackDirectory func(dep *pkg.Dependency) string

	// SpecFileName is excluded from unpack_directory relocation (it's
	// expected to remain at the unpack root).
	SpecFileName string

	log *logrus.Entry
}

// New builds a Pipeline with sensible defaults.
func New(storageRoot string) *Pipeline {
	return &Pipeline{
		StorageRoot:  storageRoot,
		MaxBytes:     defaultMaxBytes,
		SpecFileName: "cppan.yml",
		log:          logrus.WithField("component", "fetch"),
	}
}

func (p *Pipeline) logger() *logrus.Entry {
	if p.log == nil {
		return logrus.WithField("component", "fetch")
	}
	return p.log
}

func (p *Pipeline) unpackDir(dep *pkg.Dependency) string {
	return dep.Package.StoragePath(filepath.Join(p.StorageRoot, "src"))
}

func (p *Pipeline) stampPath(dep *pkg.Dependency) string {
	return p.unpackDir(dep) + ".sha256"
}

func (p *Pipeline) lockPath(dep *pkg.Dependency) string {
	return filepath.Join(p.StorageRoot, "etc", "locks", dep.Package.TargetName()+".lock")
}

// Ensure runs stages 1-8 of spec.md §4.5 for dep: it is a no-op if the
// stamp already matches dep.SHA256, otherwise it downloads, verifies,
// cleans, unpacks, relocates, and re-stamps.
func (p *Pipeline) Ensure(ctx context.Context, dep *pkg.Dependency) error {
	log := p.logger().WithField("package", dep.Package.TargetName())

	// Stage 1: freshness check.
	if fresh, err := p.stampMatches(dep); err != nil {
		return err
	} else if fresh {
		log.Debug("stamp matches catalog hash, skipping fetch")
		return nil
	}

	// Stage 2: acquire the per-package fetch lock, waiting if another
	// process already holds it.
	lockPath := p.lockPath(dep)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return errors.Wrap(err, "creating lock directory")
	}
	lock := flock.NewFlock(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "acquiring fetch lock")
	}
	if !locked {
		log.Debug("fetch lock held by another process, waiting")
		if err := lock.Lock(); err != nil {
			return errors.Wrap(err, "waiting for fetch lock")
		}
	}
	defer lock.Unlock()

	// Someone may have finished the fetch while we waited for the lock.
	if fresh, err := p.stampMatches(dep); err != nil {
		return err
	} else if fresh {
		log.Debug("fetch completed by the lock holder, registering without re-downloading")
		return nil
	}

	// Stages 4-5: download and verify. downloadFromSources already turns
	// a sha256 mismatch into *catalog.ErrLocalDbHash (dep.RemoteName
	// unset, i.e. resolved from the local catalog) or *ErrBadArchiveHash
	// (dep.RemoteName set, i.e. already remote-sourced), per spec.md §4.5
	// step 5 and the resolver's remote-downgrade-and-retry path.
	archivePath, digests, err := p.downloadFromSources(ctx, dep)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	unpackDir := p.unpackDir(dep)

	// Stage 6: clean any previous unpacked version.
	if err := os.RemoveAll(unpackDir); err != nil {
		return errors.Wrapf(err, "cleaning previous unpack of %s", unpackDir)
	}
	if err := os.MkdirAll(filepath.Dir(unpackDir), 0o755); err != nil {
		return errors.Wrap(err, "creating storage parent directory")
	}

	// Stage 7: unpack.
	if err := extractArchive(archivePath, unpackDir); err != nil {
		os.RemoveAll(unpackDir)
		return errors.Wrapf(err, "unpacking %s", dep.Package.TargetName())
	}

	if p.UnpackDirectory != nil {
		if sub := p.UnpackDirectory(dep); sub != "" {
			if err := relocateIntoSubdir(unpackDir, sub, p.SpecFileName); err != nil {
				return errors.Wrap(err, "relocating into unpack_directory")
			}
		}
	}
	if p.AccessTable != nil {
		if err := p.AccessTable.RelocateStamps(unpackDir); err != nil {
			log.WithError(err).Warn("relocating access table stamps after unpack")
		}
	}

	// Stage 8: update stamp.
	if err := writeStamp(p.stampPath(dep), digests.SHA256); err != nil {
		return err
	}

	return nil
}

func (p *Pipeline) stampMatches(dep *pkg.Dependency) (bool, error) {
	raw, err := os.ReadFile(p.stampPath(dep))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reading fetch stamp")
	}
	return strings.TrimSpace(string(raw)) == dep.SHA256, nil
}

func writeStamp(path, sha256 string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating stamp directory")
	}
	return errors.Wrap(os.WriteFile(path, []byte(sha256), 0o644), "writing fetch stamp")
}

// downloadFromSources tries each URL source in priority order (primary,
// then default, then additional), accepting the first whose downloaded
// archive's sha256 matches dep.SHA256 (spec.md §4.5 steps 3-4).
func (p *Pipeline) downloadFromSources(ctx context.Context, dep *pkg.Dependency) (string, archiveio.Digests, error) {
	sources := p.orderedSources()
	if len(sources) == 0 {
		return "", archiveio.Digests{}, errors.New("no URL sources configured")
	}
	if p.TryOnlyFirst {
		sources = sources[:1]
	}

	maxBytes := p.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}

	tmpDir := filepath.Join(p.StorageRoot, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", archiveio.Digests{}, errors.Wrap(err, "creating temp download directory")
	}

	var lastErr error
	for _, src := range sources {
		u, err := src.URL(dep.Package)
		if err != nil {
			lastErr = err
			continue
		}
		dest := filepath.Join(tmpDir, dep.Package.TargetName()+archiveExt(u))
		digests, err := archiveio.Download(ctx, u, dest, maxBytes)
		if err != nil {
			lastErr = err
			continue
		}
		if digests.SHA256 != dep.SHA256 {
			os.Remove(dest)
			if dep.RemoteName == "" {
				lastErr = &catalog.ErrLocalDbHash{Path: dep.Package.Path.String()}
			} else {
				lastErr = &ErrBadArchiveHash{Path: dep.Package.Path.String(), Want: dep.SHA256, Got: digests.SHA256}
			}
			continue
		}
		return dest, digests, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no URL source produced a matching archive")
	}
	return "", archiveio.Digests{}, lastErr
}

func (p *Pipeline) orderedSources() []URLSource {
	var out []URLSource
	out = append(out, p.PrimarySources...)
	if p.DefaultSource != nil {
		out = append(out, p.DefaultSource)
	}
	out = append(out, p.AdditionalSources...)
	return out
}

func archiveExt(u string) string {
	switch {
	case strings.HasSuffix(u, ".tar.gz"), strings.HasSuffix(u, ".tgz"):
		return ".tar.gz"
	default:
		return ".zip"
	}
}

func extractArchive(archivePath, dir string) error {
	if strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz") {
		return archiveio.ExtractTarGz(archivePath, dir)
	}
	return archiveio.ExtractZip(archivePath, dir)
}

// relocateIntoSubdir moves every top-level entry of dir (except
// specFile) into dir/sub, per spec.md §4.3's unpack relocation.
func relocateIntoSubdir(dir, sub, specFile string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "reading unpacked directory %s", dir)
	}
	target := filepath.Join(dir, sub)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errors.Wrap(err, "creating unpack_directory")
	}
	for _, e := range entries {
		if e.Name() == sub || e.Name() == specFile {
			continue
		}
		oldPath := filepath.Join(dir, e.Name())
		newPath := filepath.Join(target, e.Name())
		if err := os.Rename(oldPath, newPath); err != nil {
			return errors.Wrapf(err, "moving %s into %s", e.Name(), sub)
		}
	}
	return nil
}

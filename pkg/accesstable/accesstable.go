// Package accesstable implements the mtime oracle that decides whether
// a generated sidecar file (a CMake config, an export header) needs to
// be rewritten: content identical to what's on disk is left alone so a
// downstream build tool doesn't see a spurious timestamp change.
//
// Grounded on _examples/original_source/src/common/access_table.cpp's
// AccessTable/AccessData pair.
package accesstable

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/servicedb"
)

// store is the reference-counted backing state AccessData held as a
// package-level global in the original: stamps are loaded from the
// service database on first Open of a given DB and flushed back on the
// last matching Close, so concurrent AccessTable handles onto the same
// database share one in-memory stamp map instead of racing separate
// SQLite round trips.
type store struct {
	mu          sync.Mutex
	db          *servicedb.DB
	stamps      map[string]time.Time
	refs        int
	doNotUpdate bool
}

var (
	registryMu sync.Mutex
	registry   = map[*servicedb.DB]*store{}
)

func acquire(db *servicedb.DB) (*store, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	s, ok := registry[db]
	if !ok {
		s = &store{db: db}
		registry[db] = s
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		stamps, err := db.GetFileStamps()
		if err != nil {
			return nil, errors.Wrap(err, "loading file stamps")
		}
		s.stamps = stamps
	}
	s.refs++
	return s, nil
}

func release(s *store) error {
	s.mu.Lock()
	s.refs--
	done := s.refs == 0
	var stamps map[string]time.Time
	if done {
		stamps = s.stamps
	}
	s.mu.Unlock()

	if !done {
		return nil
	}

	registryMu.Lock()
	delete(registry, s.db)
	registryMu.Unlock()

	return s.db.SetFileStamps(stamps)
}

// AccessTable tracks which files under root have already been written
// with their current content, so repeated regeneration of the same
// config file is a no-op.
type AccessTable struct {
	root string
	s    *store
}

// Open acquires a handle onto db's FileStamps, shared with any other
// AccessTable already open on the same db.
func Open(db *servicedb.DB, root string) (*AccessTable, error) {
	s, err := acquire(db)
	if err != nil {
		return nil, err
	}
	return &AccessTable{root: root, s: s}, nil
}

// Close flushes the shared stamp map back to the service database once
// every handle referencing it has been closed.
func (a *AccessTable) Close() error { return release(a.s) }

// SetUpdatesDisabled matches do_not_update_files: when set,
// MustUpdateContents reports false for any path that exists, inside or
// outside root; a missing path still reports true.
func (a *AccessTable) SetUpdatesDisabled(v bool) {
	a.s.mu.Lock()
	a.s.doNotUpdate = v
	a.s.mu.Unlock()
}

func (a *AccessTable) isUnderRoot(p string) bool {
	rel, err := filepath.Rel(a.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." && (len(rel) == 2 || os.IsPathSeparator(rel[2]))
}

// MustUpdateContents reports whether p needs to be (re)written: it does
// if it doesn't exist, if it sits outside root (untracked, so always
// write), or if its on-disk mtime no longer matches the last stamp this
// table recorded for it. Updates-disabled mode short-circuits to false
// for any path that exists.
func (a *AccessTable) MustUpdateContents(p string) (bool, error) {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "stat %s", p)
	}

	a.s.mu.Lock()
	disabled := a.s.doNotUpdate
	a.s.mu.Unlock()
	if disabled {
		return false, nil
	}

	if !a.isUnderRoot(p) {
		return true, nil
	}

	a.s.mu.Lock()
	stamp, ok := a.s.stamps[p]
	a.s.mu.Unlock()
	if !ok {
		return true, nil
	}
	return !info.ModTime().Equal(stamp), nil
}

// UpdateContents writes s to p only if its content differs from what's
// already there, then records its resulting mtime.
func (a *AccessTable) UpdateContents(p, s string) error {
	if err := writeFileIfDifferent(p, s); err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return errors.Wrapf(err, "stat %s after write", p)
	}
	a.s.mu.Lock()
	if a.s.stamps == nil {
		a.s.stamps = map[string]time.Time{}
	}
	a.s.stamps[p] = info.ModTime()
	a.s.mu.Unlock()
	return nil
}

// WriteIfOlder writes s to p if p is untracked (outside root) or its
// contents are stale, mirroring write_if_older's "always write outside
// the managed tree" escape hatch.
func (a *AccessTable) WriteIfOlder(p, s string) error {
	if !a.isUnderRoot(p) {
		return writeFileIfDifferent(p, s)
	}
	must, err := a.MustUpdateContents(p)
	if err != nil {
		return err
	}
	if must {
		return a.UpdateContents(p, s)
	}
	return nil
}

// Clear drops every tracked stamp and empties the backing FileStamps
// table, forcing every managed file to be rewritten on next touch.
func (a *AccessTable) Clear() error {
	a.s.mu.Lock()
	a.s.stamps = map[string]time.Time{}
	a.s.mu.Unlock()
	return a.s.db.ClearFileStamps()
}

// Remove drops every tracked stamp whose path is under prefix, used
// when a package's unpack_directory is relocated and its old stamps no
// longer apply.
func (a *AccessTable) Remove(prefix string) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for p := range a.s.stamps {
		rel, err := filepath.Rel(prefix, p)
		if err == nil && rel != ".." && !filepathHasDotDotPrefix(rel) {
			delete(a.s.stamps, p)
		}
	}
}

// RelocateStamps walks newRoot with godirwalk and, for every regular
// file found there that isn't yet tracked, seeds a stamp from its
// current mtime — used after unpacking a package into a fresh
// unpack_directory so subsequent MustUpdateContents calls don't treat
// every file in it as stale.
func (a *AccessTable) RelocateStamps(newRoot string) error {
	a.s.mu.Lock()
	if a.s.stamps == nil {
		a.s.stamps = map[string]time.Time{}
	}
	a.s.mu.Unlock()

	return godirwalk.Walk(newRoot, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			info, err := os.Stat(osPathname)
			if err != nil {
				return nil
			}
			a.s.mu.Lock()
			if _, ok := a.s.stamps[osPathname]; !ok {
				a.s.stamps[osPathname] = info.ModTime()
			}
			a.s.mu.Unlock()
			return nil
		},
		Unsorted: true,
	})
}

func writeFileIfDifferent(p, s string) error {
	existing, err := os.ReadFile(p)
	if err == nil && string(existing) == s {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "creating parent directory for %s", p)
	}
	return errors.Wrapf(os.WriteFile(p, []byte(s), 0o644), "writing %s", p)
}

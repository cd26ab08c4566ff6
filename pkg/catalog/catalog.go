// Package catalog is the local SQLite mirror of the remote package
// graph (spec.md §4.2): a Projects/ProjectVersions/ProjectVersionDependencies
// schema kept in sync with a Remote by periodic re-mirroring, queried by
// the resolver in preference to the network when it is fresh enough.
//
// Grounded on _examples/original_source/src/common/database.cpp's
// PackagesDatabase, adapted from the teacher's plain-SQL style (no ORM)
// seen across internal/gps.
package catalog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/theckman/go-flock"

	"github.com/cppan/cppan/pkg/pkgpath"
)

// packagesTimeFile records the wall-clock time of the last successful
// mirror refresh, compared against TTL on every Open/Refresh call
// (spec.md §4.2's "15 minute TTL").
const packagesTimeFile = "packages.time"

// schemaVersionStore is the subset of *servicedb.DB the catalog uses to
// persist the remote schema.version it last observed, so a "matching but
// changed" schema (spec.md §4.2) can be detected across runs even when
// the observed value happens to still equal SchemaVersion. Declared
// narrowly here, rather than importing servicedb's concrete type
// directly into every call site, following the same pattern as
// pkg/resolver's Local/Remote interfaces.
type schemaVersionStore interface {
	GetPackagesDBSchemaVersion() (int, error)
	SetPackagesDBSchemaVersion(v int) error
}

// Catalog wraps the packages.db SQLite handle plus the directory its
// mirrored git/archive copy lives in.
type Catalog struct {
	db       *sql.DB
	dir      string // etc/database
	repoDir  string // etc/database/repository, the mirrored copy
	remote   Remote
	ttl      time.Duration
	versions schemaVersionStore
	log      *logrus.Entry
}

// Open opens (creating and mirroring if necessary) the catalog rooted at
// dir, using remote to refresh it. ttl bounds how long a previously
// mirrored copy is trusted before Refresh re-mirrors it. versions
// persists the remote schema.version last observed across runs
// (*servicedb.DB satisfies this); it may be nil, which disables the
// "matching but changed schema" recreate path.
func Open(dir string, remote Remote, ttl time.Duration, versions schemaVersionStore) (*Catalog, error) {
	c := &Catalog{
		dir:      dir,
		repoDir:  filepath.Join(dir, "repository"),
		remote:   remote,
		ttl:      ttl,
		versions: versions,
		log:      logrus.WithField("component", "catalog"),
	}

	dbPath := filepath.Join(dir, "packages.db")

	if err := c.checkSchemaVersion(); err != nil {
		return nil, err
	}
	fresh := !fileExists(dbPath)

	lock := flock.NewFlock(filepath.Join(dir, "packages.db.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring catalog lock")
	}
	if locked {
		defer lock.Unlock()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening packages.db")
	}
	c.db = db

	if fresh {
		if err := c.createSchema(); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := c.Refresh(false); err != nil {
		c.log.WithError(err).Warn("catalog refresh failed, continuing with existing mirror")
	}

	return c, nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// schemaMarker is the TOML sidecar written next to packages.db, read
// before the (possibly incompatible) database file is even opened.
type schemaMarker struct {
	Version int `toml:"version"`
}

func (c *Catalog) createSchema() error {
	if _, err := c.db.Exec(schema); err != nil {
		return errors.Wrap(err, "creating catalog schema")
	}
	buf, err := toml.Marshal(schemaMarker{Version: SchemaVersion})
	if err != nil {
		return errors.Wrap(err, "encoding schema version marker")
	}
	return os.WriteFile(filepath.Join(c.dir, schemaVersionFile), buf, 0o644)
}

// checkSchemaVersion compares the on-disk marker against SchemaVersion
// and wipes the database (forcing a fresh create+load) on mismatch,
// mirroring readPackagesDbSchemaVersion/writePackagesDbSchemaVersion.
func (c *Catalog) checkSchemaVersion() error {
	marker := filepath.Join(c.dir, schemaVersionFile)
	raw, err := os.ReadFile(marker)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading schema version marker")
	}
	var m schemaMarker
	if err := toml.Unmarshal(raw, &m); err != nil {
		return errors.Wrap(err, "parsing schema version marker")
	}
	if m.Version == SchemaVersion {
		return nil
	}
	c.log.Infof("catalog schema version %d != %d, rebuilding", m.Version, SchemaVersion)
	for _, name := range []string{"packages.db", schemaVersionFile, packagesTimeFile} {
		os.Remove(filepath.Join(c.dir, name))
	}
	return nil
}

// Refresh re-mirrors the catalog from its Remote if the TTL has
// elapsed, then reloads the SQLite tables from the mirror's CSV dump.
// force bypasses the TTL check (used by --refresh-catalog-style flows)
// and also bypasses the cheap db.version pre-check below.
//
// Before paying for a full re-mirror (a git clone/pull or an archive
// download), Refresh performs spec.md §4.2's "small version file"
// pre-check: it asks the Remote for its current db.version and compares
// it against the value cached from the last successful full mirror. If
// the remote hasn't advanced, Refresh just pushes the TTL stamp out
// instead of re-mirroring.
func (c *Catalog) Refresh(force bool) error {
	if !force && !c.ttlExpired() {
		return nil
	}

	if !force {
		switch proceed, err := c.precheckRemoteVersion(context.Background()); {
		case err != nil:
			c.log.WithError(err).Debug("remote db.version pre-check failed, mirroring anyway")
		case !proceed:
			c.log.Debug("remote db.version has not advanced, skipping full re-mirror")
			return c.touchPackagesTime()
		}
	}

	if err := c.remote.mirrorCatalog(context.Background(), c.repoDir); err != nil {
		return errors.Wrap(err, "mirroring catalog")
	}

	changed, err := c.reconcileSchemaVersion()
	if err != nil {
		return err
	}
	if changed {
		c.log.Info("mirrored schema version changed since last observed, recreating data tables")
		if err := c.recreateDataTables(); err != nil {
			return errors.Wrap(err, "recreating data tables for changed schema")
		}
	}

	if err := c.loadFromMirror(); err != nil {
		return errors.Wrap(err, "loading catalog from mirror")
	}
	if err := c.cacheRemoteDBVersion(); err != nil {
		return err
	}
	return c.touchPackagesTime()
}

func (c *Catalog) touchPackagesTime() error {
	now := time.Now().Format(time.RFC3339)
	return errors.Wrap(os.WriteFile(filepath.Join(c.dir, packagesTimeFile), []byte(now), 0o644), "writing packages.time")
}

// precheckRemoteVersion reports whether Refresh should go ahead with a
// full re-mirror: true unless the remote's cheaply-fetched db.version is
// no greater than the value cached from the last full mirror. Any error
// fetching or parsing the remote version is treated as "proceed", so a
// remote that doesn't support the pre-check still gets mirrored.
func (c *Catalog) precheckRemoteVersion(ctx context.Context) (bool, error) {
	remoteDB, err := c.remote.fetchRemoteDBVersion(ctx)
	if err != nil {
		return true, err
	}
	localDB, err := readIntFile(filepath.Join(c.dir, dbVersionFile))
	if err != nil {
		return true, err
	}
	return remoteDB > localDB, nil
}

func (c *Catalog) cacheRemoteDBVersion() error {
	db, err := readIntFile(filepath.Join(c.repoDir, dbVersionFile))
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(filepath.Join(c.dir, dbVersionFile), []byte(strconv.Itoa(db)), 0o644), "caching db.version")
}

// reconcileSchemaVersion reads the freshly-mirrored bundle's own
// schema.version (spec.md §6 wire format, inside repoDir) and compares
// it against this client's compile-time SchemaVersion, per spec.md
// §4.2's schema-versioning rules: a remote ahead of the client is a
// fatal ErrSchemaVersionSkew asking for a client upgrade; a remote
// behind the client is a fatal ErrSchemaVersionSkew asking the caller
// to wait for the server. When the versions match, it reports whether
// the schema differs from what this client last observed (persisted via
// the schemaVersionStore), which drives the data-table recreate.
func (c *Catalog) reconcileSchemaVersion() (changed bool, err error) {
	remoteSchema, err := readIntFile(filepath.Join(c.repoDir, schemaVersionFile))
	if err != nil {
		return false, err
	}
	if remoteSchema == 0 {
		// No schema.version shipped in this mirror; nothing to reconcile.
		return false, nil
	}
	if remoteSchema > SchemaVersion {
		return false, &ErrSchemaVersionSkew{ClientTooOld: true, Remote: remoteSchema, Client: SchemaVersion}
	}
	if remoteSchema < SchemaVersion {
		return false, &ErrSchemaVersionSkew{ClientTooOld: false, Remote: remoteSchema, Client: SchemaVersion}
	}

	if c.versions == nil {
		return false, nil
	}
	last, err := c.versions.GetPackagesDBSchemaVersion()
	if err != nil {
		return false, errors.Wrap(err, "reading last observed packages db schema version")
	}
	if err := c.versions.SetPackagesDBSchemaVersion(remoteSchema); err != nil {
		return false, errors.Wrap(err, "recording observed packages db schema version")
	}
	return last != remoteSchema, nil
}

// recreateDataTables drops and recreates every data table inside a
// single transaction (spec.md §4.2's "matching but changed schema"
// path), foreign-key-checks suspended for the duration exactly as
// loadFromMirror suspends them for the CSV reload that follows.
func (c *Catalog) recreateDataTables() error {
	if _, err := c.db.Exec(`PRAGMA foreign_keys = OFF;`); err != nil {
		return errors.Wrap(err, "disabling foreign keys")
	}
	defer c.db.Exec(`PRAGMA foreign_keys = ON;`)

	tx, err := c.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning schema recreate transaction")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for i := len(dataTables) - 1; i >= 0; i-- {
		if _, err := tx.Exec(`drop table if exists "` + dataTables[i] + `"`); err != nil {
			return errors.Wrapf(err, "dropping table %s", dataTables[i])
		}
	}
	if _, err := tx.Exec(schema); err != nil {
		return errors.Wrap(err, "recreating catalog schema")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing schema recreate")
	}
	committed = true
	return nil
}

// readIntFile reads path as a trimmed plain-text integer, returning 0
// for a missing file (an old-style mirror/cache that predates the
// version marker).
func readIntFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "reading %s", path)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", path)
	}
	return n, nil
}

func (c *Catalog) ttlExpired() bool {
	raw, err := os.ReadFile(filepath.Join(c.dir, packagesTimeFile))
	if err != nil {
		return true
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return true
	}
	return time.Since(t) > c.ttl
}

// Close releases the underlying SQLite handle.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// LookupProject resolves a package path to its row id, type, and flags,
// returning ErrPackageNotFound when absent (spec.md §4.2 step 1).
func (c *Catalog) LookupProject(p pkgpath.Path) (id int64, typeID int, flags int64, err error) {
	row := c.db.QueryRow(`select id, type_id, flags from Projects where path = ?`, p.String())
	err = row.Scan(&id, &typeID, &flags)
	if err == sql.ErrNoRows {
		return 0, 0, 0, &ErrPackageNotFound{Path: p.String()}
	}
	if err != nil {
		return 0, 0, 0, errors.Wrapf(err, "looking up project %s", p.String())
	}
	return id, typeID, flags, nil
}

// ProjectRef is a lightweight row reference returned by queries that
// don't need the full ProjectVersion machinery.
type ProjectRef struct {
	ID    int64
	Path  pkgpath.Path
	Flags int64
}

// escapeLikePattern escapes SQLite LIKE's own wildcard characters ('%'
// and '_', both valid in a spec.md §3 package path element) so a LIKE
// prefix match compares literal path elements rather than treating a
// package path's underscores as single-character wildcards.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// RootProjectChildren returns the Library/Executable rows whose path is
// a child of root, per spec.md §4.2 step 2's RootProject expansion.
func (c *Catalog) RootProjectChildren(root pkgpath.Path) ([]ProjectRef, error) {
	rows, err := c.db.Query(
		`select id, path, flags from Projects where path like ? escape '\' and type_id in (?, ?) order by path`,
		escapeLikePattern(root.String())+".%", projectTypeLibrary, projectTypeExecutable,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding root project %s", root.String())
	}
	defer rows.Close()

	var out []ProjectRef
	for rows.Next() {
		var id int64
		var path string
		var flags int64
		if err := rows.Scan(&id, &path, &flags); err != nil {
			return nil, errors.Wrap(err, "scanning root project child")
		}
		p, err := pkgpath.Parse(path)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing child path %q", path)
		}
		out = append(out, ProjectRef{ID: id, Path: p, Flags: flags})
	}
	if len(out) == 0 {
		return nil, &ErrRootProjectEmpty{Path: root.String()}
	}
	return out, rows.Err()
}

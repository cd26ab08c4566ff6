// Package servicedb implements the local process-state SQLite database:
// installed-package bookkeeping, file mtime stamps, cached config
// hashes, per-dependency-set hashes used to decide whether a rebuild is
// needed, startup actions run once per schema/client change, and the
// client's self-upgrade throttle.
//
// Grounded on _examples/original_source/src/common/database.cpp's
// ServiceDatabase; adapted from the teacher's plain-database/sql style
// (no ORM) seen in pkg/catalog.
package servicedb

import (
	"database/sql"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// ClientStamp identifies the current build of cppan; a mismatch against
// the stored stamp means the client binary changed since the database
// was last touched, and triggers clearing FileStamps (ServiceDatabase's
// checkStamp). StartupActions are not run on a stamp change.
type ClientStamp string

// DB wraps the service.db SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the service database at path,
// applies the client-stamp check and bumps the run counter. It does not
// run startup actions (see PerformStartupActions).
func Open(path string, stamp ClientStamp) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening service.db")
	}
	d := &DB{db: sqldb}

	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return nil, errors.Wrap(err, "creating service db schema")
	}

	if err := d.checkStamp(stamp); err != nil {
		sqldb.Close()
		return nil, err
	}
	if _, err := d.IncreaseNumberOfRuns(); err != nil {
		sqldb.Close()
		return nil, err
	}

	return d, nil
}

// Close releases the underlying SQLite handle.
func (d *DB) Close() error { return d.db.Close() }

// checkStamp compares the stored ClientStamp against the running
// binary's; on mismatch it replaces the row and clears FileStamps, the
// signal that "usual stuff between versions" should happen.
func (d *DB) checkStamp(stamp ClientStamp) error {
	var current string
	err := d.db.QueryRow(`select stamp from ClientStamp limit 1`).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		_, err = d.db.Exec(`insert into ClientStamp (stamp) values (?)`, string(stamp))
		if err != nil {
			return errors.Wrap(err, "inserting client stamp")
		}
		return d.ClearFileStamps()
	case err != nil:
		return errors.Wrap(err, "reading client stamp")
	case current == string(stamp):
		return nil
	default:
		if _, err := d.db.Exec(`update ClientStamp set stamp = ?`, string(stamp)); err != nil {
			return errors.Wrap(err, "updating client stamp")
		}
		return d.ClearFileStamps()
	}
}

// GetFileStamps returns every (file, mtime) pair in FileStamps.
func (d *DB) GetFileStamps() (map[string]time.Time, error) {
	rows, err := d.db.Query(`select file, stamp from FileStamps`)
	if err != nil {
		return nil, errors.Wrap(err, "querying file stamps")
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var file string
		var stamp int64
		if err := rows.Scan(&file, &stamp); err != nil {
			return nil, errors.Wrap(err, "scanning file stamp")
		}
		out[file] = time.Unix(stamp, 0)
	}
	return out, rows.Err()
}

// SetFileStamps upserts every (file, mtime) pair in one transaction.
func (d *DB) SetFileStamps(stamps map[string]time.Time) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning file stamp update")
	}
	stmt, err := tx.Prepare(`replace into FileStamps (file, stamp) values (?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "preparing file stamp upsert")
	}
	for file, t := range stamps {
		if _, err := stmt.Exec(file, t.Unix()); err != nil {
			stmt.Close()
			tx.Rollback()
			return errors.Wrapf(err, "upserting stamp for %s", file)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// ClearFileStamps empties FileStamps.
func (d *DB) ClearFileStamps() error {
	_, err := d.db.Exec(`delete from FileStamps`)
	return errors.Wrap(err, "clearing file stamps")
}

// GetNumberOfRuns returns the current run counter before it is bumped.
func (d *DB) GetNumberOfRuns() (int, error) {
	var n int
	err := d.db.QueryRow(`select n_runs from NRuns`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "reading run count")
	}
	return n, nil
}

// IncreaseNumberOfRuns bumps the run counter and returns its previous
// value.
func (d *DB) IncreaseNumberOfRuns() (int, error) {
	prev, err := d.GetNumberOfRuns()
	if err != nil {
		return 0, err
	}
	if _, err := d.db.Exec(`update NRuns set n_runs = n_runs + 1`); err != nil {
		return 0, errors.Wrap(err, "incrementing run count")
	}
	return prev, nil
}

// GetPackagesDBSchemaVersion returns the schema version this client last
// observed the catalog mirror advertising.
func (d *DB) GetPackagesDBSchemaVersion() (int, error) {
	var v int
	err := d.db.QueryRow(`select version from PackagesDbSchemaVersion`).Scan(&v)
	if err != nil {
		return 0, errors.Wrap(err, "reading packages db schema version")
	}
	return v, nil
}

// SetPackagesDBSchemaVersion records a new observed schema version.
func (d *DB) SetPackagesDBSchemaVersion(v int) error {
	_, err := d.db.Exec(`update PackagesDbSchemaVersion set version = ?`, v)
	return errors.Wrap(err, "writing packages db schema version")
}

// ClearConfigHashes empties ConfigHashes; --clear-cache calls it.
func (d *DB) ClearConfigHashes() error {
	_, err := d.db.Exec(`delete from ConfigHashes`)
	return errors.Wrap(err, "clearing config hashes")
}

// ClearConfigHashesMatching deletes every ConfigHashes row whose cached
// config text matches re, returning the count removed. SQLite has no
// built-in regex operator, so rows are read back and filtered in Go
// before deleting by key, the same two-step "load, filter client-side,
// delete" shape the original's --clear-vars-cache uses. The regex is
// matched against the config text, not against a target name.
func (d *DB) ClearConfigHashesMatching(re *regexp.Regexp) (int, error) {
	rows, err := d.db.Query(`select hash, config from ConfigHashes`)
	if err != nil {
		return 0, errors.Wrap(err, "listing config hashes")
	}
	var toDelete []string
	for rows.Next() {
		var hash, config string
		if err := rows.Scan(&hash, &config); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scanning config hash row")
		}
		if re.MatchString(config) {
			toDelete = append(toDelete, hash)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "iterating config hashes")
	}
	rows.Close()

	for _, hash := range toDelete {
		if _, err := d.db.Exec(`delete from ConfigHashes where hash = ?`, hash); err != nil {
			return 0, errors.Wrapf(err, "deleting config hash %s", hash)
		}
	}
	return len(toDelete), nil
}

// GetConfigByHash returns the cached generated config text for a
// settings hash, or "" if absent.
func (d *DB) GetConfigByHash(settingsHash string) (string, error) {
	var config string
	err := d.db.QueryRow(`select config from ConfigHashes where hash = ?`, settingsHash).Scan(&config)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "reading cached config")
	}
	return config, nil
}

// AddConfigHash caches config text (and its own hash) under
// settingsHash; a blank config is a no-op (matches the original's
// early-return on empty config).
func (d *DB) AddConfigHash(settingsHash, config, configHash string) error {
	if config == "" {
		return nil
	}
	_, err := d.db.Exec(`replace into ConfigHashes (hash, config, config_hash) values (?, ?, ?)`, settingsHash, config, configHash)
	return errors.Wrap(err, "caching config hash")
}

// SetPackageDependenciesHash records the dependency-set hash last used
// to build p, so a future run can tell whether p's resolved dependency
// set has changed since.
func (d *DB) SetPackageDependenciesHash(p pkg.Package, hash string) error {
	_, err := d.db.Exec(`replace into PackageDependenciesHashes (package, dependencies) values (?, ?)`, p.TargetName(), hash)
	return errors.Wrap(err, "recording package dependencies hash")
}

// HasPackageDependenciesHash reports whether hash matches the last
// recorded dependency-set hash for p.
func (d *DB) HasPackageDependenciesHash(p pkg.Package, hash string) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`select count(*) from PackageDependenciesHashes where package = ? and dependencies = ?`,
		p.TargetName(), hash,
	).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "checking package dependencies hash")
	}
	return n > 0, nil
}

// AddInstalledPackage upserts p into InstalledPackages with its current
// filesystem hash, skipping the write if the hash is unchanged.
func (d *DB) AddInstalledPackage(p pkg.Package, filesystemHash string) error {
	existing, err := d.GetInstalledPackageHash(p)
	if err != nil {
		return err
	}
	if existing == filesystemHash {
		return nil
	}
	_, err = d.db.Exec(
		`insert into InstalledPackages (package, version, hash) values (?, ?, ?)
		 on conflict(package, version) do update set hash = excluded.hash`,
		p.Path.String(), p.Version.String(), filesystemHash,
	)
	return errors.Wrap(err, "recording installed package")
}

// RemoveInstalledPackage deletes p's InstalledPackages row.
func (d *DB) RemoveInstalledPackage(p pkg.Package) error {
	_, err := d.db.Exec(`delete from InstalledPackages where package = ? and version = ?`, p.Path.String(), p.Version.String())
	return errors.Wrap(err, "removing installed package")
}

// GetInstalledPackageHash returns the recorded filesystem hash for p, or
// "" if it isn't installed.
func (d *DB) GetInstalledPackageHash(p pkg.Package) (string, error) {
	var hash string
	err := d.db.QueryRow(`select hash from InstalledPackages where package = ? and version = ?`, p.Path.String(), p.Version.String()).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "reading installed package hash")
	}
	return hash, nil
}

// GetInstalledPackages lists every (path, version) pair in
// InstalledPackages.
func (d *DB) GetInstalledPackages() ([]pkg.Package, error) {
	rows, err := d.db.Query(`select package, version from InstalledPackages`)
	if err != nil {
		return nil, errors.Wrap(err, "listing installed packages")
	}
	defer rows.Close()

	var out []pkg.Package
	for rows.Next() {
		var path, vs string
		if err := rows.Scan(&path, &vs); err != nil {
			return nil, errors.Wrap(err, "scanning installed package")
		}
		p, err := pkgpath.Parse(path)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing installed package path %q", path)
		}
		v, err := version.Parse(vs)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing installed package version %q", vs)
		}
		out = append(out, pkg.New(p, v, 0))
	}
	return out, rows.Err()
}

// GetLastClientUpdateCheck returns the stored NextClientVersionCheck
// timestamp (the zero value if it was never set).
func (d *DB) GetLastClientUpdateCheck() (time.Time, error) {
	var ts int64
	err := d.db.QueryRow(`select timestamp from NextClientVersionCheck`).Scan(&ts)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading last client update check")
	}
	if ts == 0 {
		return time.Time{}, nil
	}
	return time.Unix(ts, 0), nil
}

// SetLastClientUpdateCheck stamps NextClientVersionCheck with the
// current time.
func (d *DB) SetLastClientUpdateCheck(now time.Time) error {
	_, err := d.db.Exec(`update NextClientVersionCheck set timestamp = ?`, now.Unix())
	return errors.Wrap(err, "writing last client update check")
}

// GetTableHash returns the hash TableHashes recorded the last time
// table's CREATE TABLE statement was applied.
func (d *DB) GetTableHash(table string) (string, error) {
	var h string
	err := d.db.QueryRow(`select hash from TableHashes where tbl = ?`, table).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "reading table hash")
	}
	return h, nil
}

// SetTableHash upserts the hash for table.
func (d *DB) SetTableHash(table, hash string) error {
	_, err := d.db.Exec(`replace into TableHashes (tbl, hash) values (?, ?)`, table, hash)
	return errors.Wrap(err, "writing table hash")
}

// IsActionPerformed reports whether the given (id, action) pair has
// already run, per StartupActions.
func (d *DB) IsActionPerformed(id, action int) (bool, error) {
	var n int
	err := d.db.QueryRow(`select count(*) from StartupActions where id = ? and action = ?`, id, action).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "checking startup action")
	}
	return n == 1, nil
}

// SetActionPerformed records that (id, action) has run.
func (d *DB) SetActionPerformed(id, action int) error {
	_, err := d.db.Exec(`insert into StartupActions (id, action) values (?, ?)`, id, action)
	return errors.Wrap(err, "recording startup action")
}

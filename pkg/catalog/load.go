package catalog

import (
	"bufio"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// dataTables lists the catalog tables loaded from the mirror, in the
// order ProjectVersions/ProjectVersionDependencies' foreign keys
// require (Projects first).
var dataTables = []string{"Projects", "ProjectVersions", "ProjectVersionDependencies"}

// loadFromMirror truncates and reloads every data table from the
// semicolon-delimited CSV dumps the mirror carries (Projects.csv,
// ProjectVersions.csv, ProjectVersionDependencies.csv), one file per
// table, inside a single transaction with foreign key checks
// suspended for the duration — mirrors PackagesDatabase::load's
// PRAGMA foreign_keys off/on bracketing.
func (c *Catalog) loadFromMirror() error {
	if _, err := c.db.Exec(`PRAGMA foreign_keys = OFF;`); err != nil {
		return errors.Wrap(err, "disabling foreign keys")
	}
	defer c.db.Exec(`PRAGMA foreign_keys = ON;`)

	tx, err := c.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning load transaction")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, table := range dataTables {
		if _, err := tx.Exec(`delete from "` + table + `"`); err != nil {
			return errors.Wrapf(err, "clearing table %s", table)
		}

		path := filepath.Join(c.repoDir, table+".csv")
		n, err := columnCount(table)
		if err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
		stmt, err := tx.Prepare(`insert into "` + table + `" values (` + placeholders + `)`)
		if err != nil {
			return errors.Wrapf(err, "preparing insert for %s", table)
		}

		if err := loadCSVInto(stmt, path, n); err != nil {
			stmt.Close()
			return errors.Wrapf(err, "loading %s", table)
		}
		if err := stmt.Close(); err != nil {
			return errors.Wrapf(err, "finalizing insert for %s", table)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing load transaction")
	}
	committed = true
	return nil
}

func columnCount(table string) (int, error) {
	switch table {
	case "Projects":
		return 4, nil
	case "ProjectVersions":
		return 9, nil
	case "ProjectVersionDependencies":
		return 4, nil
	default:
		return 0, errors.Errorf("unknown data table %s", table)
	}
}

// loadCSVInto reads one semicolon-delimited row per line from path and
// executes stmt against each, treating an empty field as SQL NULL
// (matching the original's "empty string between separators -> bind
// null" rule). Missing files are tolerated as an empty table — a fresh
// mirror may not yet carry every table's dump.
func loadCSVInto(stmt *sql.Stmt, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		fields := strings.Split(text, ";")
		if len(fields) != n {
			return errors.Errorf("%s:%d: expected %d fields, got %d", path, line, n, len(fields))
		}
		args := make([]interface{}, n)
		for i, field := range fields {
			if field == "" {
				args[i] = nil
			} else {
				args[i] = field
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return errors.Wrapf(err, "%s:%d: inserting row", path, line)
		}
	}
	return errors.Wrapf(scanner.Err(), "reading %s", path)
}

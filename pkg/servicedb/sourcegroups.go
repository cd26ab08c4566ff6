package servicedb

import (
	"database/sql"

	"github.com/pkg/errors"
)

// SetSourceGroups records the set of files belonging to hash (a group of
// source files sharing one generated build target), replacing any
// previous group under that hash. Grounded on
// ServiceDatabase::setSourceGroups/removeSourceGroups.
func (d *DB) SetSourceGroups(hash string, files []string) error {
	if err := d.RemoveSourceGroups(hash); err != nil {
		return err
	}
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning source group insert")
	}
	var groupID int64
	res, err := tx.Exec(`insert into SourceGroups (hash) values (?)`, hash)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "inserting source group")
	}
	groupID, err = res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "reading source group id")
	}

	stmt, err := tx.Prepare(`insert into SourceGroupFiles (group_id, file) values (?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "preparing source group file insert")
	}
	for _, f := range files {
		if _, err := stmt.Exec(groupID, f); err != nil {
			stmt.Close()
			tx.Rollback()
			return errors.Wrapf(err, "inserting source group file %s", f)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// GetSourceGroups returns the files recorded under hash, or nil if no
// such group exists.
func (d *DB) GetSourceGroups(hash string) ([]string, error) {
	var groupID int64
	err := d.db.QueryRow(`select id from SourceGroups where hash = ?`, hash).Scan(&groupID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "looking up source group")
	}

	rows, err := d.db.Query(`select file from SourceGroupFiles where group_id = ?`, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "listing source group files")
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, errors.Wrap(err, "scanning source group file")
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// RemoveSourceGroups deletes the group under hash, if any.
func (d *DB) RemoveSourceGroups(hash string) error {
	var groupID int64
	err := d.db.QueryRow(`select id from SourceGroups where hash = ?`, hash).Scan(&groupID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "looking up source group to remove")
	}
	if _, err := d.db.Exec(`delete from SourceGroupFiles where group_id = ?`, groupID); err != nil {
		return errors.Wrap(err, "removing source group files")
	}
	_, err = d.db.Exec(`delete from SourceGroups where id = ?`, groupID)
	return errors.Wrap(err, "removing source group")
}

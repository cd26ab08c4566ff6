package catalog

import (
	"database/sql"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// processStart is the per-process start time the young-package rule is
// measured against.
var processStart = time.Now()

// FindDependencies resolves roots — the direct dependencies a project
// names — against the catalog, expanding RootProject entries to their
// Library/Executable children and recursively walking each chosen
// version's own dependency edges, memoized by catalog row id so a
// diamond-shaped graph is only queried once per id. Grounded on
// _examples/original_source/src/common/database.cpp's
// PackagesDatabase::findDependencies.
//
// youngWindow is the minimum age a ProjectVersions row must have before
// it is trusted locally, measured at processStart; a row younger than
// that makes the whole call fail with ErrYoungPackage so the resolver
// can fall back to the remote.
func (c *Catalog) FindDependencies(roots []pkg.Package, youngWindow time.Duration) (map[int64]*pkg.Dependency, error) {
	tstart := processStart
	all := make(map[int64]*pkg.Dependency)

	// resolveOne mirrors the original's find_deps lambda: projectFlags is
	// the Projects.flags column for this path, edgeFlags is the
	// ProjectVersionDependencies row that pointed at it (zero for a root).
	// The chosen ProjectVersions row's own flags are ORed in afterward,
	// same as getExactProjectVersionId OR-ing into its by-reference flags
	// parameter.
	var resolveOne func(p pkg.Package, projectFlags, edgeFlags pkg.Flags) error
	resolveOne = func(p pkg.Package, projectFlags, edgeFlags pkg.Flags) error {
		id, versionFlags, sha256, err := c.exactProjectVersionID(p, tstart, youngWindow)
		if err != nil {
			return err
		}
		if _, ok := all[id]; ok {
			return nil
		}

		dep := pkg.NewDependency(p, projectFlags, edgeFlags)
		dep.Package.Flags |= pkg.Flags(versionFlags)
		dep.SHA256 = sha256
		all[id] = dep

		edges, err := c.projectVersionDependencies(id)
		if err != nil {
			return err
		}
		dep.Edges = edges

		for _, edge := range edges {
			childPath, childFlags, err := c.projectPathAndFlags(edge.TargetID)
			if err != nil {
				return err
			}
			child := pkg.New(childPath, edge.Predicate, 0)
			if err := resolveOne(child, pkg.Flags(childFlags), edge.Flags); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if root.Flags.Has(pkg.FlagLocalProject) {
			continue
		}

		_, typeID, _, err := c.LookupProject(root.Path)
		if err != nil {
			return nil, err
		}

		if typeID == projectTypeRootProject {
			children, err := c.RootProjectChildren(root.Path)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				p := pkg.New(child.Path, root.Version, 0)
				if err := resolveOne(p, pkg.Flags(child.Flags), pkg.FlagDirectDependency); err != nil {
					return nil, err
				}
			}
		} else {
			if err := resolveOne(root, 0, pkg.FlagDirectDependency); err != nil {
				return nil, err
			}
		}
	}

	return all, nil
}

func (c *Catalog) projectPathAndFlags(projectID int64) (pkgpath.Path, int64, error) {
	row := c.db.QueryRow(`select path, flags from Projects where id = ?`, projectID)
	var path string
	var flags int64
	if err := row.Scan(&path, &flags); err != nil {
		return pkgpath.Path{}, 0, errors.Wrapf(err, "resolving project id %d", projectID)
	}
	p, err := pkgpath.Parse(path)
	if err != nil {
		return pkgpath.Path{}, 0, errors.Wrapf(err, "parsing path %q", path)
	}
	return p, flags, nil
}

// projectVersionDependencies returns one Edge per
// ProjectVersionDependencies row for projectVersionID, carrying that
// row's own flags only (FindDependencies merges them with the target's
// project flags, spec.md §4.2 step 4), ordered by path for deterministic
// traversal.
func (c *Catalog) projectVersionDependencies(projectVersionID int64) ([]pkg.Edge, error) {
	rows, err := c.db.Query(`
		select Projects.id, Projects.path, ProjectVersionDependencies.version, ProjectVersionDependencies.flags
		from ProjectVersionDependencies
		join Projects on project_dependency_id = Projects.id
		where project_version_id = ?
		order by Projects.path`, projectVersionID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying dependencies of version %d", projectVersionID)
	}
	defer rows.Close()

	var edges []pkg.Edge
	for rows.Next() {
		var targetID int64
		var path, predicateStr string
		var flags int64
		if err := rows.Scan(&targetID, &path, &predicateStr, &flags); err != nil {
			return nil, errors.Wrap(err, "scanning dependency row")
		}
		predicate, err := version.Parse(predicateStr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing predicate %q for %s", predicateStr, path)
		}
		edges = append(edges, pkg.Edge{TargetID: targetID, Predicate: predicate, Flags: pkg.Flags(flags)})
	}
	return edges, rows.Err()
}

// exactProjectVersionID implements the tiered version-matching lookup
// of getExactProjectVersionId: exactly one tier is queried, the one
// matching the predicate's specificity (an exact major.minor.patch
// match, or the latest row for each unspecified trailing field); there
// is no fall-through to a less specific tier. Branch rows are excluded
// from the numeric search and vice versa.
func (c *Catalog) exactProjectVersionID(p pkg.Package, tstart time.Time, youngWindow time.Duration) (id int64, flags int64, sha256 string, err error) {
	projectID, _, _, err := c.LookupProject(p.Path)
	if err != nil {
		return 0, 0, "", err
	}

	v := p.Version
	const baseSelect = `select id, major, minor, patch, flags, sha256, created from ProjectVersions where `

	if v.Kind() == version.KindBranch {
		row := c.db.QueryRow(baseSelect+`project_id = ? and branch = ?`, projectID, v.Branch())
		var rid int64
		var maj, min, pat sql.NullInt64
		var f int64
		var sh, created string
		scanErr := row.Scan(&rid, &maj, &min, &pat, &f, &sh, &created)
		if scanErr == sql.ErrNoRows {
			return 0, 0, "", &ErrVersionNotFound{Path: p.Path.String(), Predicate: v.String()}
		}
		if scanErr != nil {
			return 0, 0, "", errors.Wrap(scanErr, "querying branch version")
		}
		createdAt, parseErr := time.Parse(time.RFC3339, created)
		if parseErr == nil && tstart.Sub(createdAt) < youngWindow {
			return 0, 0, "", &ErrYoungPackage{Path: p.Path.String(), Version: v.String()}
		}
		return rid, f, sh, nil
	}

	major, minor, patch := fieldsOf(v)

	tiers := []struct {
		where string
		args  []interface{}
	}{
		{`project_id = ? and major = ? and minor = ? and patch = ?`, []interface{}{projectID, major, minor, patch}},
		{`project_id = ? and major = ? and minor = ? and branch is null order by patch desc limit 1`, []interface{}{projectID, major, minor}},
		{`project_id = ? and major = ? and branch is null order by minor desc, patch desc limit 1`, []interface{}{projectID, major}},
		{`project_id = ? and branch is null order by major desc, minor desc, patch desc limit 1`, []interface{}{projectID}},
	}

	// Only the tier matching the predicate's specificity is ever tried: an
	// exact patch request (patch != Unspecified) must match tier 0 exactly
	// and never fall through to a looser tier, mirroring the original's
	// "if (v.patch != -1) throw" guards — a query for "-1" never matches a
	// stored row, so a less specific predicate skips straight to the tier
	// that ignores the field it left unspecified.
	tier := 0
	switch {
	case patch != version.Unspecified:
		tier = 0
	case minor != version.Unspecified:
		tier = 1
	case major != version.Unspecified:
		tier = 2
	default:
		tier = 3
	}

	t := tiers[tier]
	row := c.db.QueryRow(baseSelect+t.where, t.args...)
	var rid int64
	var maj, min, pat sql.NullInt64
	var f int64
	var sh, created string
	scanErr := row.Scan(&rid, &maj, &min, &pat, &f, &sh, &created)
	if scanErr == sql.ErrNoRows {
		return 0, 0, "", &ErrVersionNotFound{Path: p.Path.String(), Predicate: v.String()}
	}
	if scanErr != nil {
		return 0, 0, "", errors.Wrap(scanErr, "querying project version")
	}
	createdAt, parseErr := time.Parse(time.RFC3339, created)
	if parseErr == nil && tstart.Sub(createdAt) < youngWindow {
		return 0, 0, "", &ErrYoungPackage{Path: p.Path.String(), Version: v.String()}
	}
	return rid, f, sh, nil
}

func fieldsOf(v version.Version) (major, minor, patch int) {
	return v.Fields()
}

// sortDependencyIDs returns the keys of a resolved dependency map in
// ascending order, used by callers that need deterministic output
// (e.g. when writing a lock structure).
func sortDependencyIDs(m map[int64]*pkg.Dependency) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

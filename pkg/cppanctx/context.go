// Package cppanctx reifies the process-wide singletons spec.md §9 calls
// out (Directories, httpSettings, the two database handles) into a
// single Context object constructed once in main and threaded by
// reference, following the teacher's Ctx (context.go) pattern.
package cppanctx

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Directories mirrors the on-disk storage layout of spec.md §6:
//
//	<storage>/bin lib obj src etc tmp usr cfg
//	etc/database/packages.db
//	etc/database/service.db
//	etc/database/repository/
//	etc/locks/
//	etc/stamps/packages/<hh>/<hh>/<rest>.sha256
type Directories struct {
	Storage string
	Build   string
}

func (d Directories) dir(name string) string { return filepath.Join(d.Storage, name) }

// Bin, Lib, Obj, Src, Etc, Tmp, Usr, Cfg are the fixed top-level
// storage subdirectories.
func (d Directories) Bin() string { return d.dir("bin") }
func (d Directories) Lib() string { return d.dir("lib") }
func (d Directories) Obj() string { return d.dir("obj") }
func (d Directories) Src() string { return d.dir("src") }
func (d Directories) Etc() string { return d.dir("etc") }
func (d Directories) Tmp() string { return d.dir("tmp") }
func (d Directories) Usr() string { return d.dir("usr") }
func (d Directories) Cfg() string { return d.dir("cfg") }

// Database returns etc/database, the parent of both SQLite files and
// the mirrored catalog repository.
func (d Directories) Database() string { return filepath.Join(d.Etc(), "database") }

// PackagesDBPath is the local Catalog's SQLite file.
func (d Directories) PackagesDBPath() string { return filepath.Join(d.Database(), "packages.db") }

// ServiceDBPath is the local ServiceDB's SQLite file.
func (d Directories) ServiceDBPath() string { return filepath.Join(d.Database(), "service.db") }

// Repository is the directory the mirrored catalog is downloaded into.
func (d Directories) Repository() string { return filepath.Join(d.Database(), "repository") }

// Locks is the directory holding advisory per-stamp-file OS locks.
func (d Directories) Locks() string { return filepath.Join(d.Etc(), "locks") }

// StampPath returns the sidecar stamp file path for a short package hash,
// sharded <hh>/<hh> to bound directory fan-out, per spec.md §6.
func (d Directories) StampPath(shortHash string) string {
	if len(shortHash) < 4 {
		return filepath.Join(d.Etc(), "stamps", "packages", shortHash+".sha256")
	}
	return filepath.Join(d.Etc(), "stamps", "packages", shortHash[0:2], shortHash[2:4], shortHash[4:]+".sha256")
}

// EnsureAll creates every fixed top-level subdirectory plus the database
// and locks directories.
func (d Directories) EnsureAll() error {
	for _, p := range []string{
		d.Bin(), d.Lib(), d.Obj(), d.Src(), d.Etc(), d.Tmp(), d.Usr(), d.Cfg(),
		d.Database(), d.Repository(), d.Locks(),
	} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", p)
		}
	}
	return nil
}

// HTTPSettings holds process-wide transport tunables (spec.md §6 CLI
// flags --ignore-ssl-checks, --curl-verbose map here).
type HTTPSettings struct {
	IgnoreSSLChecks bool
	Verbose         bool
	// MaxArchiveBytes bounds a single archive download (spec.md §4.5),
	// default 1 GiB.
	MaxArchiveBytes int64
	// ConnectTimeout/TotalTimeout hold the 5s/10s starting values of the
	// resolver's halving retry ladder (spec.md §4.3). The ladder itself is
	// fixed in pkg/resolver and does not read these fields.
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// DefaultHTTPSettings returns the spec's documented defaults.
func DefaultHTTPSettings() HTTPSettings {
	return HTTPSettings{
		MaxArchiveBytes: 1 << 30,
		ConnectTimeout:  5 * time.Second,
		TotalTimeout:    10 * time.Second,
	}
}

// Context is the single object threading every process-wide singleton
// spec.md §9 names (Directories, httpSettings, and — owned by the
// catalog/servicedb packages themselves — the two database handles).
// Construct once in main, pass by reference, never copy.
type Context struct {
	Dirs Directories
	HTTP HTTPSettings

	// RemoteName/RemoteURL/RemoteAPIVersion describe the single
	// configured Remote (spec.md §3/§6); cppan supports one remote per
	// process, matching the teacher's single-source-of-truth registry
	// config.
	RemoteName       string
	RemoteURL        string
	RemoteAPIVersion int

	// QueryLocalDB is the per-process flag controlling whether the
	// resolver tries the local catalog before the remote (spec.md §4.3).
	// ForceServerQuery, if set by the user, inverts the effective value.
	QueryLocalDB     bool
	ForceServerQuery bool

	// TStart is the time this Context was built. The catalog's "young
	// package" rule (spec.md §4.2/§9) does not read it; pkg/catalog keeps
	// its own process start time.
	TStart time.Time

	// YoungPackageWindow is the tunable described in spec.md §9's first
	// open question; default 30 minutes (2x the 15 minute TTL).
	YoungPackageWindow time.Duration

	// CatalogTTL is the mirror refresh TTL (spec.md §4.2).
	CatalogTTL time.Duration

	// MaxDownloadThreads is the configured download concurrency (spec.md
	// §5). pkg/fetch does not read it.
	MaxDownloadThreads int
}

// New builds a Context rooted at storageRoot with the documented
// defaults, and ensures the fixed directory layout exists.
func New(storageRoot string) (*Context, error) {
	ctx := &Context{
		Dirs:               Directories{Storage: storageRoot},
		HTTP:               DefaultHTTPSettings(),
		QueryLocalDB:       true,
		TStart:             time.Now(),
		YoungPackageWindow: 30 * time.Minute,
		CatalogTTL:         15 * time.Minute,
		MaxDownloadThreads: 8,
	}
	if err := ctx.Dirs.EnsureAll(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// EffectiveQueryLocalDB applies ForceServerQuery's inversion.
func (c *Context) EffectiveQueryLocalDB() bool {
	if c.ForceServerQuery {
		return !c.QueryLocalDB
	}
	return c.QueryLocalDB
}

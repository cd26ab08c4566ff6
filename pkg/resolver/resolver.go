// Package resolver implements the local/remote dual-strategy dependency
// resolution described by spec.md §4.3: prefer the local catalog
// mirror, fall back to the remote API on a YoungPackage or LocalDbHash
// signal, and hand every resolved dependency to a Fetcher so its
// archive is present on disk before Resolve returns.
//
// Grounded on the teacher's internal/gps solver shape (a memoized
// id-keyed node map built by one pass over a root set, explicit error
// types driving control flow rather than sentinel booleans) and
// internal/gps/registry.go's HTTP retry pattern for the remote leg.
package resolver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/pkg"
)

// Local is the subset of *catalog.Catalog the resolver depends on.
type Local interface {
	FindDependencies(roots []pkg.Package, youngWindow time.Duration) (map[int64]*pkg.Dependency, error)
}

// Remote is the subset of the remote API client the resolver depends
// on (spec.md §4.3's find_dependencies endpoint).
type Remote interface {
	FindDependencies(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error)
}

// Fetcher ensures a resolved dependency's archive is downloaded,
// verified, and unpacked; satisfied by pkg/fetch.Pipeline. It may
// return *catalog.ErrLocalDbHash if the downloaded archive's hash
// disagrees with the local catalog, which downgrades the resolver to
// remote-only and retries the whole resolution (spec.md §4.3).
type Fetcher interface {
	Ensure(ctx context.Context, dep *pkg.Dependency) error
}

// Telemetry is the fire-and-forget reporting leg of spec.md §4.3,
// satisfied by *HTTPClient. A nil Telemetry disables reporting.
type Telemetry interface {
	ReportDownloads(ctx context.Context, targetNames []string)
	ReportClientCall(ctx context.Context, command string)
}

// Resolver closes a predicate set into a verified package set, per
// spec.md §4.3.
type Resolver struct {
	local   Local
	remote  Remote
	fetcher Fetcher

	telemetry Telemetry

	youngWindow time.Duration

	// queryLocalDB starts true unless the user passed
	// force_server_query, and is permanently cleared (never restored)
	// once a LocalDbHash mismatch is observed, per spec.md §4.3.
	queryLocalDB int32

	log *logrus.Entry
}

// New builds a Resolver. queryLocalDB is the initial value of the
// per-process "prefer local catalog" flag (force_server_query inverts
// it before passing it in).
func New(local Local, remote Remote, fetcher Fetcher, youngWindow time.Duration, queryLocalDB bool) *Resolver {
	r := &Resolver{
		local:       local,
		remote:      remote,
		fetcher:     fetcher,
		youngWindow: youngWindow,
		log:         logrus.WithField("component", "resolver"),
	}
	if queryLocalDB {
		r.queryLocalDB = 1
	}
	return r
}

// SetTelemetry attaches the fire-and-forget reporting leg; optional.
func (r *Resolver) SetTelemetry(t Telemetry) { r.telemetry = t }

// Resolve closes roots into a verified dependency set and ensures every
// resolved dependency's archive is on disk, per spec.md §4.3. A
// LocalDbHash mismatch discovered while fetching restarts resolution
// once, remote-only.
func (r *Resolver) Resolve(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error) {
	deps, err := r.resolveSet(ctx, roots)
	if err != nil {
		return nil, err
	}

	for _, dep := range deps {
		if err := r.fetcher.Ensure(ctx, dep); err != nil {
			if _, ok := err.(*catalog.ErrLocalDbHash); ok && atomic.LoadInt32(&r.queryLocalDB) == 1 {
				r.log.WithError(err).Warn("archive hash disagreed with local catalog, retrying remote-only")
				r.downgrade()
				return r.Resolve(ctx, roots)
			}
			return nil, err
		}
	}

	if r.telemetry != nil {
		names := make([]string, 0, len(deps))
		for _, dep := range deps {
			names = append(names, dep.Package.TargetName())
		}
		go r.telemetry.ReportDownloads(context.Background(), names)
	}

	return deps, nil
}

func (r *Resolver) resolveSet(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error) {
	if atomic.LoadInt32(&r.queryLocalDB) == 1 {
		deps, err := r.local.FindDependencies(roots, r.youngWindow)
		switch err.(type) {
		case nil:
			return deps, nil
		case *catalog.ErrYoungPackage:
			r.log.WithError(err).Debug("young package, falling back to remote")
		case *catalog.ErrLocalDbHash:
			r.log.WithError(err).Warn("local catalog hash mismatch, downgrading to remote-only")
			r.downgrade()
		default:
			return nil, err
		}
	}

	return r.remote.FindDependencies(ctx, roots)
}

func (r *Resolver) downgrade() {
	atomic.StoreInt32(&r.queryLocalDB, 0)
}

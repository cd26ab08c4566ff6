package catalog

import "fmt"

// ErrPackageNotFound is spec.md §4.2/§7's PackageNotFound: the requested
// path has no row in Projects.
type ErrPackageNotFound struct {
	Path string
}

func (e *ErrPackageNotFound) Error() string {
	return fmt.Sprintf("package not found: %s", e.Path)
}

// ErrRootProjectEmpty is raised when a RootProject's child expansion
// (spec.md §4.2 step 2) yields no Library/Executable rows.
type ErrRootProjectEmpty struct {
	Path string
}

func (e *ErrRootProjectEmpty) Error() string {
	return fmt.Sprintf("root project has no buildable children: %s", e.Path)
}

// ErrVersionNotFound is spec.md §4.2 step 3's VersionNotFound: no
// catalog row satisfies the requested predicate at or below its
// specificity.
type ErrVersionNotFound struct {
	Path      string
	Predicate string
}

func (e *ErrVersionNotFound) Error() string {
	return fmt.Sprintf("no version of %s satisfies %s", e.Path, e.Predicate)
}

// ErrYoungPackage is the control-flow signal from spec.md §4.2 step 3 /
// §7: the chosen row is younger than 2x the catalog TTL, so the resolver
// should force a remote re-check rather than trust the local catalog.
// It is not a user-facing error; the resolver recovers from it once per
// resolution by sending that resolution's roots to the remote instead
// (spec.md §4.3/§7).
type ErrYoungPackage struct {
	Path    string
	Version string
}

func (e *ErrYoungPackage) Error() string {
	return fmt.Sprintf("catalog row for %s@%s is younger than the young-package window", e.Path, e.Version)
}

// ErrLocalDbHash is raised when an archive's verified hash disagrees
// with what the local catalog recorded (spec.md §7); it downgrades the
// resolver to remote-only for the remainder of the process.
type ErrLocalDbHash struct {
	Path string
}

func (e *ErrLocalDbHash) Error() string {
	return fmt.Sprintf("local catalog hash mismatch for %s", e.Path)
}

// ErrRemoteProtocol covers wire-level API mismatches (spec.md §6/§7):
// resolver.HTTPClient returns it on client/server API-level skew. A bad
// HTTP status is reported as a plain error, not as this type.
type ErrRemoteProtocol struct {
	Message string
}

func (e *ErrRemoteProtocol) Error() string { return "remote protocol error: " + e.Message }

// ErrSchemaVersionSkew is raised when a freshly-mirrored bundle's own
// schema.version (spec.md §6 wire format) disagrees with this client's
// compile-time SchemaVersion (spec.md §4.2's schema versioning):
// ClientTooOld means the remote has moved ahead of this binary, which
// must be upgraded; otherwise the remote hasn't caught up yet and the
// caller must wait for the server.
type ErrSchemaVersionSkew struct {
	ClientTooOld bool
	Remote       int
	Client       int
}

func (e *ErrSchemaVersionSkew) Error() string {
	if e.ClientTooOld {
		return fmt.Sprintf("catalog schema %d is newer than this client's %d, upgrade the client", e.Remote, e.Client)
	}
	return fmt.Sprintf("catalog schema %d is older than this client's %d, wait for the server to catch up", e.Remote, e.Client)
}

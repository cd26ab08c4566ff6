package fetch

import "fmt"

// ErrBadArchiveHash is spec.md §4.5 step 5's BadArchiveHash: a
// downloaded archive's sha256 disagreed with what a remote-resolved
// dependency's catalog entry recorded. Unlike catalog.ErrLocalDbHash
// this is fatal; there is no further fallback to try.
type ErrBadArchiveHash struct {
	Path string
	Want string
	Got  string
}

func (e *ErrBadArchiveHash) Error() string {
	return fmt.Sprintf("archive hash mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// Package archiveio implements the shared download/hash/extract
// mechanics used by both the catalog's mirror transport and the fetch
// pipeline's archive download: a streaming tee-hash download with a
// size cap, and symlink-refusing zip/tar.gz extraction. Grounded on
// internal/gps/registry.go's execDownloadDependency/extractDependency.
package archiveio

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrTooLarge is returned by Download when the response body exceeds
// the configured maxBytes (spec.md §4.5 step 4 / §7 ArchiveTooLarge).
type ErrTooLarge struct {
	MaxBytes int64
}

func (e *ErrTooLarge) Error() string {
	return errors.Errorf("archive exceeds size limit of %d bytes", e.MaxBytes).Error()
}

// Digests holds the streaming md5/sha256 of a downloaded archive
// (spec.md §4.5 step 4: "streaming hash computation for md5 and sha256").
type Digests struct {
	MD5    string
	SHA256 string
}

// Download streams src to dest (a regular file path), computing md5 and
// sha256 as it goes and refusing to write more than maxBytes (0 means no
// limit, used for the catalog's own mirror archive which isn't subject
// to the per-package cap). On any failure dest is removed before
// returning, matching spec.md §4.5/§7's "remove the partial archive"
// rollback.
func Download(ctx context.Context, src, dest string, maxBytes int64) (Digests, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Digests{}, errors.Wrapf(err, "building request for %s", src)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Digests{}, errors.Wrapf(err, "fetching %s", src)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Digests{}, errors.Errorf("%s: unexpected status %s", src, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Digests{}, errors.Wrapf(err, "creating parent directory of %s", dest)
	}
	f, err := os.Create(dest)
	if err != nil {
		return Digests{}, errors.Wrapf(err, "creating %s", dest)
	}

	md5h, sha256h := md5.New(), sha256.New()
	w := io.MultiWriter(f, md5h, sha256h)

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = &limitedReader{r: resp.Body, max: maxBytes}
	}

	_, copyErr := io.Copy(w, body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(dest)
		if lerr, ok := copyErr.(*tooLargeErr); ok {
			return Digests{}, &ErrTooLarge{MaxBytes: lerr.max}
		}
		return Digests{}, errors.Wrapf(copyErr, "downloading %s", src)
	}
	if closeErr != nil {
		os.Remove(dest)
		return Digests{}, errors.Wrapf(closeErr, "closing %s", dest)
	}

	return Digests{
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
	}, nil
}

type tooLargeErr struct{ max int64 }

func (e *tooLargeErr) Error() string { return "archive too large" }

// limitedReader cancels the transfer (returns an error from Read, the Go
// equivalent of the spec's "non-zero from the transfer-progress
// callback") once more than max bytes have been read.
type limitedReader struct {
	r   io.Reader
	n   int64
	max int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n > l.max {
		return 0, &tooLargeErr{max: l.max}
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return n, &tooLargeErr{max: l.max}
	}
	return n, err
}

// ExtractTarGz extracts a gzip-compressed tar archive into dir, refusing
// symlinks and any entry resolving outside dir (spec.md §4.5 step 7).
func ExtractTarGz(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", archivePath)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "opening gzip stream")
	}
	defer gzr.Close()

	return extractTar(tar.NewReader(gzr), dir)
}

func extractTar(tr *tar.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}

		name := header.Name
		switch name {
		case ".", "..":
			continue
		}
		target, err := safeJoin(dir, name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating directory %s", target)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "creating parent of %s", target)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return errors.Wrapf(err, "creating %s", target)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errors.Wrapf(err, "writing %s", target)
			}
			if err := out.Close(); err != nil {
				return errors.Wrapf(err, "closing %s", target)
			}
		case tar.TypeSymlink, tar.TypeLink:
			return errors.Errorf("refusing to unpack symlink entry %s", name)
		default:
			// skip device nodes, fifos, etc.
		}
	}
}

// ExtractZip extracts a zip archive into dir with the same symlink
// refusal and path-escape guard as ExtractTarGz.
func ExtractZip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", archivePath)
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	for _, zf := range r.File {
		if zf.Mode()&os.ModeSymlink != 0 {
			return errors.Errorf("refusing to unpack symlink entry %s", zf.Name)
		}
		target, err := safeJoin(dir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating directory %s", target)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating parent of %s", target)
		}
		rc, err := zf.Open()
		if err != nil {
			return errors.Wrapf(err, "opening zip entry %s", zf.Name)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, zf.Mode())
		if err != nil {
			rc.Close()
			return errors.Wrapf(err, "creating %s", target)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return errors.Wrapf(copyErr, "writing %s", target)
		}
		if closeErr != nil {
			return errors.Wrapf(closeErr, "closing %s", target)
		}
	}
	return nil
}

// safeJoin joins dir and name, rejecting names that would escape dir
// (spec.md §4.5 step 7: "drop absurd paths").
func safeJoin(dir, name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", errors.Errorf("archive entry escapes target directory: %s", name)
	}
	return filepath.Join(dir, cleaned), nil
}

package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/cppan/cppan/pkg/catalog"
	"github.com/cppan/cppan/pkg/pkg"
	"github.com/cppan/cppan/pkg/pkgpath"
	"github.com/cppan/cppan/pkg/version"
)

// retryLadder is spec.md §4.3's "halving connect/total timeouts, 3
// attempts, starting at 5s/10s".
var retryLadder = []struct {
	connect time.Duration
	total   time.Duration
}{
	{5 * time.Second, 10 * time.Second},
	{2500 * time.Millisecond, 5 * time.Second},
	{1250 * time.Millisecond, 2500 * time.Millisecond},
}

// HTTPClient is the remote API client backing Remote, grounded on
// internal/gps/registry.go's plain net/http + encoding/json request
// pattern (no REST framework in the teacher's stack to adopt instead).
type HTTPClient struct {
	BaseURL         string
	CurrentAPILevel int
}

type findDependenciesRequest struct {
	APILevel int                `json:"api_level"`
	Packages []requestedPackage `json:"packages"`
}

type requestedPackage struct {
	Path      string `json:"path"`
	Predicate string `json:"predicate"`
}

type findDependenciesResponse struct {
	APILevel int         `json:"api_level"`
	Packages []remoteRow `json:"packages"`
	Error    string      `json:"error,omitempty"`
}

type remoteRow struct {
	ID           int64        `json:"id"`
	Path         string       `json:"path"`
	Version      string       `json:"version"`
	SHA256       string       `json:"sha256"`
	ProjectFlags int64        `json:"project_flags"`
	Dependencies []remoteEdge `json:"dependencies"`
}

type remoteEdge struct {
	TargetID  int64  `json:"target_id"`
	Predicate string `json:"predicate"`
	Flags     int64  `json:"flags"`
}

// FindDependencies posts roots to the remote's find_dependencies
// endpoint, retrying with the halving timeout ladder on transport
// failure, and rebuilds the same map[int64]*pkg.Dependency shape
// *catalog.Catalog.FindDependencies returns.
func (c *HTTPClient) FindDependencies(ctx context.Context, roots []pkg.Package) (map[int64]*pkg.Dependency, error) {
	reqBody := findDependenciesRequest{APILevel: c.CurrentAPILevel}
	for _, p := range roots {
		reqBody.Packages = append(reqBody.Packages, requestedPackage{
			Path:      p.Path.String(),
			Predicate: p.Version.String(),
		})
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "encoding find_dependencies request")
	}

	var resp findDependenciesResponse
	var lastErr error
	for _, attempt := range retryLadder {
		resp, lastErr = c.post(ctx, payload, attempt.connect, attempt.total)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "find_dependencies request failed after retries")
	}
	if resp.Error != "" {
		return nil, &RemoteError{Message: resp.Error}
	}
	if resp.APILevel > c.CurrentAPILevel {
		return nil, &catalog.ErrRemoteProtocol{Message: fmt.Sprintf(
			"server API level %d is newer than client level %d, upgrade the client", resp.APILevel, c.CurrentAPILevel)}
	}
	if resp.APILevel < c.CurrentAPILevel {
		return nil, &catalog.ErrRemoteProtocol{Message: fmt.Sprintf(
			"server API level %d is older than client level %d, wait for the server to be updated", resp.APILevel, c.CurrentAPILevel)}
	}

	out := make(map[int64]*pkg.Dependency, len(resp.Packages))
	for _, row := range resp.Packages {
		p, err := pkgpath.Parse(row.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing remote path %q", row.Path)
		}
		v, err := version.Parse(row.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing remote version %q", row.Version)
		}

		dep := pkg.NewDependency(pkg.New(p, v, 0), pkg.Flags(row.ProjectFlags), 0)
		dep.SHA256 = row.SHA256
		dep.RemoteName = c.BaseURL
		for _, e := range row.Dependencies {
			predicate, err := version.Parse(e.Predicate)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing remote edge predicate %q", e.Predicate)
			}
			dep.Edges = append(dep.Edges, pkg.Edge{TargetID: e.TargetID, Predicate: predicate, Flags: pkg.Flags(e.Flags)})
		}
		out[row.ID] = dep
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, payload []byte, connectTimeout, totalTimeout time.Duration) (findDependenciesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	client := &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/find_dependencies", bytes.NewReader(payload))
	if err != nil {
		return findDependenciesResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return findDependenciesResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return findDependenciesResponse{}, fmt.Errorf("find_dependencies: unexpected status %s", httpResp.Status)
	}

	var resp findDependenciesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return findDependenciesResponse{}, errors.Wrap(err, "decoding find_dependencies response")
	}
	return resp, nil
}

// RemoteError wraps a server-reported application-level error (spec.md
// §6/§7's ErrRemoteProtocol family).
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote error: " + e.Message }

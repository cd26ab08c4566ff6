package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// telemetryTimeout bounds the fire-and-forget calls below; they must
// never hold up a resolution (spec.md §4.3's "must not affect the
// resolution outcome").
const telemetryTimeout = 5 * time.Second

// ReportDownloads posts the list of target names just resolved to the
// remote's add_downloads endpoint. Errors are logged, never returned:
// this is telemetry, not part of the resolution contract.
func (c *HTTPClient) ReportDownloads(ctx context.Context, targetNames []string) {
	c.fireAndForget(ctx, "/api/v1/add_downloads", map[string]interface{}{
		"api_level": c.CurrentAPILevel,
		"packages":  targetNames,
	})
}

// ReportClientCall posts a single client-invocation marker to the
// remote's add_client_call endpoint (spec.md §4.3).
func (c *HTTPClient) ReportClientCall(ctx context.Context, command string) {
	c.fireAndForget(ctx, "/api/v1/add_client_call", map[string]interface{}{
		"api_level": c.CurrentAPILevel,
		"command":   command,
	})
}

func (c *HTTPClient) fireAndForget(ctx context.Context, path string, body interface{}) {
	log := logrus.WithField("component", "resolver-telemetry")

	payload, err := json.Marshal(body)
	if err != nil {
		log.WithError(err).Debug("encoding telemetry payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, telemetryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		log.WithError(err).Debug("building telemetry request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("posting telemetry")
		return
	}
	resp.Body.Close()
}

package jupyter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// WaitReady polls the notebook endpoint until it answers or the retry
// budget runs out. A notebook that never answers is not an error: the
// container may still be warming up, and the caller only wants the signal
// for logging.
func WaitReady(ctx context.Context, logger *slog.Logger, url string) bool {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 2 * time.Second
	client.Logger = nil

	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		logger.Warn("notebook not reachable yet", "url", url, "err", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteSource polls an HTTP endpoint whose response body carries the same
// single-line format the file bridge writes. A companion endpoint clears the
// remote copy after successful processing.
type RemoteSource struct {
	fetchURL string
	clearURL string
	client   *http.Client
}

func NewRemoteSource(fetchURL, clearURL string, timeout time.Duration) *RemoteSource {
	return &RemoteSource{
		fetchURL: fetchURL,
		clearURL: clearURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (r *RemoteSource) Name() string { return "remote_file" }

// Fetch issues a GET against the signal endpoint. Any transport error or
// non-200 status is a fetch failure for the watcher to count; it is never
// fatal to the loop.
func (r *RemoteSource) Fetch(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.fetchURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch remote signal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("fetch remote signal: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read remote signal body: %w", err)
	}

	return string(body), true, nil
}

// Clear asks the remote side to drop its copy of the signal. Correctness does
// not depend on it succeeding.
func (r *RemoteSource) Clear(ctx context.Context) error {
	if r.clearURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.clearURL, nil)
	if err != nil {
		return fmt.Errorf("create clear request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("clear remote signal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clear remote signal: unexpected status %d", resp.StatusCode)
	}
	return nil
}

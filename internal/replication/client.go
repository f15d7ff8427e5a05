package replication

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// Client downloads state and change files from a Source, caching change
// files on disk.
type Client struct {
	source     Source
	client     *http.Client
	cacheDir   string
	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a client caching change files under cacheDir
func NewClient(source Source, cacheDir string) *Client {
	return &Client{
		source:     source,
		client:     &http.Client{Timeout: 60 * time.Second},
		cacheDir:   cacheDir,
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

// Source returns the feed the client reads
func (c *Client) Source() Source {
	return c.source
}

// LatestState fetches the newest state of the feed
func (c *Client) LatestState(ctx context.Context) (*State, error) {
	s, err := c.fetchState(ctx, c.source.StateURL())
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("no state at %s", c.source.StateURL())
	}
	return s, nil
}

// SequenceState fetches the state written with seq, or nil if seq has not
// been published yet.
func (c *Client) SequenceState(ctx context.Context, seq int64) (*State, error) {
	return c.fetchState(ctx, c.source.SequenceStateURL(seq))
}

func (c *Client) fetchState(ctx context.Context, url string) (*State, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return ParseState(resp.Body)
	case http.StatusNotFound:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
}

// CachePath is where the change file for seq is stored
func (c *Client) CachePath(seq int64) string {
	return filepath.Join(c.cacheDir, SequencePath(seq)+".osc.gz")
}

// Diff downloads the change file for seq and returns its local path, or ""
// if seq has not been published yet.
func (c *Client) Diff(ctx context.Context, seq int64) (string, error) {
	log := logger.Get()
	path := c.CachePath(seq)
	if _, err := os.Stat(path); err == nil {
		log.Debug("Using cached change file", zap.String("path", path))
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	url := c.source.DiffURL(seq)
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch change file: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, url)
	}

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	_, err = io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename cache file: %w", err)
	}

	log.Debug("Downloaded change file", zap.Int64("sequence", seq), zap.String("path", path))
	return path, nil
}

// get performs a GET, retrying transport failures and 5xx responses
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "tilequeue-go/1.0")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

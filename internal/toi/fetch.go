package toi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// FetchStatus says whether a fetch produced a new snapshot
type FetchStatus int

const (
	Fresh FetchStatus = iota
	NotModified
)

func (s FetchStatus) String() string {
	if s == NotModified {
		return "not-modified"
	}
	return "fresh"
}

// FetchResult is the outcome of a fetch. Set is nil when Status is NotModified.
type FetchResult struct {
	Status FetchStatus
	Set    Set
	ETag   string
}

// Fetcher loads the tiles of interest. etag is the tag of the snapshot the
// caller already holds, or empty.
type Fetcher interface {
	Fetch(ctx context.Context, etag string) (FetchResult, error)
}

// Store is a Fetcher that can also replace its contents
type Store interface {
	Fetcher
	Save(ctx context.Context, s Set) error
}

// FileFetcher reads a local file, tagging snapshots by modification time and size
type FileFetcher struct {
	Path string
}

func fileTag(fi os.FileInfo) string {
	return strconv.FormatInt(fi.ModTime().UnixNano(), 16) + "-" + strconv.FormatInt(fi.Size(), 16)
}

func (f FileFetcher) Fetch(_ context.Context, etag string) (FetchResult, error) {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to stat tiles of interest: %w", err)
	}
	tag := fileTag(fi)
	if etag != "" && tag == etag {
		return FetchResult{Status: NotModified, ETag: tag}, nil
	}
	s, err := ReadFile(f.Path)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Status: Fresh, Set: s, ETag: tag}, nil
}

func (f FileFetcher) Save(_ context.Context, s Set) error {
	return WriteFile(f.Path, s)
}

// HTTPFetcher downloads the set with a conditional GET. Server errors are
// retried.
type HTTPFetcher struct {
	URL        string
	Gzip       bool
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPFetcher creates a fetcher for url
func NewHTTPFetcher(url string, gzipped bool) *HTTPFetcher {
	return &HTTPFetcher{
		URL:  url,
		Gzip: gzipped,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxRetries: 3,
		retryDelay: 5 * time.Second,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, etag string) (FetchResult, error) {
	resp, err := f.fetchWithRetry(ctx, etag)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to fetch tiles of interest: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return FetchResult{Status: NotModified, ETag: etag}, nil
	case http.StatusOK:
	default:
		return FetchResult{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var s Set
	if f.Gzip {
		s, err = ReadGzip(resp.Body)
	} else {
		s, err = Read(resp.Body)
	}
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to parse tiles of interest: %w", err)
	}
	return FetchResult{Status: Fresh, Set: s, ETag: resp.Header.Get("ETag")}, nil
}

func (f *HTTPFetcher) fetchWithRetry(ctx context.Context, etag string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "tilequeue-go/1.0")
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := f.client.Do(req)
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

// S3API is the part of the S3 client the fetcher needs
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Fetcher stores the set as a gzipped object
type S3Fetcher struct {
	Client S3API
	Bucket string
	Key    string
}

func (f S3Fetcher) Fetch(ctx context.Context, etag string) (FetchResult, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(f.Bucket),
		Key:    aws.String(f.Key),
	}
	if etag != "" {
		in.IfNoneMatch = aws.String(etag)
	}
	out, err := f.Client.GetObject(ctx, in)
	if err != nil {
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotModified {
			return FetchResult{Status: NotModified, ETag: etag}, nil
		}
		return FetchResult{}, fmt.Errorf("failed to get s3://%s/%s: %w", f.Bucket, f.Key, err)
	}
	defer out.Body.Close()

	s, err := ReadGzip(out.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to parse tiles of interest: %w", err)
	}
	return FetchResult{Status: Fresh, Set: s, ETag: aws.ToString(out.ETag)}, nil
}

func (f S3Fetcher) Save(ctx context.Context, s Set) error {
	var buf bytes.Buffer
	if err := WriteGzip(&buf, s); err != nil {
		return err
	}
	_, err := f.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(f.Bucket),
		Key:             aws.String(f.Key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("text/plain"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", f.Bucket, f.Key, err)
	}
	logSummary("Wrote tiles of interest", "s3://"+f.Bucket+"/"+f.Key, s)
	return nil
}

// RedisStore keeps the set as a redis set of packed integers. It has no
// change tag, so every fetch is Fresh.
type RedisStore struct {
	Client    redis.UniversalClient
	Key       string
	ChunkSize int
}

func (r RedisStore) Fetch(ctx context.Context, _ string) (FetchResult, error) {
	members, err := r.Client.SMembers(ctx, r.Key).Result()
	if err != nil {
		return FetchResult{}, fmt.Errorf("failed to read tiles of interest: %w", err)
	}
	s := make(Set, len(members))
	for _, m := range members {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil || v <= 0 {
			return FetchResult{}, fmt.Errorf("bad tiles of interest member %q", m)
		}
		s[v] = struct{}{}
	}
	return FetchResult{Status: Fresh, Set: s}, nil
}

func (r RedisStore) Save(ctx context.Context, s Set) error {
	size := r.ChunkSize
	if size <= 0 {
		size = 1000
	}
	sorted := s.Sorted()
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.Key)
		for start := 0; start < len(sorted); start += size {
			end := min(start+size, len(sorted))
			members := make([]interface{}, 0, end-start)
			for _, v := range sorted[start:end] {
				members = append(members, v)
			}
			pipe.SAdd(ctx, r.Key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tiles of interest: %w", err)
	}
	logSummary("Wrote tiles of interest", "redis:"+r.Key, s)
	return nil
}

// Cache holds the last snapshot from a Fetcher and reuses it when the
// source reports no change.
type Cache struct {
	fetcher Fetcher

	mu   sync.RWMutex
	set  Set
	etag string
}

// NewCache wraps f
func NewCache(f Fetcher) *Cache {
	return &Cache{fetcher: f}
}

// Refresh fetches from the source and returns the current snapshot
func (c *Cache) Refresh(ctx context.Context) (Set, error) {
	c.mu.RLock()
	etag := c.etag
	if c.set == nil {
		etag = ""
	}
	c.mu.RUnlock()

	res, err := c.fetcher.Fetch(ctx, etag)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Status == NotModified && c.set != nil {
		logger.Get().Debug("Tiles of interest unchanged", zap.String("etag", etag))
		return c.set, nil
	}
	if res.Set == nil {
		return nil, errors.New("fetcher returned no tiles of interest")
	}
	c.set = res.Set
	c.etag = res.ETag
	logSummary("Loaded tiles of interest", "etag:"+c.etag, c.set)
	return c.set, nil
}

// Current returns the last snapshot, or nil before the first Refresh
func (c *Cache) Current() Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// Contains reports whether c is in the last snapshot
func (c *Cache) Contains(tile coord.Coord) bool {
	s := c.Current()
	return s != nil && s.Contains(tile)
}

// Intersect intersects against the last snapshot. Before the first Refresh
// nothing is kept.
func (c *Cache) Intersect(coords []coord.Coord, untilZoom int) ([]coord.Coord, IntersectMetrics) {
	s := c.Current()
	if s == nil {
		s = Set{}
	}
	return SetIntersector{Set: s}.Intersect(coords, untilZoom)
}

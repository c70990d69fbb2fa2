package overlay

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/lkmap/pkg/core"
)

// maxBoundaryBytes bounds a single boundary resource
const maxBoundaryBytes = 64 << 20

// Fetcher retrieves the raw body of a boundary resource by path
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, path string) ([]byte, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// HTTPFetcher fetches boundary resources relative to a base URL. Each call
// sends exactly one request unless Retry says otherwise.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	Retry   core.RetryOptions
	Limiter *rate.Limiter
}

// NewHTTPFetcher creates a single-attempt fetcher for baseURL
func NewHTTPFetcher(baseURL string, client *http.Client, limiter *rate.Limiter) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: baseURL,
		Client:  client,
		Retry:   core.SingleAttempt,
		Limiter: limiter,
	}
}

// Fetch issues a GET for path; anything other than a 200 is an error
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for fetch slot: %w", err)
		}
	}

	url := strings.TrimSuffix(f.BaseURL, "/") + path
	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := core.WithRetryFactory(ctx, factory, f.Client, f.Retry)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBoundaryBytes))
	if err != nil {
		return nil, core.NewError(core.ErrNetworkError, fmt.Sprintf("reading %s: %v", path, err))
	}
	return body, nil
}

// FSFetcher reads boundary resources from a file system, such as the data
// directory the web server publishes
type FSFetcher struct {
	FS fs.FS
}

// Fetch reads path relative to the root of the file system
func (f FSFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := strings.TrimPrefix(path, "/")
	if !fs.ValidPath(name) {
		return nil, core.NewValidationError(core.ErrInvalidParameter, fmt.Sprintf("invalid resource path %q", path))
	}

	body, err := fs.ReadFile(f.FS, name)
	if err != nil {
		return nil, core.NewError(core.ErrNotFound, err.Error())
	}
	return body, nil
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultImageFetchTimeout = 15 * time.Second
	// MaxImageSize matches the platform's upload limit for event covers.
	MaxImageSize = 10 << 20

	imageRateLimit = 2
	imageRateBurst = 5
)

var ErrImageFetch = errors.New("failed to fetch image")

// ImageFetcher downloads an event cover image.
type ImageFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPImageFetcher fetches images over HTTP(S) with a bounded size and a
// process-wide request rate.
type HTTPImageFetcher struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxSize     int64
}

func NewHTTPImageFetcher(timeout time.Duration) *HTTPImageFetcher {
	if timeout <= 0 {
		timeout = DefaultImageFetchTimeout
	}
	return &HTTPImageFetcher{
		rateLimiter: rate.NewLimiter(rate.Limit(imageRateLimit), imageRateBurst),
		maxSize:     MaxImageSize,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (f *HTTPImageFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter error: %v", ErrImageFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageFetch, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrImageFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageFetch, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrImageFetch, f.maxSize)
	}
	return data, nil
}

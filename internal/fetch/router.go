package fetch

import (
	"context"
	"net/url"
	"strings"

	"transcription-jobs/internal/faults"
)

// Fetcher retrieves one remote resource into localPath.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, localPath string) error
}

// Router dispatches on URL scheme.
type Router struct {
	schemes map[string]Fetcher
}

// NewRouter serves http and https with h. s3 is optional.
func NewRouter(h *HTTP, s3 *S3) *Router {
	r := &Router{schemes: map[string]Fetcher{}}
	if h != nil {
		r.Register("http", h)
		r.Register("https", h)
	}
	if s3 != nil {
		r.Register("s3", s3)
	}
	return r
}

// Register binds a fetcher to a scheme.
func (r *Router) Register(scheme string, f Fetcher) {
	if scheme == "" || f == nil {
		return
	}
	r.schemes[strings.ToLower(scheme)] = f
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL, localPath string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return faults.Wrap(faults.KindFetch, "parse url", err)
	}
	f, ok := r.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return faults.Newf(faults.KindFetch, "fetch", "unsupported url scheme %q", u.Scheme)
	}
	return f.Fetch(ctx, rawURL, localPath)
}

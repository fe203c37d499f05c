// Package fetch retrieves remote audio into a local file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"transcription-jobs/internal/faults"
)

const defaultMaxBytes = 500 * 1024 * 1024

// ErrTooLarge is returned when the source exceeds the configured size limit.
var ErrTooLarge = errors.New("source exceeds size limit")

// HTTP downloads http(s) URLs with a timeout and size cap.
type HTTP struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTP builds a downloader. Zero values select defaults.
func NewHTTP(timeout time.Duration, maxBytes int64) *HTTP {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if maxBytes == 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTP{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch writes the body at rawURL to localPath.
func (h *HTTP) Fetch(ctx context.Context, rawURL, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return faults.Wrap(faults.KindFetch, "build request", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindFetch, "download audio", redactURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return faults.Newf(faults.KindFetch, "download audio", "status %d", resp.StatusCode)
	}
	if resp.ContentLength > h.maxBytes {
		return faults.Wrap(faults.KindFetch, "download audio", fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, resp.ContentLength, h.maxBytes))
	}

	if err := writeLimited(resp.Body, localPath, h.maxBytes); err != nil {
		return faults.Wrap(faults.KindFetch, "download audio", err)
	}
	return nil
}

// writeLimited copies at most limit bytes into a new file at path and removes
// the partial file on failure.
func writeLimited(body io.Reader, path string, limit int64) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(body, limit+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("read body: %w", err)
	case n > limit:
		err = fmt.Errorf("%w (>%d bytes)", ErrTooLarge, limit)
	case closeErr != nil:
		err = fmt.Errorf("close file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// redactURLError drops the query string from url.Error messages so signed
// URLs do not end up in job records.
func redactURLError(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	if i := strings.IndexByte(uerr.URL, '?'); i >= 0 {
		return &url.Error{Op: uerr.Op, URL: uerr.URL[:i], Err: uerr.Err}
	}
	return err
}

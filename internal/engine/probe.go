package engine

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/romkeep/romkeep/internal/utils"
)

// RemoteMeta is what a HEAD probe learned about a remote file.
type RemoteMeta struct {
	// Size is the Content-Length, or -1 when the server did not report one.
	Size int64
	// LastModified is zero when absent or unparseable.
	LastModified time.Time
}

// RemoteMetadataProbe issues a single short-timeout HEAD request per call.
// It never retries; skip and resume decisions belong to the caller.
type RemoteMetadataProbe struct {
	client    *http.Client
	userAgent string
}

func NewRemoteMetadataProbe(timeout time.Duration) *RemoteMetadataProbe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RemoteMetadataProbe{
		client:    &http.Client{Timeout: timeout},
		userAgent: utils.ToolUserAgent,
	}
}

// Probe fetches remote size and modification time for url. A missing
// Content-Length is not an error; a failed request is.
func (p *RemoteMetadataProbe) Probe(ctx context.Context, url string) (RemoteMeta, error) {
	meta := RemoteMeta{Size: -1}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return meta, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return meta, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return meta, &ProbeStatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size >= 0 {
			meta.Size = size
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			meta.LastModified = ts
		}
	}
	return meta, nil
}

// ProbeStatusError reports a non-2xx/3xx HEAD response.
type ProbeStatusError struct {
	Code   int
	Status string
}

func (e *ProbeStatusError) Error() string {
	return "HEAD probe failed: " + e.Status
}

// Fatal reports whether the status belongs to the non-retryable client
// error class (4xx).
func (e *ProbeStatusError) Fatal() bool {
	return e.Code >= 400 && e.Code < 500
}

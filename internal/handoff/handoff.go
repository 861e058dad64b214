// Package handoff pushes queued download links to a locally running
// JDownloader instance through its Extern/FlashGot HTTP interface, as an
// alternative to the built-in engine for very large batches.
package handoff

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/romkeep/romkeep/internal/config"
	"github.com/romkeep/romkeep/internal/utils"
)

const defaultEndpoint = "http://127.0.0.1:9666/flashgot"

// Target is one link to hand off, with the destination it should land at.
type Target struct {
	URL      string
	DestPath string
}

// Receipt reports a successful handoff.
type Receipt struct {
	Endpoint string
	Count    int
}

// Sink posts link batches to the FlashGot endpoint. When the configured
// endpoint is unreachable the loopback variants on the same port are tried
// before giving up.
type Sink struct {
	endpoint string
	pkg      string
	referer  string
	client   *http.Client
}

func NewSink(cfg config.HandoffConfig, providerHost string) *Sink {
	pkg := strings.TrimSpace(cfg.Package)
	if pkg == "" {
		pkg = "romkeep queue"
	}
	return &Sink{
		endpoint: NormalizeEndpoint(cfg.Endpoint),
		pkg:      pkg,
		referer:  "https://" + strings.TrimSpace(providerHost) + "/",
		client:   &http.Client{Timeout: 4 * time.Second},
	}
}

// NormalizeEndpoint forces a usable FlashGot URL out of whatever the
// operator configured: missing scheme, missing path, or empty input.
func NormalizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultEndpoint
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return defaultEndpoint
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/flashgot"
	} else if !strings.HasSuffix(parsed.Path, "/flashgot") {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/flashgot"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// endpointCandidates returns the normalized endpoint followed by the
// loopback variants on the same scheme and port, deduplicated in order.
func endpointCandidates(endpoint string) []string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return []string{endpoint}
	}
	scheme := parsed.Scheme
	port := parsed.Port()
	if port == "" {
		port = "9666"
	}
	candidates := []string{endpoint}
	for _, host := range []string{"127.0.0.1", "localhost", "[::1]"} {
		candidates = append(candidates, fmt.Sprintf("%s://%s:%s/flashgot", scheme, host, port))
	}
	seen := make(map[string]bool)
	var unique []string
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		unique = append(unique, c)
	}
	return unique
}

// Send posts the batch. URLs and descriptions are newline-joined in matching
// order, as the FlashGot form expects.
func (s *Sink) Send(ctx context.Context, targets []Target, autostart bool) (Receipt, error) {
	log := utils.GetLogger("handoff")
	if len(targets) == 0 {
		return Receipt{}, fmt.Errorf("no targets to hand off")
	}

	var urls, descriptions, parents []string
	for _, t := range targets {
		u := strings.TrimSpace(t.URL)
		dest := strings.TrimSpace(t.DestPath)
		if u == "" || dest == "" {
			return Receipt{}, fmt.Errorf("handoff target needs both url and destination, got url=%q dest=%q", t.URL, t.DestPath)
		}
		urls = append(urls, u)
		descriptions = append(descriptions, utils.FilenameFor(u, dest))
		parents = append(parents, filepath.Dir(dest))
	}

	form := url.Values{}
	form.Set("urls", strings.Join(urls, "\n"))
	form.Set("description", strings.Join(descriptions, "\n"))
	form.Set("autostart", boolField(autostart))
	form.Set("package", s.pkg)
	form.Set("source", "romkeep")
	form.Set("referer", s.referer)
	if dir := commonParent(parents); dir != "" {
		form.Set("dir", dir)
	}
	body := form.Encode()

	var lastErr error
	for _, candidate := range endpointCandidates(s.endpoint) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate, strings.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("User-Agent", utils.ToolUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "*/*")

		resp, err := s.client.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("endpoint", candidate).Msg("FlashGot endpoint unreachable")
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("endpoint %s returned %s", candidate, resp.Status)
			continue
		}
		log.Info().Str("endpoint", candidate).Int("count", len(targets)).Bool("autostart", autostart).Msg("Batch handed to JDownloader")
		return Receipt{Endpoint: candidate, Count: len(targets)}, nil
	}

	return Receipt{}, fmt.Errorf("no FlashGot endpoint accepted the batch (is JDownloader running?): %w", lastErr)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// commonParent returns the deepest directory shared by all paths, empty when
// they share nothing useful.
func commonParent(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	common := filepath.Clean(paths[0])
	for _, p := range paths[1:] {
		p = filepath.Clean(p)
		for common != "" && common != "." && common != string(filepath.Separator) {
			if p == common || strings.HasPrefix(p, common+string(filepath.Separator)) {
				break
			}
			common = filepath.Dir(common)
		}
	}
	if common == "." || common == string(filepath.Separator) {
		return ""
	}
	return common
}

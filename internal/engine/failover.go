package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/romkeep/romkeep/internal/config"
	"github.com/romkeep/romkeep/internal/utils"
)

// maxAttempts caps one logical job's retry chain regardless of policy.
const maxAttempts = 5

// hostHopAttemptLimit bounds how deep into the chain host hops are offered.
const hostHopAttemptLimit = 3

// retryMarkers are the substrings that classify a tool diagnostic as a
// transient transport failure worth another attempt.
var retryMarkers = []string{
	"timed out",
	"timeout",
	"failed to respond",
	"connectex",
	"connection attempt failed",
	"connection refused",
	"connection reset",
	"i/o timeout",
	"no such host",
	"temporary failure",
}

// ClassifyError reports whether a tool diagnostic line describes a transient
// transport failure. Anything else (HTTP 4xx, malformed URLs, missing
// binaries) is treated as fatal for the chain.
func ClassifyError(message string) bool {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return false
	}
	for _, marker := range retryMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Action is the failover stage chosen for the next attempt.
type Action int

const (
	GiveUp Action = iota
	RetrySameWithTroubleshoot
	RetryMirror
	RetryHostHop
	RetryFallbackTransport
)

func (a Action) String() string {
	switch a {
	case RetrySameWithTroubleshoot:
		return "retry-troubleshoot"
	case RetryMirror:
		return "retry-mirror"
	case RetryHostHop:
		return "retry-host-hop"
	case RetryFallbackTransport:
		return "retry-fallback"
	}
	return "give-up"
}

// Decision pairs an Action with the URL the next attempt should target.
type Decision struct {
	Action Action
	URL    string
}

// FailoverPolicy classifies failures and escalates through the staged retry
// ladder: troubleshoot profile, mirror substitution, edge-host rotation, and
// finally the native fallback transport when configuration permits it.
type FailoverPolicy struct {
	provider       config.ProviderConfig
	fallbackOK     bool
	edgeHostRegexp *regexp.Regexp
}

func NewFailoverPolicy(provider config.ProviderConfig, fallbackEnabled bool) *FailoverPolicy {
	pattern := fmt.Sprintf(`^f(\d+)\.%s$`, regexp.QuoteMeta(provider.EdgeDomain()))
	return &FailoverPolicy{
		provider:       provider,
		fallbackOK:     fallbackEnabled,
		edgeHostRegexp: regexp.MustCompile(pattern),
	}
}

// IsProviderURL reports whether a URL targets the mirrored provider (the
// canonical host or any host under its CDN domain).
func (p *FailoverPolicy) IsProviderURL(rawURL string) bool {
	host := utils.HostOf(rawURL)
	if host == "" {
		return false
	}
	return host == strings.ToLower(p.provider.CanonicalHost) ||
		strings.HasSuffix(host, "."+p.provider.EdgeDomain())
}

// CanonicalizeURL rewrites an edge-mirror host (f<N>.<domain>) back to the
// provider's canonical host. Non-edge URLs pass through unchanged.
func (p *FailoverPolicy) CanonicalizeURL(rawURL string) string {
	host := utils.HostOf(rawURL)
	if host == "" || !p.edgeHostRegexp.MatchString(host) {
		return rawURL
	}
	if rewritten := replaceURLHost(rawURL, p.provider.CanonicalHost); rewritten != "" {
		return rewritten
	}
	return rawURL
}

// Decide picks the next stage for a failed attempt. errorLine is the tool's
// diagnostic; the job carries attempt count, troubleshoot state, and the
// cumulative tried-host set.
func (p *FailoverPolicy) Decide(job *Job, errorLine string) Decision {
	log := utils.GetLogger("failover")
	if !ClassifyError(errorLine) {
		return Decision{Action: GiveUp}
	}
	if job.Attempt >= maxAttempts {
		return Decision{Action: GiveUp}
	}
	isProvider := p.IsProviderURL(job.URL)

	// First plain failure against the provider: same host, conservative flags.
	if job.Attempt == 0 && !job.Troubleshoot && isProvider {
		log.Debug().Str("url", job.URL).Msg("Enabling troubleshoot profile for retry")
		return Decision{Action: RetrySameWithTroubleshoot, URL: job.URL}
	}

	// First failure on an edge mirror: fall back to the canonical host.
	if job.Attempt == 0 {
		if mirror := p.mirrorFallbackURL(job.URL); mirror != "" && mirror != job.URL {
			return Decision{Action: RetryMirror, URL: mirror}
		}
	}

	// Rotate across numbered edge hosts, skipping everything already tried.
	if isProvider && job.Attempt < hostHopAttemptLimit {
		if hop := p.hostHopURL(job.URL, errorLine, job.TriedHosts); hop != "" && hop != job.URL {
			return Decision{Action: RetryHostHop, URL: hop}
		}
	}

	// Rotation exhausted: hand the canonicalized URL to the native client.
	if p.fallbackOK && job.Transport != TransportNative {
		source := extractToolErrorURL(errorLine)
		if source == "" || !p.IsProviderURL(source) {
			source = job.URL
		}
		return Decision{Action: RetryFallbackTransport, URL: p.CanonicalizeURL(source)}
	}

	return Decision{Action: GiveUp}
}

// mirrorFallbackURL maps f<N>.<domain> to the canonical host; empty when the
// URL is not an edge mirror.
func (p *FailoverPolicy) mirrorFallbackURL(rawURL string) string {
	host := utils.HostOf(rawURL)
	if host == "" || !p.edgeHostRegexp.MatchString(host) {
		return ""
	}
	return replaceURLHost(rawURL, p.provider.CanonicalHost)
}

// hostHopURL picks the next untried host from the numbered rotation (plus the
// canonical host as a last resort), preserving the failed URL's path. The
// rotation starts after the host that just failed so hops spread across the
// CDN instead of hammering f1.
func (p *FailoverPolicy) hostHopURL(rawURL, errorLine string, tried map[string]bool) string {
	reference := rawURL
	if failed := extractToolErrorURL(errorLine); failed != "" && p.IsProviderURL(failed) {
		reference = failed
	}
	refHost := utils.HostOf(reference)
	if refHost == "" {
		return ""
	}
	attempted := map[string]bool{refHost: true, utils.HostOf(rawURL): true}
	for host := range tried {
		attempted[strings.ToLower(host)] = true
	}

	maxHosts := p.provider.EdgeHostCount
	var order []string
	if m := p.edgeHostRegexp.FindStringSubmatch(refHost); m != nil {
		failedN, _ := strconv.Atoi(m[1])
		for offset := 1; offset <= maxHosts; offset++ {
			n := ((failedN-1+offset)%maxHosts + 1)
			order = append(order, p.provider.EdgeHost(n))
		}
	} else {
		for n := 1; n <= maxHosts; n++ {
			order = append(order, p.provider.EdgeHost(n))
		}
	}
	order = append(order, strings.ToLower(p.provider.CanonicalHost))

	for _, candidate := range order {
		if attempted[candidate] {
			continue
		}
		if hop := replaceURLHost(reference, candidate); hop != "" && hop != reference {
			return hop
		}
	}
	return ""
}

// toolErrorURLRegexp pulls the URL the tool actually contacted out of its
// diagnostic, so hops react to the redirected edge host rather than the
// submitted one.
var toolErrorURLRegexp = regexp.MustCompile(`(?i)(?:Get|Head)\s+"([^"]+)"`)

func extractToolErrorURL(message string) string {
	m := toolErrorURLRegexp.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func replaceURLHost(rawURL, newHost string) string {
	newHost = strings.TrimSpace(newHost)
	if newHost == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if port := parsed.Port(); port != "" {
		parsed.Host = newHost + ":" + port
	} else {
		parsed.Host = newHost
	}
	return parsed.String()
}

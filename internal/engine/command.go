package engine

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/romkeep/romkeep/internal/config"
)

// CommandBuilder produces argument vectors for each transport variant. The
// tool's own retry machinery is pinned to one attempt: the engine owns retry
// policy, not the tool.
type CommandBuilder struct {
	resolver *TransportResolver
	cfg      config.TransferConfig
}

func NewCommandBuilder(resolver *TransportResolver, cfg config.TransferConfig) *CommandBuilder {
	return &CommandBuilder{resolver: resolver, cfg: cfg}
}

// Build returns the full command vector (argv[0] included) for one attempt.
func (b *CommandBuilder) Build(rawURL, destPath string, transport Transport, troubleshoot bool) ([]string, error) {
	switch transport {
	case TransportCopyURL:
		return b.buildCopyURL(rawURL, destPath, troubleshoot)
	case TransportHTTPCopyTo:
		return b.buildHTTPCopyTo(rawURL, destPath, troubleshoot)
	case TransportNative:
		return b.buildNative(rawURL, destPath)
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

func (b *CommandBuilder) buildCopyURL(rawURL, destPath string, troubleshoot bool) ([]string, error) {
	bin, err := b.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	cmd := []string{
		bin,
		"copyurl",
		rawURL,
		destPath,
	}
	cmd = append(cmd, b.commonFlags()...)
	if troubleshoot {
		cmd = append(cmd, b.troubleshootFlags()...)
	}
	return cmd, nil
}

// buildHTTPCopyTo splits the URL into an HTTP-remote root and a relative path
// so the tool's HTTP backend addresses the provider's path-relative servers,
// while copyto still preserves the exact destination filename.
func (b *CommandBuilder) buildHTTPCopyTo(rawURL, destPath string, troubleshoot bool) ([]string, error) {
	bin, err := b.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	remoteRoot, remoteRel, err := SplitHTTPRemote(rawURL)
	if err != nil {
		return nil, err
	}
	cmd := []string{
		bin,
		"copyto",
		"--http-url",
		remoteRoot,
		"--http-no-head",
		":http:" + remoteRel,
		destPath,
	}
	cmd = append(cmd, b.commonFlags()...)
	if troubleshoot {
		cmd = append(cmd, b.troubleshootFlags()...)
	}
	return cmd, nil
}

func (b *CommandBuilder) commonFlags() []string {
	return []string{
		"--retries", "1",
		"--low-level-retries", "1",
		"--retries-sleep", b.cfg.RetriesSleep.Std().String(),
		"--contimeout", b.cfg.ConnectTimeout.Std().String(),
		"--timeout", b.cfg.IOTimeout.Std().String(),
		"--multi-thread-streams", "0",
	}
}

func (b *CommandBuilder) troubleshootFlags() []string {
	agent := b.cfg.SpoofedUserAgent
	if agent == "" {
		agent = "curl"
	}
	return []string{
		"--disable-http2",
		"--user-agent", agent,
	}
}

// buildNative produces the OS-native HTTP client command: PowerShell
// Invoke-WebRequest on Windows, curl elsewhere.
func (b *CommandBuilder) buildNative(rawURL, destPath string) ([]string, error) {
	if runtime.GOOS == "windows" {
		psBin, err := exec.LookPath("powershell")
		if err != nil {
			psBin, err = exec.LookPath("pwsh")
			if err != nil {
				return nil, fmt.Errorf("PowerShell not found for native fallback transfer")
			}
		}
		safeURL := strings.ReplaceAll(rawURL, "'", "''")
		safeDest := strings.ReplaceAll(destPath, "'", "''")
		script := "$ErrorActionPreference='Stop'; " +
			"$ProgressPreference='SilentlyContinue'; " +
			fmt.Sprintf("Invoke-WebRequest -Uri '%s' -OutFile '%s' -MaximumRedirection 10 -TimeoutSec %d",
				safeURL, safeDest, int(b.cfg.IOTimeout.Std().Seconds()))
		return []string{psBin, "-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", script}, nil
	}

	curlBin, err := exec.LookPath("curl")
	if err != nil {
		return nil, fmt.Errorf("curl not found for native fallback transfer")
	}
	return []string{
		curlBin,
		"-L", "--fail",
		"--connect-timeout", fmt.Sprintf("%d", int(b.cfg.ConnectTimeout.Std().Seconds())),
		"--max-time", fmt.Sprintf("%d", int(b.cfg.IOTimeout.Std().Seconds())),
		"-o", destPath,
		rawURL,
	}, nil
}

// SplitHTTPRemote divides a file URL into the HTTP-remote root the provider
// documents (everything through /files/, or the domain root) and the
// unescaped path relative to it.
func SplitHTTPRemote(rawURL string) (root string, rel string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing transfer URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("transfer URL %q has no host", rawURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}
	rawPath := strings.TrimPrefix(parsed.EscapedPath(), "/")
	if rawPath == "" {
		return "", "", fmt.Errorf("transfer URL %q has an empty path", rawURL)
	}
	if strings.HasPrefix(strings.ToLower(rawPath), "files/") {
		root = fmt.Sprintf("%s://%s/files/", scheme, host)
		rel = rawPath[len("files/"):]
	} else {
		root = fmt.Sprintf("%s://%s/", scheme, host)
		rel = rawPath
	}
	rel, err = url.PathUnescape(rel)
	if err != nil {
		return "", "", fmt.Errorf("unescaping remote path: %w", err)
	}
	if rel == "" {
		return "", "", fmt.Errorf("transfer URL %q has an empty relative path", rawURL)
	}
	return root, rel, nil
}

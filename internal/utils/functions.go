package utils

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders a byte count in binary units (KB, MB, ...).
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a bytes-per-second rate the way transfer tools do:
// MiB/s above a mebibyte, KiB/s above a kibibyte, B/s otherwise.
func FormatSpeed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond >= 1024*1024:
		return fmt.Sprintf("%.1f MiB/s", bytesPerSecond/(1024*1024))
	case bytesPerSecond >= 1024:
		return fmt.Sprintf("%.0f KiB/s", bytesPerSecond/1024)
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}

// FilenameFor derives the display name for a transfer: the destination's base
// name when present, otherwise the last URL path segment.
func FilenameFor(rawURL, destPath string) string {
	if destPath != "" {
		if name := filepath.Base(filepath.Clean(destPath)); name != "." && name != string(filepath.Separator) {
			return name
		}
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		if tail, unescErr := url.PathUnescape(path.Base(parsed.Path)); unescErr == nil && tail != "." && tail != "/" && tail != "" {
			return tail
		}
	}
	return "download.bin"
}

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// HostOf extracts the lowercase hostname from a URL, stripping userinfo and port.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

package engine

import (
	"testing"

	"github.com/romkeep/romkeep/internal/config"
)

func testProvider() config.ProviderConfig {
	return config.ProviderConfig{CanonicalHost: "myrient.erista.me", EdgeHostCount: 8}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"Failed to copy: Get \"https://f4.erista.me/files/x.zip\": dial tcp: i/o timeout", true},
		{"connectex: A connection attempt failed because the connected party did not properly respond", true},
		{"read tcp 10.0.0.2:51234: connection reset by peer", true},
		{"dial tcp: lookup f9.erista.me: no such host", true},
		{"Temporary failure in name resolution", true},
		{"context deadline exceeded (Client.Timeout exceeded)", true},
		{"Failed to copy: 404 Not Found", false},
		{"Failed to copy: 403 Forbidden", false},
		{"parse \"ht!tp://bad\": invalid URI", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := ClassifyError(tt.message); got != tt.want {
				t.Errorf("ClassifyError(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestIsProviderURL(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://myrient.erista.me/files/No-Intro/game.zip", true},
		{"https://f3.erista.me/files/No-Intro/game.zip", true},
		{"https://f12.erista.me/files/No-Intro/game.zip", true},
		{"https://archive.example.org/file.zip", false},
		{"https://erista.me.evil.com/file.zip", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		if got := p.IsProviderURL(tt.url); got != tt.want {
			t.Errorf("IsProviderURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestCanonicalizeURL(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "edge host rewritten",
			url:  "https://f4.erista.me/files/No-Intro/Game%20(USA).zip",
			want: "https://myrient.erista.me/files/No-Intro/Game%20(USA).zip",
		},
		{
			name: "canonical passes through",
			url:  "https://myrient.erista.me/files/No-Intro/game.zip",
			want: "https://myrient.erista.me/files/No-Intro/game.zip",
		},
		{
			name: "foreign host untouched",
			url:  "https://downloads.example.org/game.zip",
			want: "https://downloads.example.org/game.zip",
		},
		{
			name: "port preserved",
			url:  "https://f2.erista.me:8443/files/game.zip",
			want: "https://myrient.erista.me:8443/files/game.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.CanonicalizeURL(tt.url); got != tt.want {
				t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestDecideFatalErrorGivesUp(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), true)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)

	d := p.Decide(job, "Failed to copy: 404 Not Found")
	if d.Action != GiveUp {
		t.Errorf("Decide() action = %v, want GiveUp", d.Action)
	}
}

func TestDecideTroubleshootBeforeAnyHostChange(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != RetrySameWithTroubleshoot {
		t.Fatalf("first failure action = %v, want RetrySameWithTroubleshoot", d.Action)
	}
	if d.URL != job.URL {
		t.Errorf("troubleshoot retry must keep the URL, got %q", d.URL)
	}
}

func TestDecideEdgeMirrorFallsBackToCanonical(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://f4.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Troubleshoot = true
	job.PreserveHost = true

	d := p.Decide(job, "dial tcp: connection refused")
	if d.Action != RetryMirror {
		t.Fatalf("action = %v, want RetryMirror", d.Action)
	}
	if want := "https://myrient.erista.me/files/game.zip"; d.URL != want {
		t.Errorf("mirror URL = %q, want %q", d.URL, want)
	}
}

func TestDecideHostHopSkipsTriedHosts(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://f3.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 1
	job.Troubleshoot = true
	job.MarkTried("f3.erista.me")
	job.MarkTried("f4.erista.me")

	d := p.Decide(job, "dial tcp: connection refused")
	if d.Action != RetryHostHop {
		t.Fatalf("action = %v, want RetryHostHop", d.Action)
	}
	if want := "https://f5.erista.me/files/game.zip"; d.URL != want {
		t.Errorf("hop URL = %q, want %q (rotation must skip tried hosts)", d.URL, want)
	}
}

func TestDecideHostHopReactsToToolReportedHost(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 1
	job.Troubleshoot = true
	job.MarkTried("myrient.erista.me")

	// The tool followed a redirect onto f6 before failing; rotation continues
	// from there, not from the submitted host.
	line := `Failed to copy: Get "https://f6.erista.me/files/game.zip": dial tcp: i/o timeout`
	d := p.Decide(job, line)
	if d.Action != RetryHostHop {
		t.Fatalf("action = %v, want RetryHostHop", d.Action)
	}
	if want := "https://f7.erista.me/files/game.zip"; d.URL != want {
		t.Errorf("hop URL = %q, want %q", d.URL, want)
	}
}

func TestDecideRotationWrapsAndEndsAtCanonical(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://f8.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 2
	job.Troubleshoot = true
	for n := 1; n <= 8; n++ {
		job.MarkTried(testProvider().EdgeHost(n))
	}

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != RetryHostHop {
		t.Fatalf("action = %v, want RetryHostHop", d.Action)
	}
	if want := "https://myrient.erista.me/files/game.zip"; d.URL != want {
		t.Errorf("hop URL = %q, want %q (canonical is the rotation's last resort)", d.URL, want)
	}
}

func TestDecideExhaustedRotationWithoutFallbackGivesUp(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), false)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 3
	job.Troubleshoot = true

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != GiveUp {
		t.Errorf("action = %v, want GiveUp once hop budget is spent and fallback is off", d.Action)
	}
}

func TestDecideFallbackTransportCanonicalizes(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), true)
	job := newJob("https://f2.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 3
	job.Troubleshoot = true
	job.PreserveHost = true

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != RetryFallbackTransport {
		t.Fatalf("action = %v, want RetryFallbackTransport", d.Action)
	}
	if want := "https://myrient.erista.me/files/game.zip"; d.URL != want {
		t.Errorf("fallback URL = %q, want %q", d.URL, want)
	}
}

func TestDecideNativeTransportNeverFallsBackAgain(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), true)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = 4
	job.Troubleshoot = true
	job.Transport = TransportNative

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != GiveUp {
		t.Errorf("action = %v, want GiveUp when the native transport itself failed", d.Action)
	}
}

func TestDecideAttemptCap(t *testing.T) {
	p := NewFailoverPolicy(testProvider(), true)
	job := newJob("https://myrient.erista.me/files/game.zip", "/tmp/game.zip", nil)
	job.Attempt = maxAttempts

	d := p.Decide(job, "dial tcp: i/o timeout")
	if d.Action != GiveUp {
		t.Errorf("action = %v, want GiveUp at the attempt cap", d.Action)
	}
}

func TestExtractToolErrorURL(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`Failed to copy: Get "https://f6.erista.me/files/a.zip": dial tcp: i/o timeout`, "https://f6.erista.me/files/a.zip"},
		{`HEAD "https://myrient.erista.me/files/a.zip": connection reset`, "https://myrient.erista.me/files/a.zip"},
		{"dial tcp: i/o timeout", ""},
	}

	for _, tt := range tests {
		if got := extractToolErrorURL(tt.line); got != tt.want {
			t.Errorf("extractToolErrorURL(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

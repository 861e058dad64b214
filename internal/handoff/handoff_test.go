package handoff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/romkeep/romkeep/internal/config"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "http://127.0.0.1:9666/flashgot"},
		{"http://127.0.0.1:9666/flashgot", "http://127.0.0.1:9666/flashgot"},
		{"127.0.0.1:7000", "http://127.0.0.1:7000/flashgot"},
		{"http://localhost:9666", "http://localhost:9666/flashgot"},
		{"http://localhost:9666/", "http://localhost:9666/flashgot"},
		{"http://localhost:9666/custom", "http://localhost:9666/custom/flashgot"},
		{"http://host:9666/flashgot?x=1", "http://host:9666/flashgot"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeEndpoint(tt.raw); got != tt.want {
				t.Errorf("NormalizeEndpoint(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEndpointCandidatesDeduplicate(t *testing.T) {
	got := endpointCandidates("http://127.0.0.1:9666/flashgot")
	if got[0] != "http://127.0.0.1:9666/flashgot" {
		t.Errorf("first candidate = %q, want the configured endpoint", got[0])
	}
	seen := make(map[string]bool)
	for _, c := range got {
		if seen[c] {
			t.Errorf("candidate %q listed twice", c)
		}
		seen[c] = true
	}
	if !seen["http://localhost:9666/flashgot"] {
		t.Errorf("candidates %v missing localhost variant", got)
	}
}

func TestSendPostsFlashGotForm(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(config.HandoffConfig{Endpoint: srv.URL + "/flashgot", Package: "test pkg"}, "myrient.erista.me")
	targets := []Target{
		{URL: "https://myrient.erista.me/files/set/a.zip", DestPath: "/library/nes/a.zip"},
		{URL: "https://myrient.erista.me/files/set/b.zip", DestPath: "/library/nes/b.zip"},
	}

	receipt, err := sink.Send(context.Background(), targets, true)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if receipt.Count != 2 {
		t.Errorf("Count = %d, want 2", receipt.Count)
	}

	urls := strings.Split(form["urls"][0], "\n")
	descs := strings.Split(form["description"][0], "\n")
	if len(urls) != 2 || len(descs) != 2 {
		t.Fatalf("urls/description lines = %d/%d, want 2/2", len(urls), len(descs))
	}
	if descs[0] != "a.zip" || descs[1] != "b.zip" {
		t.Errorf("descriptions = %v, want filenames in url order", descs)
	}
	if form.Get("autostart") != "1" {
		t.Errorf("autostart = %q, want %q", form.Get("autostart"), "1")
	}
	if form.Get("package") != "test pkg" {
		t.Errorf("package = %q, want %q", form.Get("package"), "test pkg")
	}
	if form.Get("dir") != "/library/nes" {
		t.Errorf("dir = %q, want common parent", form.Get("dir"))
	}
}

func TestSendRejectsIncompleteTarget(t *testing.T) {
	sink := NewSink(config.HandoffConfig{Endpoint: "http://127.0.0.1:9666"}, "myrient.erista.me")
	if _, err := sink.Send(context.Background(), []Target{{URL: "https://a/b.zip"}}, false); err == nil {
		t.Error("Send() with missing destination should fail")
	}
	if _, err := sink.Send(context.Background(), nil, false); err == nil {
		t.Error("Send() with no targets should fail")
	}
}

func TestSendUnreachableEndpoint(t *testing.T) {
	sink := NewSink(config.HandoffConfig{Endpoint: "http://127.0.0.1:1/flashgot"}, "myrient.erista.me")
	_, err := sink.Send(context.Background(), []Target{{URL: "https://a/b.zip", DestPath: "/tmp/b.zip"}}, false)
	if err == nil {
		t.Error("Send() with no listener should fail")
	}
}

package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeReadsSizeAndModTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("probe request missing User-Agent")
		}
		w.Header().Set("Content-Length", "1048576")
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewRemoteMetadataProbe(2 * time.Second)
	meta, err := p.Probe(context.Background(), srv.URL+"/game.zip")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if meta.Size != 1048576 {
		t.Errorf("Size = %d, want 1048576", meta.Size)
	}
	want := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	if !meta.LastModified.Equal(want) {
		t.Errorf("LastModified = %v, want %v", meta.LastModified, want)
	}
}

func TestProbeMissingContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewRemoteMetadataProbe(2 * time.Second)
	meta, err := p.Probe(context.Background(), srv.URL+"/game.zip")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if meta.Size != -1 {
		t.Errorf("Size = %d, want -1 when the server omits Content-Length", meta.Size)
	}
}

func TestProbeClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewRemoteMetadataProbe(2 * time.Second)
	_, err := p.Probe(context.Background(), srv.URL+"/missing.zip")

	var statusErr *ProbeStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Probe() error = %v, want *ProbeStatusError", err)
	}
	if !statusErr.Fatal() {
		t.Errorf("Fatal() = false for 404, want true")
	}
}

func TestProbeServerErrorIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewRemoteMetadataProbe(2 * time.Second)
	_, err := p.Probe(context.Background(), srv.URL+"/game.zip")

	var statusErr *ProbeStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Probe() error = %v, want *ProbeStatusError", err)
	}
	if statusErr.Fatal() {
		t.Errorf("Fatal() = true for 502, want false (server errors stay retryable)")
	}
}

func TestProbeUnreachableHost(t *testing.T) {
	p := NewRemoteMetadataProbe(500 * time.Millisecond)
	_, err := p.Probe(context.Background(), "http://127.0.0.1:1/game.zip")
	if err == nil {
		t.Fatal("Probe() to a closed port should fail")
	}
	var statusErr *ProbeStatusError
	if errors.As(err, &statusErr) {
		t.Errorf("transport failure must not be a ProbeStatusError, got %v", err)
	}
}

package engine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/romkeep/romkeep/internal/config"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Workers:      1,
		PollInterval: config.Duration(10 * time.Millisecond),
		ProbeTimeout: config.Duration(2 * time.Second),
	}
}

func newTestExecutor(t *testing.T, binPath string, isProvider func(string) bool) (*TransferExecutor, *engineState) {
	t.Helper()
	if isProvider == nil {
		isProvider = func(string) bool { return false }
	}
	cfg := testTransferConfig()
	cfg.BinaryName = binPath
	state := newEngineState()
	ex := newTransferExecutor(
		NewCommandBuilder(NewTransportResolver(binPath), cfg),
		NewRemoteMetadataProbe(2*time.Second),
		NewProgressEmitter(),
		isProvider,
		testEngineConfig(),
		false,
		state,
	)
	return ex, state
}

// headServer answers HEAD with the given Content-Length.
func headServer(t *testing.T, size int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSkipsCompleteFileWithoutSpawning(t *testing.T) {
	srv := headServer(t, 4)
	bin := fakeBinary(t, "rclone", `echo ran > "$(dirname "$0")/ran"`)
	ex, _ := newTestExecutor(t, bin, nil)

	dest := filepath.Join(t.TempDir(), "game.zip")
	if err := os.WriteFile(dest, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	job := newJob(srv.URL+"/game.zip", dest, nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusDone || !res.Skipped {
		t.Fatalf("Run() = %+v, want DONE skipped", res)
	}
	if res.Bytes != 4 {
		t.Errorf("Bytes = %d, want 4", res.Bytes)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(bin), "ran")); err == nil {
		t.Error("transfer tool was spawned for an already-complete file")
	}
}

func TestRunSuccessfulTransfer(t *testing.T) {
	srv := headServer(t, 4)
	bin := fakeBinary(t, "rclone", `printf 'data' > "$3"; exit 0`)
	ex, _ := newTestExecutor(t, bin, nil)

	dest := filepath.Join(t.TempDir(), "sub", "game.zip")
	job := newJob(srv.URL+"/game.zip", dest, nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusDone {
		t.Fatalf("Run() = %+v, want DONE", res)
	}
	if res.Transport != TransportCopyURL {
		t.Errorf("Transport = %v, want copyurl for a non-provider URL", res.Transport)
	}
	if res.Bytes != 4 {
		t.Errorf("Bytes = %d, want 4", res.Bytes)
	}
	if data, err := os.ReadFile(dest); err != nil || string(data) != "data" {
		t.Errorf("destination = %q (%v), want %q", data, err, "data")
	}
}

func TestRunReportsLastMeaningfulLine(t *testing.T) {
	srv := headServer(t, 100)
	script := `echo 'Failed to copy: Get "https://host/game.zip": dial tcp: i/o timeout'
echo 'NOTICE: Config file "/home/u/.config/rclone/rclone.conf" not found - using defaults'
exit 1`
	bin := fakeBinary(t, "rclone", script)
	ex, _ := newTestExecutor(t, bin, nil)

	job := newJob(srv.URL+"/game.zip", filepath.Join(t.TempDir(), "game.zip"), nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusError {
		t.Fatalf("Run() = %+v, want ERROR", res)
	}
	if !strings.Contains(res.ErrorLine, "i/o timeout") {
		t.Errorf("ErrorLine = %q, want the diagnostic line, not the config banner", res.ErrorLine)
	}
}

func TestRunFatalProbeStopsBeforeSpawn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	bin := fakeBinary(t, "rclone", `echo ran > "$(dirname "$0")/ran"`)
	ex, _ := newTestExecutor(t, bin, nil)

	job := newJob(srv.URL+"/missing.zip", filepath.Join(t.TempDir(), "missing.zip"), nil)
	job.Filename = "missing.zip"
	res := ex.Run(job)

	if res.Status != StatusError {
		t.Fatalf("Run() = %+v, want ERROR", res)
	}
	if !strings.Contains(res.ErrorLine, "404") {
		t.Errorf("ErrorLine = %q, want the probe status", res.ErrorLine)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(bin), "ran")); err == nil {
		t.Error("transfer tool was spawned despite a fatal probe")
	}
}

func TestRunHaltedBeforeStart(t *testing.T) {
	bin := fakeBinary(t, "rclone", "exit 0")
	ex, state := newTestExecutor(t, bin, nil)
	state.mu.Lock()
	state.cancelled = true
	state.mu.Unlock()

	job := newJob("http://127.0.0.1:1/game.zip", filepath.Join(t.TempDir(), "game.zip"), nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusHalted {
		t.Errorf("Run() = %+v, want HALTED without any work", res)
	}
}

func TestRunProviderURLUsesHTTPCopyTo(t *testing.T) {
	srv := headServer(t, 2)
	// copyto's destination is the sixth argument.
	bin := fakeBinary(t, "rclone", `printf 'ok' > "$6"; exit 0`)
	ex, _ := newTestExecutor(t, bin, func(string) bool { return true })

	job := newJob(srv.URL+"/files/game.zip", filepath.Join(t.TempDir(), "game.zip"), nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusDone {
		t.Fatalf("Run() = %+v, want DONE", res)
	}
	if res.Transport != TransportHTTPCopyTo {
		t.Errorf("Transport = %v, want http-copyto for a provider URL", res.Transport)
	}
}

func TestRunMissingBinaryFallsBackToNative(t *testing.T) {
	srv := headServer(t, 4)
	// The native command's destination is the eighth argument (after -o).
	curl := fakeBinary(t, "curl", `printf 'data' > "$8"; exit 0`)
	t.Setenv("PATH", filepath.Dir(curl))

	ex, _ := newTestExecutor(t, filepath.Join(t.TempDir(), "no-such-tool"), nil)
	ex.nativeFallback = true

	dest := filepath.Join(t.TempDir(), "game.zip")
	job := newJob(srv.URL+"/game.zip", dest, nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusDone {
		t.Fatalf("Run() = %+v, want DONE via the native transport", res)
	}
	if res.Transport != TransportNative {
		t.Errorf("Transport = %v, want native", res.Transport)
	}
	if data, _ := os.ReadFile(dest); string(data) != "data" {
		t.Errorf("destination = %q, want %q", data, "data")
	}
}

func TestRunMissingBinaryWithoutFallbackErrors(t *testing.T) {
	srv := headServer(t, 4)
	ex, _ := newTestExecutor(t, filepath.Join(t.TempDir(), "no-such-tool"), nil)

	job := newJob(srv.URL+"/game.zip", filepath.Join(t.TempDir(), "game.zip"), nil)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusError {
		t.Fatalf("Run() = %+v, want ERROR", res)
	}
	if !strings.Contains(res.ErrorLine, "not found") {
		t.Errorf("ErrorLine = %q, want the missing-tool diagnostic", res.ErrorLine)
	}
}

func TestRunResumesFromPartialFile(t *testing.T) {
	srv := headServer(t, 1000000)
	bin := fakeBinary(t, "rclone", "exit 0")
	ex, _ := newTestExecutor(t, bin, nil)

	dest := filepath.Join(t.TempDir(), "game.zip")
	if err := os.WriteFile(dest, make([]byte, 400000), 0644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	first := -1.0
	onProgress := func(_ string, percent float64, _ string, status Status) {
		mu.Lock()
		defer mu.Unlock()
		if status == StatusDownloading && first < 0 {
			first = percent
		}
	}

	job := newJob(srv.URL+"/game.zip", dest, onProgress)
	job.Filename = "game.zip"
	res := ex.Run(job)

	if res.Status != StatusDone {
		t.Fatalf("Run() = %+v, want DONE", res)
	}
	if !res.Resumed {
		t.Error("Resumed = false, want true for a partial destination")
	}
	mu.Lock()
	defer mu.Unlock()
	if first < 39.9 || first > 40.1 {
		t.Errorf("first DOWNLOADING percent = %.1f, want the partial fraction (~40)", first)
	}
}

func TestLastMeaningfulLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "last line wins",
			output: "first\nsecond\nthird\n",
			want:   "third",
		},
		{
			name:   "config banner skipped",
			output: "real error\nNOTICE: Config file \"x\" not found - using defaults\n",
			want:   "real error",
		},
		{
			name:   "carriage returns normalized",
			output: "progress\rfinal error",
			want:   "final error",
		},
		{
			name:   "empty output",
			output: "\n\n",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastMeaningfulLine(tt.output); got != tt.want {
				t.Errorf("lastMeaningfulLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

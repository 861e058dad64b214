package engine

import (
	"github.com/google/uuid"
)

// Status is a transfer's lifecycle state as reported to progress consumers.
// Jobs move QUEUED -> DOWNLOADING -> {DONE | ERROR | HALTED}. A retried
// attempt re-enters DOWNLOADING under the same logical job. HALTED marks an
// operator-requested stop and is never conflated with ERROR.
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusDownloading Status = "DOWNLOADING"
	StatusDone        Status = "DONE"
	StatusError       Status = "ERROR"
	StatusHalted      Status = "HALTED"
)

// Terminal reports whether a status ends a job attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusHalted:
		return true
	}
	return false
}

// Transport is one specific way of moving bytes to a local file.
type Transport string

const (
	// TransportCopyURL is the tool's generic single-file fetch.
	TransportCopyURL Transport = "copyurl"
	// TransportHTTPCopyTo addresses the provider through the tool's HTTP
	// backend (remote root + relative path), preserving the exact destination
	// filename.
	TransportHTTPCopyTo Transport = "http-copyto"
	// TransportNative shells out to the OS-native HTTP client as a last
	// resort when explicitly enabled.
	TransportNative Transport = "native"
)

// ProgressFunc receives coalesced progress events. percent is within [0,100];
// speed is a human-readable rate, or the diagnostic line on ERROR.
type ProgressFunc func(filename string, percent float64, speed string, status Status)

// Job carries one logical transfer through its whole retry chain. It is
// mutated only by the worker executing it.
type Job struct {
	ID       string
	URL      string
	DestPath string
	Filename string

	Attempt      int
	Troubleshoot bool
	Transport    Transport
	// PreserveHost suppresses URL canonicalization after a host hop so the
	// rotation actually lands on the chosen edge host.
	PreserveHost bool
	// TriedHosts accumulates every hostname contacted within this chain; the
	// rotation never revisits one.
	TriedHosts map[string]bool

	// RemoteSize is the probed Content-Length, or -1 when unknown.
	RemoteSize int64
	LocalSize  int64

	OnProgress ProgressFunc
}

func newJob(url, dest string, onProgress ProgressFunc) *Job {
	return &Job{
		ID:         uuid.New().String(),
		URL:        url,
		DestPath:   dest,
		Attempt:    0,
		Transport:  TransportCopyURL,
		TriedHosts: make(map[string]bool),
		RemoteSize: -1,
		OnProgress: onProgress,
	}
}

// MarkTried records a hostname in the chain's cumulative tried set.
func (j *Job) MarkTried(host string) {
	if host != "" {
		j.TriedHosts[host] = true
	}
}

// Result is the structured outcome of one attempt (or of the whole job once
// the retry chain settles).
type Result struct {
	URL       string
	DestPath  string
	Bytes     int64
	Status    Status
	Transport Transport
	// Skipped means the local file already matched the probed remote size and
	// no subprocess was spawned.
	Skipped bool
	// Resumed means the destination held partial bytes when the attempt began.
	Resumed bool
	// ErrorLine is the last meaningful line of the tool's combined output;
	// empty unless Status is ERROR.
	ErrorLine string
}

// HaltStats summarizes one halt request.
type HaltStats struct {
	Cancelled       int
	ActiveSignalled int
}

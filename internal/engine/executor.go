package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/romkeep/romkeep/internal/config"
	"github.com/romkeep/romkeep/internal/utils"
)

// speedWindowSpan bounds the sliding throughput window.
const speedWindowSpan = 1500 * time.Millisecond

// terminateGrace is how long a cancelled subprocess gets to exit after the
// graceful signal before it is force-killed.
const terminateGrace = time.Second

type progressSample struct {
	at    time.Time
	bytes int64
}

// TransferExecutor supervises the external transfer subprocess for one
// attempt. Progress is inferred by polling the destination file's size on a
// fixed cadence; the subprocess's stdout is only read after exit for the
// diagnostic line, never parsed live (pipe buffering stalls the tool).
//
// An ERROR result is not retried here; the staged escalation belongs to
// FailoverPolicy, driven by the scheduler worker.
type TransferExecutor struct {
	builder    *CommandBuilder
	probe      *RemoteMetadataProbe
	emitter    *ProgressEmitter
	isProvider func(string) bool

	pollInterval   time.Duration
	nativeFallback bool
	state          *engineState
}

func newTransferExecutor(builder *CommandBuilder, probe *RemoteMetadataProbe, emitter *ProgressEmitter, isProvider func(string) bool, cfg config.EngineConfig, nativeFallback bool, state *engineState) *TransferExecutor {
	return &TransferExecutor{
		builder:        builder,
		probe:          probe,
		emitter:        emitter,
		isProvider:     isProvider,
		pollInterval:   cfg.PollInterval.Std(),
		nativeFallback: nativeFallback,
		state:          state,
	}
}

// Run executes one transfer attempt for job and returns its structured
// outcome. It never panics across this boundary; subprocess and probe
// failures surface as ERROR results.
func (e *TransferExecutor) Run(job *Job) Result {
	log := utils.GetLogger("executor")
	res := Result{URL: job.URL, DestPath: job.DestPath, Status: StatusError, Transport: job.Transport}

	if e.state.cancelRequested() {
		e.emitter.Emit(job.OnProgress, job.Filename, 0, "", StatusHalted)
		res.Status = StatusHalted
		return res
	}

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0755); err != nil {
		res.ErrorLine = fmt.Sprintf("creating destination directory: %v", err)
		e.emitter.Emit(job.OnProgress, job.Filename, 0, res.ErrorLine, StatusError)
		return res
	}

	job.LocalSize = fileSize(job.DestPath)
	res.Resumed = job.LocalSize > 0

	// One probe per logical job; retries reuse the first answer.
	if job.RemoteSize < 0 {
		ctx, cancel := context.WithTimeout(context.Background(), e.probe.client.Timeout)
		meta, err := e.probe.Probe(ctx, job.URL)
		cancel()
		var statusErr *ProbeStatusError
		if errors.As(err, &statusErr) && statusErr.Fatal() {
			res.ErrorLine = statusErr.Error()
			e.emitter.Emit(job.OnProgress, job.Filename, 0, res.ErrorLine, StatusError)
			return res
		}
		if err != nil {
			log.Debug().Err(err).Str("url", job.URL).Msg("HEAD probe inconclusive, proceeding without remote size")
		} else {
			job.RemoteSize = meta.Size
		}
	}

	if job.RemoteSize > 0 && job.LocalSize == job.RemoteSize {
		log.Debug().Str("file", job.Filename).Msg("Local file already complete, skipping transfer")
		e.emitter.Emit(job.OnProgress, job.Filename, 100, "", StatusDone)
		return Result{
			URL: job.URL, DestPath: job.DestPath, Bytes: job.LocalSize,
			Status: StatusDone, Transport: job.Transport, Skipped: true, Resumed: false,
		}
	}

	currentPct := 0.0
	if job.RemoteSize > 0 && job.LocalSize > 0 {
		currentPct = float64(min(job.LocalSize, job.RemoteSize)) / float64(job.RemoteSize) * 100
	}

	transport := job.Transport
	if transport != TransportNative {
		if e.isProvider(job.URL) {
			transport = TransportHTTPCopyTo
		} else {
			transport = TransportCopyURL
		}
		job.Transport = transport
	}
	argv, err := e.builder.Build(job.URL, job.DestPath, transport, job.Troubleshoot)
	if errors.Is(err, ErrBinaryNotFound) && e.nativeFallback && transport != TransportNative {
		log.Warn().Str("file", job.Filename).Msg("Transfer tool unavailable, switching to native fallback transport")
		transport = TransportNative
		job.Transport = TransportNative
		argv, err = e.builder.Build(job.URL, job.DestPath, transport, false)
	}
	if err != nil {
		res.ErrorLine = err.Error()
		res.Transport = transport
		e.emitter.Emit(job.OnProgress, job.Filename, 0, res.ErrorLine, StatusError)
		return res
	}
	res.Transport = transport

	log.Debug().Str("file", job.Filename).Str("transport", string(transport)).Bool("troubleshoot", job.Troubleshoot).Int("attempt", job.Attempt).Msg("Spawning transfer tool")
	var output bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		res.ErrorLine = fmt.Sprintf("starting transfer tool: %v", err)
		e.emitter.Emit(job.OnProgress, job.Filename, currentPct, res.ErrorLine, StatusError)
		return res
	}

	e.state.registerProcess(job.DestPath, cmd)
	defer e.state.unregisterProcess(job.DestPath)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	cancelled := e.superviseTransfer(job, cmd, done, &currentPct)

	if cancelled || e.state.cancelRequested() {
		log.Debug().Str("file", job.Filename).Msg("Transfer halted mid-flight")
		e.emitter.Emit(job.OnProgress, job.Filename, currentPct, "", StatusHalted)
		return Result{
			URL: job.URL, DestPath: job.DestPath, Bytes: fileSize(job.DestPath),
			Status: StatusHalted, Transport: transport, Resumed: res.Resumed,
		}
	}
	if cmd.ProcessState != nil && cmd.ProcessState.Success() {
		bytesWritten := fileSize(job.DestPath)
		log.Debug().Str("file", job.Filename).Int64("bytes", bytesWritten).Msg("Transfer complete")
		e.emitter.Emit(job.OnProgress, job.Filename, 100, "", StatusDone)
		return Result{
			URL: job.URL, DestPath: job.DestPath, Bytes: bytesWritten,
			Status: StatusDone, Transport: transport, Resumed: res.Resumed,
		}
	}

	errorLine := lastMeaningfulLine(output.String())
	if errorLine == "" {
		errorLine = fmt.Sprintf("transfer tool exited with code %d", cmd.ProcessState.ExitCode())
	}
	log.Debug().Str("file", job.Filename).Str("error", errorLine).Msg("Transfer failed")
	e.emitter.Emit(job.OnProgress, job.Filename, currentPct, errorLine, StatusError)
	res.ErrorLine = errorLine
	res.Bytes = fileSize(job.DestPath)
	return res
}

// superviseTransfer drives the fixed-cadence poll loop until the subprocess
// exits, emitting throughput computed from destination file growth. Returns
// true when the loop ended because of a halt request.
func (e *TransferExecutor) superviseTransfer(job *Job, cmd *exec.Cmd, done chan error, currentPct *float64) bool {
	window := []progressSample{{at: time.Now(), bytes: job.LocalSize}}
	currentSpeed := "0 B/s"
	e.emitter.Emit(job.OnProgress, job.Filename, *currentPct, currentSpeed, StatusDownloading)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return false
		case <-ticker.C:
			if e.state.cancelRequested() {
				terminateProcess(cmd, done)
				return true
			}
			bytesNow := fileSize(job.DestPath)
			now := time.Now()
			window = append(window, progressSample{at: now, bytes: bytesNow})
			for len(window) >= 2 && now.Sub(window[0].at) > speedWindowSpan {
				window = window[1:]
			}
			if len(window) >= 2 {
				deltaT := window[len(window)-1].at.Sub(window[0].at).Seconds()
				deltaB := window[len(window)-1].bytes - window[0].bytes
				if deltaT > 0 && deltaB >= 0 {
					currentSpeed = utils.FormatSpeed(float64(deltaB) / deltaT)
				}
			}
			if job.RemoteSize > 0 {
				*currentPct = clampPercent(float64(bytesNow) / float64(job.RemoteSize) * 100)
			}
			e.emitter.Emit(job.OnProgress, job.Filename, *currentPct, currentSpeed, StatusDownloading)
		}
	}
}

// terminateProcess asks the subprocess to exit, waits briefly, then kills it.
func terminateProcess(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Windows has no SIGTERM delivery; fall straight through to Kill.
		_ = cmd.Process.Kill()
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// lastMeaningfulLine returns the last non-empty line of the tool's combined
// output, skipping its startup/config banners.
func lastMeaningfulLine(output string) string {
	text := strings.ReplaceAll(output, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Contains(line, "Config file") && strings.Contains(line, "using defaults") {
			continue
		}
		return line
	}
	return ""
}

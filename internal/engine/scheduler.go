package engine

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/romkeep/romkeep/internal/config"
	"github.com/romkeep/romkeep/internal/utils"
)

// engineState is the single shared mutable surface of one scheduler: the
// cancel flag, the tracked subprocess table, the in-flight job registry, and
// the queue/active counters all live behind one mutex. No other subsystem
// mutates engine state directly.
type engineState struct {
	mu        sync.Mutex
	cancelled bool
	procs     map[string]*exec.Cmd
	registry  map[string]registryEntry
	queued    int
	active    int
}

type registryEntry struct {
	URL      string
	DestPath string
	Filename string
}

func newEngineState() *engineState {
	return &engineState{
		procs:    make(map[string]*exec.Cmd),
		registry: make(map[string]registryEntry),
	}
}

func (s *engineState) cancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *engineState) registerProcess(destPath string, cmd *exec.Cmd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[destPath] = cmd
}

func (s *engineState) unregisterProcess(destPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, destPath)
}

// JobHandle identifies one submitted job and delivers its final result.
type JobHandle struct {
	ID       string
	Filename string
	done     chan Result
}

// Wait blocks until the job's retry chain settles and returns the outcome.
func (h *JobHandle) Wait() Result { return <-h.done }

// JobScheduler owns a fixed-size worker pool, the in-flight registry, and the
// halt protocol. The small pool is a deliberate rate limit against the remote
// service, not a throughput maximization.
type JobScheduler struct {
	cfg      *config.Config
	state    *engineState
	emitter  *ProgressEmitter
	executor *TransferExecutor
	policy   *FailoverPolicy

	jobCh chan *submission
	wg    sync.WaitGroup
}

type submission struct {
	job    *Job
	handle *JobHandle
}

// NewJobScheduler wires the full engine: resolver, probe, command builder,
// executor, failover policy, and progress emitter, then starts the workers.
func NewJobScheduler(cfg *config.Config) *JobScheduler {
	state := newEngineState()
	emitter := NewProgressEmitter()
	resolver := NewTransportResolver(cfg.Transfer.BinaryName)
	builder := NewCommandBuilder(resolver, cfg.Transfer)
	probe := NewRemoteMetadataProbe(cfg.Engine.ProbeTimeout.Std())
	policy := NewFailoverPolicy(cfg.Provider, cfg.Transfer.EnableNativeFallback)
	executor := newTransferExecutor(builder, probe, emitter, policy.IsProviderURL, cfg.Engine, cfg.Transfer.EnableNativeFallback, state)

	s := &JobScheduler{
		cfg:      cfg,
		state:    state,
		emitter:  emitter,
		executor: executor,
		policy:   policy,
		jobCh:    make(chan *submission, 256),
	}
	for i := 0; i < cfg.Engine.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i + 1)
	}
	return s
}

// Submit queues one transfer. When the scheduler was halted and has fully
// drained, the cancel flag is cleared so a new batch is not born cancelled.
func (s *JobScheduler) Submit(url, destPath string, onProgress ProgressFunc) *JobHandle {
	job := newJob(url, destPath, onProgress)
	job.Filename = utils.FilenameFor(url, destPath)
	handle := &JobHandle{ID: job.ID, Filename: job.Filename, done: make(chan Result, 1)}

	s.state.mu.Lock()
	if s.state.cancelled && s.state.active == 0 && s.state.queued == 0 {
		s.state.cancelled = false
		s.emitter.Reset()
	}
	s.state.queued++
	s.state.registry[job.ID] = registryEntry{URL: url, DestPath: destPath, Filename: job.Filename}
	s.state.mu.Unlock()

	s.emitter.Emit(onProgress, job.Filename, 0, "", StatusQueued)
	s.jobCh <- &submission{job: job, handle: handle}
	return handle
}

// Halt cancels every not-yet-started job, signals active jobs through the
// shared flag (observed within one poll tick), and force-terminates every
// tracked subprocess. Callers may keep using this scheduler: the next Submit
// on an idle scheduler clears the flag.
func (s *JobScheduler) Halt() HaltStats {
	log := utils.GetLogger("scheduler")
	s.state.mu.Lock()
	s.state.cancelled = true
	stats := HaltStats{Cancelled: s.state.queued, ActiveSignalled: s.state.active}
	procs := make([]*exec.Cmd, 0, len(s.state.procs))
	for _, cmd := range s.state.procs {
		procs = append(procs, cmd)
	}
	s.state.mu.Unlock()

	for _, cmd := range procs {
		killProcess(cmd)
	}
	if stats.Cancelled > 0 || stats.ActiveSignalled > 0 {
		log.Info().Int("cancelled", stats.Cancelled).Int("active", stats.ActiveSignalled).Msg("Halt requested")
	}
	return stats
}

// Close stops accepting submissions and waits for the workers to drain.
func (s *JobScheduler) Close() {
	close(s.jobCh)
	s.wg.Wait()
}

func (s *JobScheduler) worker(id int) {
	defer s.wg.Done()
	log := utils.GetLogger("scheduler").With().Int("workerID", id).Logger()
	for sub := range s.jobCh {
		s.state.mu.Lock()
		s.state.queued--
		s.state.active++
		s.state.mu.Unlock()

		res := s.runChain(sub.job)

		s.state.mu.Lock()
		s.state.active--
		delete(s.state.registry, sub.job.ID)
		s.state.mu.Unlock()

		log.Debug().Str("file", sub.job.Filename).Str("status", string(res.Status)).Msg("Job settled")
		sub.handle.done <- res
	}
}

// runChain drives one logical job through its attempts: each failed attempt
// is classified and, when policy allows, re-run with the chosen mutation
// (troubleshoot profile, mirror substitution, host hop, native fallback).
func (s *JobScheduler) runChain(job *Job) Result {
	log := utils.GetLogger("scheduler")
	for {
		if !job.PreserveHost {
			if canonical := s.policy.CanonicalizeURL(job.URL); canonical != job.URL {
				log.Debug().Str("from", utils.HostOf(job.URL)).Str("to", utils.HostOf(canonical)).Msg("Rewrote edge host to canonical")
				job.URL = canonical
			}
		}
		job.MarkTried(utils.HostOf(job.URL))

		res := s.executor.Run(job)
		if res.Status != StatusError {
			return res
		}

		decision := s.policy.Decide(job, res.ErrorLine)
		switch decision.Action {
		case GiveUp:
			return res
		case RetrySameWithTroubleshoot:
			log.Warn().Str("file", job.Filename).Str("error", res.ErrorLine).Msg("Retrying with troubleshoot profile")
			job.Troubleshoot = true
		case RetryMirror:
			log.Warn().Str("file", job.Filename).Str("from", utils.HostOf(job.URL)).Str("to", utils.HostOf(decision.URL)).Msg("Retrying against canonical mirror")
			job.URL = decision.URL
			job.Troubleshoot = true
		case RetryHostHop:
			log.Warn().Str("file", job.Filename).Str("from", utils.HostOf(job.URL)).Str("to", utils.HostOf(decision.URL)).Msg("Hopping to next edge host")
			job.URL = decision.URL
			job.Troubleshoot = true
			job.PreserveHost = true
		case RetryFallbackTransport:
			log.Warn().Str("file", job.Filename).Str("url", decision.URL).Msg("Falling back to native transport")
			job.URL = decision.URL
			job.Transport = TransportNative
		}
		job.Attempt++
	}
}

// killProcess force-terminates a tracked subprocess: graceful signal first,
// hard kill after the grace period without blocking the caller.
func killProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	proc := cmd.Process
	go func() {
		time.Sleep(terminateGrace)
		_ = proc.Kill()
	}()
}

package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// ErrBinaryNotFound is returned when the transfer tool cannot be located.
// Fatal unless the native fallback transport is enabled by configuration.
var ErrBinaryNotFound = fmt.Errorf("transfer tool binary not found (expected next to the executable or in PATH)")

// TransportResolver locates the external transfer binary and caches the
// result for subsequent attempts.
type TransportResolver struct {
	binaryName string

	mu     sync.Mutex
	cached string
}

func NewTransportResolver(binaryName string) *TransportResolver {
	return &TransportResolver{binaryName: binaryName}
}

// Resolve returns the transfer tool path, searching the cached result, the
// directory next to the running executable, then PATH.
func (r *TransportResolver) Resolve() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		if info, err := os.Stat(r.cached); err == nil && !info.IsDir() {
			return r.cached, nil
		}
		r.cached = ""
	}

	for _, name := range r.candidateNames() {
		if execDir, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(execDir), name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				r.cached = candidate
				return candidate, nil
			}
		}
	}
	for _, name := range r.candidateNames() {
		if resolved, err := exec.LookPath(name); err == nil {
			r.cached = resolved
			return resolved, nil
		}
	}
	return "", ErrBinaryNotFound
}

func (r *TransportResolver) candidateNames() []string {
	if runtime.GOOS == "windows" {
		return []string{r.binaryName + ".exe", r.binaryName}
	}
	return []string{r.binaryName, r.binaryName + ".exe"}
}

package output

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/romkeep/romkeep/internal/engine"
)

// Renderer turns the engine's progress callbacks into a live terminal
// display: one line per file with a bar, speed, and status indicator,
// redrawn in place. On a non-TTY it degrades to plain status lines.
type Renderer struct {
	mu       sync.Mutex
	rows     map[string]*displayRow
	order    int
	numLines int

	interactive bool
	doneCh      chan struct{}
	wg          sync.WaitGroup
}

type displayRow struct {
	filename string
	percent  float64
	speed    string
	status   engine.Status
	index    int
	updated  time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{
		rows:        make(map[string]*displayRow),
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
		doneCh:      make(chan struct{}),
	}
}

// Observe matches engine.ProgressFunc and may be passed to Submit directly.
func (r *Renderer) Observe(filename string, percent float64, speed string, status engine.Status) {
	r.mu.Lock()
	row, ok := r.rows[filename]
	if !ok {
		row = &displayRow{filename: filename, index: r.order}
		r.order++
		r.rows[filename] = row
	}
	row.percent = percent
	row.speed = speed
	row.status = status
	row.updated = time.Now()
	r.mu.Unlock()

	if !r.interactive {
		r.printPlain(filename, percent, speed, status)
	}
}

// printPlain emits one line per lifecycle change; DOWNLOADING samples are
// noise on a non-TTY and are dropped.
func (r *Renderer) printPlain(filename string, percent float64, speed string, status engine.Status) {
	switch status {
	case engine.StatusQueued:
		fmt.Printf("%s %s queued\n", FDim(StyleSymbols["pending"]), filename)
	case engine.StatusDone:
		fmt.Printf("%s %s done\n", FSuccess(StyleSymbols["pass"]), filename)
	case engine.StatusHalted:
		fmt.Printf("%s %s halted at %.1f%%\n", FWarning(StyleSymbols["warning"]), filename, percent)
	case engine.StatusError:
		fmt.Printf("%s %s failed: %s\n", FError(StyleSymbols["fail"]), filename, speed)
	}
}

// Start begins the redraw loop. No-op on a non-TTY.
func (r *Renderer) Start() {
	if !r.interactive {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.doneCh:
				r.redraw()
				return
			case <-ticker.C:
				r.redraw()
			}
		}
	}()
}

// Stop ends the redraw loop, leaves the final frame on screen, and prints
// the failure summary.
func (r *Renderer) Stop() {
	if r.interactive {
		close(r.doneCh)
		r.wg.Wait()
	}
	r.printSummary()
}

func (r *Renderer) sortedRows() []*displayRow {
	rows := make([]*displayRow, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	return rows
}

func (r *Renderer) redraw() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", r.numLines)
	}
	width := getTerminalWidth()
	nameWidth := max(20, width-60)

	lines := 0
	for _, row := range r.sortedRows() {
		name := truncateName(row.filename, nameWidth)
		switch row.status {
		case engine.StatusDownloading:
			fmt.Printf("%s %s %s %s\n",
				pendingStyle.Render(StyleSymbols["arrow"]),
				name,
				ProgressBar(row.percent, 30),
				FDim(row.speed))
		case engine.StatusQueued:
			fmt.Printf("%s %s %s\n", FDim(StyleSymbols["pending"]), name, FDim("queued"))
		case engine.StatusDone:
			fmt.Printf("%s %s %s\n", FSuccess(StyleSymbols["pass"]), name, FSuccess("done"))
		case engine.StatusHalted:
			fmt.Printf("%s %s %s\n", FWarning(StyleSymbols["warning"]), name, FWarning("halted"))
		case engine.StatusError:
			fmt.Printf("%s %s %s\n", FError(StyleSymbols["fail"]), name, FError("failed"))
		}
		lines++
	}
	r.numLines = lines
}

func (r *Renderer) printSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done, failed, halted int
	var failures []string
	for _, row := range r.rows {
		switch row.status {
		case engine.StatusDone:
			done++
		case engine.StatusError:
			failed++
			failures = append(failures, fmt.Sprintf("%s %s %s", row.filename, StyleSymbols["arrow"], row.speed))
		case engine.StatusHalted:
			halted++
		}
	}
	if failed == 0 && halted == 0 {
		return
	}
	fmt.Println()
	if halted > 0 {
		PrintWarning(fmt.Sprintf("%d halted, %d completed", halted, done))
	}
	if failed > 0 {
		PrintError(fmt.Sprintf("%d failed, %d completed", failed, done))
		sort.Strings(failures)
		for _, f := range failures {
			PrintDetail("  " + f)
		}
	}
}

package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lacquerai/silhouette/internal/style"
	"github.com/lacquerai/silhouette/pkg/events"
)

// phaseState tracks the spinner of one analysis phase
type phaseState struct {
	name      string
	status    string // "running", "completed", "failed"
	startTime time.Time
	spinner   style.Spinner
}

// ProgressTracker renders analysis events as one spinner per phase. It
// implements events.Listener.
type ProgressTracker struct {
	mu        sync.Mutex
	writer    io.Writer
	phases    map[string]*phaseState
	current   *phaseState
	anomalies int
	done      bool
}

// NewProgressTracker creates a progress tracker writing to w.
func NewProgressTracker(w io.Writer) *ProgressTracker {
	return &ProgressTracker{
		writer: w,
		phases: make(map[string]*phaseState),
	}
}

// StartListening processes events until the channel is closed.
func (pt *ProgressTracker) StartListening(progressChan <-chan events.Event) {
	for event := range progressChan {
		switch event.Type {
		case events.EventPhaseStarted:
			pt.startPhase(event.Phase, event.Total)
		case events.EventPhaseProgress, events.EventRowCompleted:
			pt.updatePhase(event.Phase, event.Done, event.Total)
		case events.EventPhaseCompleted:
			pt.completePhase(event.Phase)
		case events.EventAnalysisFailed:
			pt.failCurrent()
		case events.EventAnomaly:
			pt.mu.Lock()
			pt.anomalies++
			pt.mu.Unlock()
		}
	}
}

// StopListening stops any spinner still running.
func (pt *ProgressTracker) StopListening() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for _, state := range pt.phases {
		if state.status == "running" {
			state.spinner.Stop()
		}
	}
	pt.done = true
}

// HasCompleted reports whether StopListening has been called.
func (pt *ProgressTracker) HasCompleted() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.done
}

// Anomalies returns the number of anomaly events seen.
func (pt *ProgressTracker) Anomalies() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.anomalies
}

func (pt *ProgressTracker) startPhase(name string, total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	s := style.NewSpinner(pt.writer)
	s.SetSuffix(phaseTitle(name, 0, total))

	state := &phaseState{
		name:      name,
		status:    "running",
		startTime: time.Now(),
		spinner:   s,
	}
	pt.phases[name] = state
	pt.current = state

	s.Start()
}

func (pt *ProgressTracker) updatePhase(name string, done, total int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if state, exists := pt.phases[name]; exists && state.status == "running" {
		state.spinner.SetSuffix(phaseTitle(name, done, total))
	}
}

func (pt *ProgressTracker) completePhase(name string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if state, exists := pt.phases[name]; exists && state.status == "running" {
		state.status = "completed"
		state.spinner.SetFinalMSG(fmt.Sprintf("%s %s %s\n", style.SuccessIcon(), name, style.FormatDuration(time.Since(state.startTime))))
		state.spinner.Stop()
	}
}

func (pt *ProgressTracker) failCurrent() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if state := pt.current; state != nil && state.status == "running" {
		state.status = "failed"
		state.spinner.SetFinalMSG(fmt.Sprintf("%s %s\n", style.ErrorIcon(), state.name))
		state.spinner.Stop()
	}
}

func phaseTitle(name string, done, total int) string {
	if total <= 0 {
		return " " + style.AccentStyle.Render(name)
	}
	return fmt.Sprintf(" %s (%d/%d)", style.AccentStyle.Render(name), done, total)
}

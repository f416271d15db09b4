package style

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// TestEnv switches NewSpinner to the line-oriented TestSpinner when set to "true".
const TestEnv = "SILQ_TEST"

type Spinner interface {
	SetSuffix(suffix string)
	SetFinalMSG(finalMSG string)
	Start()
	Stop()
}

// TestSpinner is a spinner implementation for testing that outputs each
// spinner update on a new line instead of clearing and redrawing
type TestSpinner struct {
	mu       sync.Mutex
	Suffix   string
	FinalMSG string
	Writer   io.Writer
	active   bool
	label    func(a ...interface{}) string
}

// NewTestSpinner returns a TestSpinner writing to w.
func NewTestSpinner(w io.Writer) *TestSpinner {
	return &TestSpinner{
		Writer: w,
		label:  color.New(color.Bold).SprintFunc(),
	}
}

func (s *TestSpinner) SetSuffix(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.Writer, "%s %s\n", s.label("[SET SUFFIX]"), suffix)
	s.Suffix = suffix
}

func (s *TestSpinner) SetFinalMSG(finalMSG string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalMSG = finalMSG
}

// Start will start the indicator.
func (s *TestSpinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	fmt.Fprintf(s.Writer, "%s\n", s.label("[SPINNER START]"))
}

// Stop stops the indicator and prints the final message.
func (s *TestSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	fmt.Fprintf(s.Writer, "%s\n", s.label("[SPINNER STOP]"))
	if s.FinalMSG != "" {
		fmt.Fprintf(s.Writer, "%s %s\n", s.label("[FINAL MSG]"), s.FinalMSG)
	}
}

type TerminalSpinner struct {
	spinner *spinner.Spinner
}

func NewTerminalSpinner(cs []string, d time.Duration, options ...spinner.Option) *TerminalSpinner {
	return &TerminalSpinner{
		spinner: spinner.New(cs, d, options...),
	}
}

func (s *TerminalSpinner) SetSuffix(suffix string) {
	s.spinner.Lock()
	s.spinner.Suffix = suffix
	s.spinner.Unlock()
}

func (s *TerminalSpinner) SetFinalMSG(finalMSG string) {
	s.spinner.Lock()
	s.spinner.FinalMSG = finalMSG
	s.spinner.Unlock()
}

func (s *TerminalSpinner) Start() {
	s.spinner.Start()
}

func (s *TerminalSpinner) Stop() {
	s.spinner.Stop()
}

// NewSpinner returns a terminal spinner writing to w, or a TestSpinner when
// SILQ_TEST is "true".
func NewSpinner(w io.Writer) Spinner {
	if os.Getenv(TestEnv) == "true" {
		return NewTestSpinner(w)
	}

	return NewTerminalSpinner(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w))
}

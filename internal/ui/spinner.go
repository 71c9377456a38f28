package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// LineSpinner animates a single status line outside of a bubbletea program,
// for the setup steps that run before the TUI starts.
type LineSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped bool
}

// NewLineSpinner uses the Dot frames.
func NewLineSpinner(message string) *LineSpinner {
	return newLineSpinner(message, spinner.Dot, 80*time.Millisecond)
}

// NewConnectionSpinner uses the Globe frames for network waits.
func NewConnectionSpinner(message string) *LineSpinner {
	return newLineSpinner(message, spinner.Globe, 180*time.Millisecond)
}

func newLineSpinner(message string, sp spinner.Spinner, interval time.Duration) *LineSpinner {
	return &LineSpinner{
		out:      os.Stdout,
		spinner:  sp,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
	}
}

func (s *LineSpinner) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		frames := s.spinner.Frames
		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *LineSpinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	fmt.Fprint(s.out, "\r\033[K")
}

func (s *LineSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *LineSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

// RunConnectionSpinner starts a connection spinner and returns its stop function.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}

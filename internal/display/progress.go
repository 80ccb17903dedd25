package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	brailleFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	asciiFrames   = []string{"-", "\\", "|", "/"}
)

// Spinner animates a status line while a long operation runs.
type Spinner struct {
	w      io.Writer
	colors *Colors
	frames []string
	tick   time.Duration

	mu      sync.Mutex
	message string
	quit    chan struct{}
	stopped sync.WaitGroup
}

// NewSpinner creates a stopped spinner. ASCII spinners tick slower.
func NewSpinner(w io.Writer, colors *Colors, unicode bool, message string) *Spinner {
	s := &Spinner{w: w, colors: colors, message: message, frames: asciiFrames, tick: 100 * time.Millisecond}
	if unicode {
		s.frames, s.tick = brailleFrames, 80*time.Millisecond
	}
	return s
}

func (s *Spinner) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quit != nil
}

// Start begins the animation. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return
	}
	s.quit = make(chan struct{})
	s.stopped.Add(1)
	go s.loop(s.quit)
}

// Update replaces the message shown beside the frame.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop ends the animation and prints final, if any, on a clean line.
// Stopping a spinner that never started does nothing.
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	quit := s.quit
	s.quit = nil
	s.mu.Unlock()
	if quit == nil {
		return
	}

	close(quit)
	s.stopped.Wait()
	fmt.Fprint(s.w, "\r\033[K")
	if final != "" {
		fmt.Fprintln(s.w, final)
	}
}

func (s *Spinner) loop(quit <-chan struct{}) {
	defer s.stopped.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		line := s.colors.Paint(StyleHeading, s.frames[i%len(s.frames)]) + " " + s.message
		s.mu.Unlock()
		fmt.Fprint(s.w, "\r\033[K"+line)
	}
}

package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner animates a loading indicator, for example while a permit
// transaction waits for its receipt.
type Spinner struct {
	out    io.Writer
	frames []string
	msg    string
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a spinner that draws msg on out.
func NewSpinner(out io.Writer, msg string) *Spinner {
	return &Spinner{
		out:    out,
		frames: spinnerFrames,
		msg:    msg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins the animation in a goroutine.
func (s *Spinner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s  %s", StyleChain.Render(s.frames[i%len(s.frames)]), s.msg)
			select {
			case <-s.stop:
				fmt.Fprintf(s.out, "\r%-60s\r", "")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the spinner and waits for it to finish. It is safe to call twice.
func (s *Spinner) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// StopWithMsg halts the spinner and prints a final line.
func (s *Spinner) StopWithMsg(msg string) {
	s.Stop()
	fmt.Fprintln(s.out, msg)
}

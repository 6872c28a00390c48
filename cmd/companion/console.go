package main

import (
	"fmt"
	"io"
	"sync"

	"pasarlive-client/internal/notify"
)

// consoleRenderer is the headless stand-in for the toast layer. stdout is
// the companion's only surface.
type consoleRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

func (r *consoleRenderer) Render(alert notify.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "[%s] %s — %s\n", alert.Kind, alert.Title, alert.Body)
}

// consoleSound prints the cue name instead of playing audio.
type consoleSound struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *consoleSound) Play(sound notify.Sound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "♪ %s\n", sound)
}

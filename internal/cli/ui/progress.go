package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = [...]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// clearLine returns the cursor to column 0 and erases the line
const clearLine = "\r\033[K"

// Spinner animates a status line while a single conversion runs. The
// converter gives no progress of its own, so the line shows elapsed time.
type Spinner struct {
	w        io.Writer
	interval time.Duration
	noColor  bool

	mu      sync.Mutex
	message string
	stop    chan struct{}
	wg      sync.WaitGroup
}

// SpinnerOptions configures a Spinner. Interval defaults to 100ms.
type SpinnerOptions struct {
	Message  string
	NoColor  bool
	Interval time.Duration
}

// NewSpinner creates a stopped spinner writing to w
func NewSpinner(w io.Writer, opts SpinnerOptions) *Spinner {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	return &Spinner{w: w, interval: opts.Interval, noColor: opts.NoColor, message: opts.Message}
}

// Start begins the animation. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stop, time.Now())
}

// Stop ends the animation and clears the line. Once Stop returns nothing
// else is written until the next Start.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	s.wg.Wait()
	io.WriteString(s.w, clearLine)
}

// Success stops the spinner and prints a check line
func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintln(s.w, FormatSuccess(message, s.noColor))
}

// Error stops the spinner and prints a failure line
func (s *Spinner) Error(message string) {
	s.Stop()
	paint(s.noColor, color.FgRed, color.Bold).Fprintf(s.w, "❌ %s\n", message)
}

// UpdateMessage replaces the text shown next to the spinner
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

func (s *Spinner) run(stop <-chan struct{}, started time.Time) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	frame := paint(s.noColor, color.FgCyan)

	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()

			line := fmt.Sprintf("%s %s", spinnerFrames[i%len(spinnerFrames)], msg)
			if elapsed := now.Sub(started); elapsed >= time.Second {
				line += fmt.Sprintf(" (%s)", elapsed.Truncate(time.Second))
			}
			io.WriteString(s.w, clearLine)
			frame.Fprint(s.w, line)
		}
	}
}

// ProgressBar tracks a batch of scene conversions and names the scene
// finished last
type ProgressBar struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	done    int
	width   int
	label   string
	last    string
	noColor bool
}

// ProgressBarOptions configures a ProgressBar. Width defaults to 40 cells.
type ProgressBarOptions struct {
	Total   int
	Width   int
	Message string
	NoColor bool
}

// NewProgressBar creates a bar at zero. Nothing is drawn for a zero Total.
func NewProgressBar(w io.Writer, opts ProgressBarOptions) *ProgressBar {
	if opts.Width <= 0 {
		opts.Width = 40
	}
	return &ProgressBar{w: w, total: opts.Total, width: opts.Width, label: opts.Message, noColor: opts.NoColor}
}

// Step records one finished scene
func (p *ProgressBar) Step(scene string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = scene
	p.update(p.done + 1)
}

// Add advances the bar by n without naming a scene
func (p *ProgressBar) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.done + n)
}

// Set moves the bar to n, capped at Total
func (p *ProgressBar) Set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(n)
}

// Current returns the number of finished steps
func (p *ProgressBar) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish fills the bar and ends the line
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = ""
	p.update(p.total)
	fmt.Fprintln(p.w)
}

// FinishWithMessage fills the bar and prints a check line below it
func (p *ProgressBar) FinishWithMessage(message string) {
	p.Finish()
	fmt.Fprintln(p.w, FormatSuccess(message, p.noColor))
}

func (p *ProgressBar) update(n int) {
	p.done = min(max(n, 0), p.total)
	if p.total == 0 {
		return
	}

	filled := p.width * p.done / p.total
	var b strings.Builder
	b.WriteString(clearLine + "[")
	paint(p.noColor, color.FgCyan).Fprint(&b, strings.Repeat("█", filled))
	paint(p.noColor, color.FgHiBlack).Fprint(&b, strings.Repeat("░", p.width-filled))
	fmt.Fprintf(&b, "] %3d%% (%d/%d)", 100*p.done/p.total, p.done, p.total)
	if p.label != "" {
		b.WriteString(" " + p.label)
	}
	if p.last != "" {
		b.WriteString(": " + p.last)
	}
	io.WriteString(p.w, b.String())
}

// WithSpinner runs fn behind a spinner and reports its outcome
func WithSpinner(w io.Writer, message string, noColor bool, fn func() error) error {
	s := NewSpinner(w, SpinnerOptions{Message: message, NoColor: noColor})
	s.Start()

	if err := fn(); err != nil {
		s.Error(message + " failed")
		return err
	}
	s.Success(message)
	return nil
}

// WithProgress runs fn with a bar of total steps. On error the bar is left
// where it stopped.
func WithProgress(w io.Writer, message string, total int, noColor bool, fn func(*ProgressBar) error) error {
	bar := NewProgressBar(w, ProgressBarOptions{Total: total, Message: message, NoColor: noColor})

	if err := fn(bar); err != nil {
		fmt.Fprintln(w)
		return err
	}
	bar.FinishWithMessage(message)
	return nil
}

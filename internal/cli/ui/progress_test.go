package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSpinnerStartStop(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{
		Message:  "Converting arm.usda",
		NoColor:  true,
		Interval: 10 * time.Millisecond,
	})

	spinner.Start()
	spinner.Start() // no second goroutine
	time.Sleep(50 * time.Millisecond)
	spinner.UpdateMessage("Injecting metadata")
	time.Sleep(50 * time.Millisecond)
	spinner.Stop()
	spinner.Stop()

	out := buf.String()
	if !strings.Contains(out, "Converting arm.usda") {
		t.Errorf("expected spinner message, got %q", out)
	}
	if !strings.Contains(out, "Injecting metadata") {
		t.Errorf("expected updated message, got %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("expected the line to be cleared on stop, got %q", out)
	}
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	NewSpinner(&buf, SpinnerOptions{NoColor: true}).Stop()
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestWithSpinner(t *testing.T) {
	var buf bytes.Buffer
	err := WithSpinner(&buf, "Converting", true, func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "✓ Converting\n") {
		t.Errorf("expected success line, got %q", buf.String())
	}

	buf.Reset()
	boom := errors.New("boom")
	err = WithSpinner(&buf, "Converting", true, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(buf.String(), "❌ Converting failed\n") {
		t.Errorf("expected failure line, got %q", buf.String())
	}
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, ProgressBarOptions{Total: 4, Width: 8, Message: "scenes", NoColor: true})

	bar.Add(1)
	if !strings.Contains(buf.String(), "[██░░░░░░]  25% (1/4) scenes") {
		t.Errorf("unexpected render %q", buf.String())
	}

	bar.Set(10)
	if bar.Current() != 4 {
		t.Errorf("progress should be capped at total, got %d", bar.Current())
	}

	buf.Reset()
	bar.FinishWithMessage("Converted 4 scenes")
	if !strings.Contains(buf.String(), "100% (4/4)") || !strings.Contains(buf.String(), "✓ Converted 4 scenes") {
		t.Errorf("unexpected finish %q", buf.String())
	}
}

func TestProgressBarStep(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, ProgressBarOptions{Total: 2, Width: 4, Message: "Converting", NoColor: true})

	bar.Step("robot.usda")
	if !strings.HasSuffix(buf.String(), "[██░░]  50% (1/2) Converting: robot.usda") {
		t.Errorf("unexpected render %q", buf.String())
	}

	buf.Reset()
	bar.Finish()
	if strings.Contains(buf.String(), "robot.usda") {
		t.Errorf("finished bar should not name a scene, got %q", buf.String())
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewProgressBar(&buf, ProgressBarOptions{NoColor: true}).Add(1)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestWithProgress(t *testing.T) {
	var buf bytes.Buffer
	err := WithProgress(&buf, "Converted", 2, true, func(bar *ProgressBar) error {
		bar.Add(1)
		bar.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "✓ Converted") {
		t.Errorf("expected success line, got %q", buf.String())
	}

	buf.Reset()
	boom := errors.New("boom")
	if err := WithProgress(&buf, "Converted", 2, true, func(*ProgressBar) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

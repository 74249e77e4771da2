// Package converter wraps the external USD to glTF converter.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBinary is the converter looked up on PATH when none is configured
const DefaultBinary = "usd2gltf"

// ErrToolNotFound is returned when the converter binary cannot be found
var ErrToolNotFound = errors.New("converter tool not found")

// Converter turns a USD file into a glTF or GLB file
type Converter interface {
	Convert(ctx context.Context, input, output string) error
}

// ConversionError is returned when the converter exits unsuccessfully
type ConversionError struct {
	Input    string
	ExitCode int
	Stderr   string
}

func (e *ConversionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("conversion of %s failed with exit code %d", e.Input, e.ExitCode)
	}
	return fmt.Sprintf("conversion of %s failed with exit code %d: %s", e.Input, e.ExitCode, msg)
}

// USD2GLTF runs `<binary> <input> -o <output>`
type USD2GLTF struct {
	// Binary is a path or a name looked up on PATH
	Binary string
	// Timeout bounds a single conversion; zero means no limit
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a USD2GLTF converter. An empty binary means DefaultBinary.
func New(binary string, timeout time.Duration, logger *zap.Logger) *USD2GLTF {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &USD2GLTF{Binary: binary, Timeout: timeout, Logger: logger}
}

// LookPath resolves the converter binary
func (c *USD2GLTF) LookPath() (string, error) {
	path, err := exec.LookPath(c.binary())
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolNotFound, c.binary(), err)
	}
	return path, nil
}

// Convert runs the converter. The output directory is created if needed.
func (c *USD2GLTF) Convert(ctx context.Context, input, output string) error {
	logger := c.logger()

	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input %s: %w", input, err)
	}

	bin, err := c.LookPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, input, "-o", output)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logger.Debug("running converter",
		zap.String("binary", bin),
		zap.String("input", input),
		zap.String("output", output))

	err = cmd.Run()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		logger.Debug("converter output", zap.String("stdout", out))
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("conversion of %s aborted: %w", input, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ConversionError{
				Input:    input,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return fmt.Errorf("failed to run converter: %w", err)
	}

	if _, err := os.Stat(output); err != nil {
		return &ConversionError{
			Input:    input,
			ExitCode: 0,
			Stderr:   fmt.Sprintf("converter reported success but wrote no output at %s", output),
		}
	}

	logger.Info("converted",
		zap.String("input", input),
		zap.String("output", output),
		zap.Duration("duration", time.Since(start)))

	return nil
}

func (c *USD2GLTF) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c *USD2GLTF) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

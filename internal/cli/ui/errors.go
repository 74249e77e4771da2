package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

type levelStyle struct {
	symbol string
	attr   color.Attribute
}

var levelStyles = map[ErrorLevel]levelStyle{
	ErrorLevelError:   {"❌", color.FgRed},
	ErrorLevelWarning: {"⚠️", color.FgYellow},
	ErrorLevelInfo:    {"ℹ️", color.FgCyan},
}

// ErrorOptions describes a message block. Problem is required; the other
// parts are printed only when set.
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// paint returns a color that honours noColor
func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// FormatError renders a message block:
//
//	❌ SCENE NOT FOUND: Cannot find scene 'scenes/rbot.usda'.
//	   Cannot find scene 'scenes/rbot.usda'.
//
//	   Did you mean: robot.usda?
//
//	   → List scenes: ls *.usda
func FormatError(opts ErrorOptions) string {
	style, ok := levelStyles[opts.Level]
	if !ok {
		style = levelStyles[ErrorLevelError]
	}
	header := paint(opts.NoColor, style.attr, color.Bold)
	body := paint(opts.NoColor, style.attr)

	var b strings.Builder

	if opts.Context == "" {
		header.Fprintf(&b, "%s %s\n", style.symbol, opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s: %s\n", style.symbol, strings.ToUpper(opts.Context), opts.Problem)
		if opts.Problem != "" {
			body.Fprintf(&b, "   %s\n", opts.Problem)
		}
	}

	if opts.Consequence != "" {
		b.WriteByte('\n')
		body.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteByte('\n')
		paint(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteByte('\n')
		hint := paint(opts.NoColor, color.FgCyan)
		for _, h := range opts.HelpCommands {
			hint.Fprintf(&b, "   → %s\n", h)
		}
	}

	return b.String()
}

// WriteError writes FormatError(opts) to w
func WriteError(w io.Writer, opts ErrorOptions) {
	io.WriteString(w, FormatError(opts))
}

// FormatSuccess returns a green check line
func FormatSuccess(message string, noColor bool) string {
	return paint(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes FormatSuccess(message) and a newline to w
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// SceneNotFoundError reports a missing scene file with close matches from
// the same directory
func SceneNotFoundError(path string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "scene not found",
		Problem:     fmt.Sprintf("Cannot find scene '%s'.", path),
		Suggestions: suggestions,
		HelpCommands: []string{
			"List scenes: ls *.usda",
			"Get help: usdbridge extract --help",
		},
		NoColor: noColor,
	})
}

// ConverterError reports a failed or missing usd2gltf
func ConverterError(message, consequence string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "conversion failed",
		Problem:     message,
		Consequence: consequence,
		HelpCommands: []string{
			"Set the converter: usdbridge convert --converter /path/to/usd2gltf",
			"Inject into an existing model instead: usdbridge inject --help",
		},
		NoColor: noColor,
	})
}

// ConfigError reports an invalid usdbridge.yaml
func ConfigError(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "configuration error",
		Problem:     message,
		Suggestions: suggestions,
		HelpCommands: []string{
			"View config: cat usdbridge.yaml",
			"Get help: usdbridge --help",
		},
		NoColor: noColor,
	})
}

// Warning renders a yellow message without a context line
func Warning(message string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelWarning,
		Problem:     message,
		Suggestions: suggestions,
		NoColor:     noColor,
	})
}

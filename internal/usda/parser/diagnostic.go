package parser

import (
	"errors"
	"fmt"
)

// ErrUnterminatedDictionary is returned when a nested dictionary opener has
// no matching closing brace before the end of its enclosing body
var ErrUnterminatedDictionary = errors.New("unterminated dictionary")

// Severity represents the severity level of a diagnostic
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for Severity
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Diagnostic codes
const (
	CodeUnrecognizedLine       = "USD001"
	CodeUnterminatedDictionary = "USD002"
	CodeNestedFallback         = "USD003"
	CodeInvalidNumber          = "USD004"
)

// Diagnostic records a recoverable problem found while parsing.
// Line is 1-indexed relative to the body handed to ParseDictionary.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Key      string   `json:"key,omitempty"`
	Message  string   `json:"message"`
}

// Error implements the error interface
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%d: %s: %s", d.Line, d.Code, d.Message)
}

// Package parser reads the typed dictionary bodies found in USD text layers
// (customData, customLayerData) into ordered Dictionary values.
//
// The grammar is a line-oriented subset of the USD dictionary syntax:
//
//	string role = "sensor"
//	float threshold = 42.5
//	string[] tags = ["a", "b"]
//	dictionary limits = {
//	    float max = 10
//	}
//
// Lines that match none of the recognized forms are skipped. Parsing never
// aborts on a bad entry; it degrades per entry and records a Diagnostic.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const keyPattern = `([A-Za-z_][A-Za-z0-9_:.\-]*)`

// Entry forms, tried in this order
var (
	stringEntry = regexp.MustCompile(`^(?:string|token)\s+` + keyPattern + `\s*=\s*"((?:[^"\\]|\\.)*)"\s*$`)
	floatEntry  = regexp.MustCompile(`^(?:float|double|int)\s+` + keyPattern + `\s*=\s*([+-]?(?:\d+(?:\.\d*)?|\.\d+))\s*$`)
	arrayEntry  = regexp.MustCompile(`^(?:string|token)\[\]\s+` + keyPattern + `\s*=\s*\[(.*)\]\s*$`)
	dictEntry   = regexp.MustCompile(`^dictionary\s+` + keyPattern + `\s*=\s*\{(.*)$`)

	quotedToken = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	unescaper   = strings.NewReplacer(`\"`, `"`, `\\`, `\`)
)

// Parser converts dictionary bodies into Dictionary values.
//
// Thread Safety: Parser instances are NOT thread-safe because they collect
// diagnostics. Each goroutine must create its own Parser via New().
type Parser struct {
	logger      *zap.Logger
	diagnostics []Diagnostic
}

// New creates a Parser that reports skipped and degraded entries to logger.
// A nil logger discards them.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		logger:      logger,
		diagnostics: make([]Diagnostic, 0),
	}
}

// ParseDictionary parses body with a throwaway Parser
func ParseDictionary(body string) (*Dictionary, error) {
	return New(nil).ParseDictionary(body)
}

// ParseDictionary parses the text between a dictionary's opening and closing
// braces. The returned dictionary is never nil. A non-nil error means a
// dictionary opened at this level was never closed; the dictionary then
// holds every entry parsed before it, plus the unterminated key as Raw.
func (p *Parser) ParseDictionary(body string) (*Dictionary, error) {
	p.diagnostics = p.diagnostics[:0]
	return p.parseLines(splitLines(body), 0)
}

// Diagnostics returns the diagnostics recorded by the last ParseDictionary call
func (p *Parser) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

// parseLines parses one dictionary level. offset is the number of body
// lines that precede lines[0], used for line numbers in diagnostics.
func (p *Parser) parseLines(lines []string, offset int) (*Dictionary, error) {
	dict := NewDictionary()

	for i := 0; i < len(lines); i++ {
		lineNo := offset + i + 1
		line := strings.TrimSpace(lines[i])

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := stringEntry.FindStringSubmatch(line); m != nil {
			dict.Set(m[1], String(unescaper.Replace(m[2])))
			continue
		}

		if m := floatEntry.FindStringSubmatch(line); m != nil {
			f, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				p.report(Diagnostic{
					Code:     CodeInvalidNumber,
					Severity: Warning,
					Line:     lineNo,
					Key:      m[1],
					Message:  fmt.Sprintf("invalid number %q: %v", m[2], err),
				})
				continue
			}
			dict.Set(m[1], Float(f))
			continue
		}

		if m := arrayEntry.FindStringSubmatch(line); m != nil {
			dict.Set(m[1], parseArray(m[2]))
			continue
		}

		if m := dictEntry.FindStringSubmatch(line); m != nil {
			key, rest := m[1], m[2]
			depth := 1 + braceBalance(rest)

			// Opener closes on its own line: { float v = 1 } or {}
			if depth <= 0 {
				inner := rest[:strings.LastIndex(rest, "}")]
				p.setNested(dict, key, []string{inner}, lineNo-1, lineNo)
				continue
			}

			end := -1
			for j := i + 1; j < len(lines); j++ {
				depth += braceBalance(lines[j])
				if depth <= 0 {
					end = j
					break
				}
			}

			if end < 0 {
				dict.Set(key, Raw(strings.Join(lines[i+1:], "\n")))
				p.report(Diagnostic{
					Code:     CodeUnterminatedDictionary,
					Severity: Error,
					Line:     lineNo,
					Key:      key,
					Message:  "dictionary has no closing brace",
				})
				return dict, fmt.Errorf("line %d: dictionary %q: %w", lineNo, key, ErrUnterminatedDictionary)
			}

			p.setNested(dict, key, lines[i+1:end], offset+i+1, lineNo)
			i = end
			continue
		}

		p.report(Diagnostic{
			Code:     CodeUnrecognizedLine,
			Severity: Info,
			Line:     lineNo,
			Message:  fmt.Sprintf("unrecognized line %q", line),
		})
	}

	return dict, nil
}

// setNested parses a captured block and stores it under key. A block that
// fails to parse is kept verbatim as Raw so the parent stays usable.
func (p *Parser) setNested(dict *Dictionary, key string, block []string, offset, lineNo int) {
	child, err := p.parseLines(block, offset)
	if err != nil {
		dict.Set(key, Raw(strings.Join(block, "\n")))
		p.report(Diagnostic{
			Code:     CodeNestedFallback,
			Severity: Warning,
			Line:     lineNo,
			Key:      key,
			Message:  fmt.Sprintf("nested dictionary kept as raw text: %v", err),
		})
		return
	}
	dict.Set(key, child)
}

func (p *Parser) report(d Diagnostic) {
	p.diagnostics = append(p.diagnostics, d)

	fields := []zap.Field{
		zap.String("code", d.Code),
		zap.Int("line", d.Line),
		zap.String("message", d.Message),
	}
	if d.Key != "" {
		fields = append(fields, zap.String("key", d.Key))
	}

	switch d.Severity {
	case Info:
		p.logger.Debug("dictionary entry skipped", fields...)
	default:
		p.logger.Warn("dictionary entry degraded", fields...)
	}
}

func parseArray(list string) StringArray {
	matches := quotedToken.FindAllStringSubmatch(list, -1)
	arr := make(StringArray, 0, len(matches))
	for _, m := range matches {
		arr = append(arr, unescaper.Replace(m[1]))
	}
	return arr
}

func braceBalance(s string) int {
	return strings.Count(s, "{") - strings.Count(s, "}")
}

func splitLines(body string) []string {
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

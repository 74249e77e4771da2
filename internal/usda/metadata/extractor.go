// Package metadata locates customLayerData and customData blocks in USD text
// layers and parses their bodies into a name-keyed Mapping.
//
// Block location and block parsing are separate steps: regular expressions
// find the blocks and capture their bodies, and package parser turns each
// body into a Dictionary.
package metadata

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/usda/parser"
)

const (
	// DefaultLayerKeyword introduces document-level metadata
	DefaultLayerKeyword = "customLayerData"
	// DefaultEntityKeyword introduces per-prim metadata
	DefaultEntityKeyword = "customData"
)

// Block describes one metadata block found in a document
type Block struct {
	// Name is the entity name, or LayerKey for the document-level block
	Name string `json:"name"`
	// Line is the 1-indexed line on which the block's clause starts
	Line int `json:"line"`
	// Keys counts the top-level keys this block contributed
	Keys int `json:"keys"`
	// Err is set when the body had an unterminated dictionary
	Err error `json:"-"`
	// Diagnostics lists the entries skipped or degraded while parsing, with
	// lines counted from the start of the document
	Diagnostics []parser.Diagnostic `json:"diagnostics,omitempty"`
}

// Report is the detailed result of an extraction
type Report struct {
	Mapping Mapping `json:"mapping"`
	Blocks  []Block `json:"blocks"`
}

// Extractor finds metadata blocks in USD text.
//
// An Extractor holds no per-call state and is safe for concurrent use.
type Extractor struct {
	logger        *zap.Logger
	layerKeyword  string
	entityKeyword string
	layerPattern  *regexp.Regexp
	entityPattern *regexp.Regexp
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLayerKeyword overrides the keyword that opens the document-level block
func WithLayerKeyword(keyword string) Option {
	return func(e *Extractor) {
		e.layerKeyword = keyword
	}
}

// WithEntityKeyword overrides the keyword that opens per-entity blocks
func WithEntityKeyword(keyword string) Option {
	return func(e *Extractor) {
		e.entityKeyword = keyword
	}
}

// NewExtractor creates an Extractor. A nil logger discards output.
func NewExtractor(logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Extractor{
		logger:        logger,
		layerKeyword:  DefaultLayerKeyword,
		entityKeyword: DefaultEntityKeyword,
	}
	for _, opt := range opts {
		opt(e)
	}

	// A body ends at the first closing brace that is directly followed by
	// the closing parenthesis of the metadata clause.
	const bodyEnd = `\s*=\s*\{(.*?)\n\s*\}\s*\)`

	e.layerPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(e.layerKeyword) + bodyEnd)
	e.entityPattern = regexp.MustCompile(
		`(?s)\b([A-Za-z_]\w*)\s+"([^"]+)"\s*\(\s*` + regexp.QuoteMeta(e.entityKeyword) + bodyEnd)

	return e
}

// Extract returns a Mapping built with a default Extractor
func Extract(document string) Mapping {
	return NewExtractor(nil).Extract(document)
}

// Extract scans document for metadata blocks and returns the name-keyed
// mapping. It never fails: blocks that cannot be used are logged and left
// out, and entity blocks with partially broken bodies keep what parsed.
func (e *Extractor) Extract(document string) Mapping {
	return e.ExtractReport(document).Mapping
}

// ExtractReport is Extract with per-block details
func (e *Extractor) ExtractReport(document string) *Report {
	report := &Report{
		Mapping: make(Mapping),
		Blocks:  make([]Block, 0),
	}

	if loc := e.layerPattern.FindStringSubmatchIndex(document); loc != nil {
		block := Block{Name: LayerKey, Line: lineAt(document, loc[0])}
		body := document[loc[2]:loc[3]]

		p := parser.New(e.logger.With(zap.String("block", e.layerKeyword)))
		dict, err := p.ParseDictionary(body)
		block.Err = err
		block.Diagnostics = inDocument(p.Diagnostics(), lineAt(document, loc[2]))

		if err != nil {
			e.logger.Warn("document metadata could not be parsed; omitting it",
				zap.Int("line", block.Line),
				zap.Error(err))
		} else {
			report.Mapping[LayerKey] = dict
			block.Keys = dict.Len()
		}
		report.Blocks = append(report.Blocks, block)
	}

	for _, loc := range e.entityPattern.FindAllStringSubmatchIndex(document, -1) {
		name := document[loc[4]:loc[5]]
		body := document[loc[6]:loc[7]]
		block := Block{Name: name, Line: lineAt(document, loc[0])}

		if name == LayerKey {
			e.logger.Warn("entity uses the reserved layer key as its name; skipping",
				zap.Int("line", block.Line))
			continue
		}

		p := parser.New(e.logger.With(zap.String("entity", name)))
		dict, err := p.ParseDictionary(body)
		block.Err = err
		block.Keys = dict.Len()
		block.Diagnostics = inDocument(p.Diagnostics(), lineAt(document, loc[6]))

		if err != nil {
			e.logger.Warn("entity metadata parsed partially",
				zap.String("entity", name),
				zap.Int("line", block.Line),
				zap.Error(err))
		}

		if _, exists := report.Mapping[name]; exists {
			e.logger.Debug("duplicate entity metadata; later block wins",
				zap.String("entity", name),
				zap.Int("line", block.Line))
		}
		report.Mapping[name] = dict
		report.Blocks = append(report.Blocks, block)
	}

	e.logger.Debug("metadata extracted",
		zap.Int("entities", report.Mapping.EntityCount()),
		zap.Bool("layer", hasLayer(report.Mapping)))

	return report
}

func hasLayer(m Mapping) bool {
	_, ok := m.Layer()
	return ok
}

// inDocument shifts body-relative diagnostic lines so they count from the
// document start. bodyLine is the line holding the body's opening brace.
func inDocument(diags []parser.Diagnostic, bodyLine int) []parser.Diagnostic {
	for i := range diags {
		diags[i].Line += bodyLine - 1
	}
	return diags
}

func lineAt(document string, offset int) int {
	return strings.Count(document[:offset], "\n") + 1
}

// Package pipeline ties extraction, conversion and merging into one unit of
// work: read a USD text layer, produce (or load) its glTF counterpart and
// write the metadata into it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/gltf"
	"github.com/usdbridge/usdbridge/internal/usda/metadata"
)

// ErrNoConverter is returned by Convert when the pipeline has no converter
var ErrNoConverter = errors.New("no converter configured")

// Request names the files of one pipeline run
type Request struct {
	// Source is the USD text layer metadata is read from
	Source string
	// Target is an existing glTF/GLB document; unused by Convert
	Target string
	// Output is where the result is written. Inject defaults it to Target.
	Output string
}

// Result summarizes one pipeline run. Unmatched lists entities with no node
// of the same name.
type Result struct {
	ID            string           `json:"id"`
	Source        string           `json:"source"`
	Output        string           `json:"output"`
	Entities      []string         `json:"entities"`
	Injected      int              `json:"injected"`
	LayerAttached bool             `json:"layer_attached"`
	Unmatched     []string         `json:"unmatched,omitempty"`
	Duration      time.Duration    `json:"duration"`
	Mapping       metadata.Mapping `json:"-"`
	Blocks        []metadata.Block `json:"blocks,omitempty"`
}

// Pipeline runs extract, convert and merge
type Pipeline struct {
	Converter converter.Converter
	Logger    *zap.Logger
	// AttachLayer also writes document metadata to the top-level
	// extras.customLayerData
	AttachLayer bool
}

// New creates a pipeline
func New(conv converter.Converter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{Converter: conv, Logger: logger, AttachLayer: true}
}

// Inject extracts metadata from req.Source and merges it into the existing
// document req.Target, writing to req.Output
func (p *Pipeline) Inject(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Target == "" {
		return nil, fmt.Errorf("target document is required")
	}
	output := req.Output
	if output == "" {
		output = req.Target
	}

	source, err := os.ReadFile(req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}

	doc, err := gltf.Load(req.Target)
	if err != nil {
		return nil, err
	}

	result := p.apply(string(source), doc)
	result.Source = req.Source
	result.Output = output

	if err := doc.Save(output); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	p.logResult(result)
	return result, nil
}

// Convert runs the converter on req.Source into a temporary file next to
// req.Output, injects the metadata and writes req.Output. The temporary file
// is always removed.
func (p *Pipeline) Convert(ctx context.Context, req Request) (*Result, error) {
	if p.Converter == nil {
		return nil, ErrNoConverter
	}
	if req.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}

	start := time.Now()

	dir := filepath.Dir(req.Output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(req.Output)
	tmp, err := os.CreateTemp(dir, ".usdbridge-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := p.Converter.Convert(ctx, req.Source, tmpPath); err != nil {
		return nil, err
	}

	result, err := p.Inject(ctx, Request{Source: req.Source, Target: tmpPath, Output: req.Output})
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// InjectBytes merges metadata from source into an in-memory glTF or GLB
// document and returns the serialized result in the same container
func (p *Pipeline) InjectBytes(source, target []byte) ([]byte, *Result, error) {
	start := time.Now()

	doc, err := gltf.Parse(target)
	if err != nil {
		return nil, nil, err
	}

	result := p.apply(string(source), doc)

	out, err := doc.Bytes()
	if err != nil {
		return nil, nil, err
	}

	result.Duration = time.Since(start)
	return out, result, nil
}

func (p *Pipeline) apply(source string, doc *gltf.Document) *Result {
	logger := p.logger()

	report := metadata.NewExtractor(logger).ExtractReport(source)
	mapping := report.Mapping

	result := &Result{
		ID:       uuid.New().String(),
		Entities: mapping.Entities(),
		Mapping:  mapping,
		Blocks:   report.Blocks,
	}

	result.Injected = gltf.NewMerger(logger).Merge(mapping, doc.Nodes)

	if layer, ok := mapping.Layer(); ok && p.AttachLayer {
		if err := doc.AttachLayer(layer); err != nil {
			logger.Warn("document metadata not attached", zap.Error(err))
		} else {
			result.LayerAttached = true
		}
	}

	result.Unmatched = unmatched(mapping, doc.Nodes)
	if len(result.Unmatched) > 0 {
		logger.Debug("entities without a matching node",
			zap.Strings("entities", result.Unmatched))
	}

	return result
}

func (p *Pipeline) logResult(r *Result) {
	p.logger().Info("metadata injected",
		zap.String("id", r.ID),
		zap.String("source", r.Source),
		zap.String("output", r.Output),
		zap.Int("entities", len(r.Entities)),
		zap.Int("nodes", r.Injected),
		zap.Bool("layer", r.LayerAttached),
		zap.Duration("duration", r.Duration))
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func unmatched(mapping metadata.Mapping, nodes []*gltf.Node) []string {
	names := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if name, ok := n.Name(); ok {
			names[name] = true
		}
	}

	var missing []string
	for _, entity := range mapping.Entities() {
		if !names[entity] {
			missing = append(missing, entity)
		}
	}
	return missing
}

// OutputPath derives the converted file path for source inside dir
func OutputPath(source, dir, format string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if format == "" {
		format = "glb"
	}
	return filepath.Join(dir, base+"."+format)
}

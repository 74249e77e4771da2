package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/usdbridge/usdbridge/internal/usda/parser"
)

// Format selects the serialization of a Mapping
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or yaml)", s)
	}
}

// Serialize converts a mapping to JSON. The output is deterministic: entity
// names are sorted and each dictionary keeps its declaration order.
func Serialize(m Mapping) ([]byte, error) {
	if m == nil {
		m = Mapping{}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return data, nil
}

// SerializeYAML converts a mapping to YAML with the same ordering guarantees
// as Serialize. The layer entry, when present, comes first.
func SerializeYAML(m Mapping) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	names := m.Entities()
	if _, ok := m.Layer(); ok {
		names = append([]string{LayerKey}, names...)
	}

	for _, name := range names {
		value, err := yamlNode(m[name])
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		root.Content = append(root.Content, yamlKey(name), value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// Marshal serializes m in the requested format
func Marshal(m Mapping, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return SerializeYAML(m)
	default:
		return Serialize(m)
	}
}

// WriteToFile writes the serialized mapping to outputPath, creating parent
// directories as needed.
func WriteToFile(m Mapping, outputPath string, format Format) error {
	if outputPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	data, err := Marshal(m, format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata to %s: %w", outputPath, err)
	}
	return nil
}

func yamlNode(v parser.Value) (*yaml.Node, error) {
	dict, ok := v.(*parser.Dictionary)
	if !ok {
		n := &yaml.Node{}
		if err := n.Encode(v.Native()); err != nil {
			return nil, err
		}
		return n, nil
	}

	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range dict.Keys() {
		child, _ := dict.Get(key)
		cn, err := yamlNode(child)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		n.Content = append(n.Content, yamlKey(key), cn)
	}
	return n, nil
}

func yamlKey(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

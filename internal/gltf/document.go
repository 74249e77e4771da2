// Package gltf reads and writes converted glTF documents while preserving
// every property it does not touch, and injects extracted USD metadata into
// node extras.
//
// The document model is deliberately shallow: only the node list and the
// extras objects are decoded. Everything else round-trips as raw JSON.
package gltf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidDocument is returned when the glTF JSON is not an object or its
// node list is not an array of objects
var ErrInvalidDocument = errors.New("invalid glTF document")

// ErrExtrasNotObject is returned when an existing extras value is not a
// JSON object and cannot receive keys
var ErrExtrasNotObject = errors.New("extras is not a JSON object")

// Node is one entry of the document's node list. All of its properties are
// kept as raw JSON.
type Node struct {
	fields map[string]json.RawMessage
}

// NewNode creates a node with an optional name
func NewNode(name string) *Node {
	n := &Node{fields: make(map[string]json.RawMessage)}
	if name != "" {
		raw, _ := json.Marshal(name)
		n.fields["name"] = raw
	}
	return n
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Node) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: node: %v", ErrInvalidDocument, err)
	}
	n.fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n.fields)
}

// Name returns the node's name. Nodes without a string name report false.
func (n *Node) Name() (string, bool) {
	raw, ok := n.fields["name"]
	if !ok {
		return "", false
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false
	}
	return name, true
}

// Extras returns the node's extras object
func (n *Node) Extras() (map[string]json.RawMessage, bool) {
	return getExtras(n.fields)
}

// HasExtras reports whether the node carries an extras property of any type
func (n *Node) HasExtras() bool {
	_, ok := n.fields["extras"]
	return ok
}

// SetExtra sets key inside the node's extras object, creating extras when
// absent
func (n *Node) SetExtra(key string, value json.RawMessage) error {
	if n.fields == nil {
		n.fields = make(map[string]json.RawMessage)
	}
	return setExtra(n.fields, key, value)
}

// Document is a glTF 2.0 asset. Nodes is nil when the source had no node
// list.
type Document struct {
	Nodes []*Node

	fields   map[string]json.RawMessage
	hasNodes bool

	// GLB container state; nil chunks for plain .gltf
	binary   bool
	binChunk []byte
	extraGLB []chunk
}

// Parse decodes a .gltf JSON document or a .glb container, detected by the
// GLB magic
func Parse(data []byte) (*Document, error) {
	if IsGLB(data) {
		return ParseGLB(data)
	}
	return ParseJSON(data)
}

// ParseJSON decodes a .gltf JSON document
func ParseJSON(data []byte) (*Document, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc := &Document{fields: fields}

	if raw, ok := fields["nodes"]; ok {
		delete(fields, "nodes")
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &doc.Nodes); err != nil {
				return nil, fmt.Errorf("%w: nodes: %v", ErrInvalidDocument, err)
			}
			doc.hasNodes = true
		}
	}

	return doc, nil
}

// Load reads a .gltf or .glb file
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc, nil
}

// IsBinary reports whether the document came from (and is written as) GLB
func (d *Document) IsBinary() bool {
	return d.binary
}

// SetBinary switches the output container between GLB and plain JSON
func (d *Document) SetBinary(binary bool) {
	d.binary = binary
}

// JSON returns the glTF JSON. Indented output is meant for .gltf files.
func (d *Document) JSON(indent bool) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}

	if d.hasNodes || len(d.Nodes) > 0 {
		nodes := d.Nodes
		if nodes == nil {
			nodes = []*Node{}
		}
		raw, err := json.Marshal(nodes)
		if err != nil {
			return nil, fmt.Errorf("failed to encode nodes: %w", err)
		}
		out["nodes"] = raw
	}

	if indent {
		return json.MarshalIndent(out, "", "  ")
	}
	return json.Marshal(out)
}

// Bytes serializes the document in its container format
func (d *Document) Bytes() ([]byte, error) {
	if d.binary {
		js, err := d.JSON(false)
		if err != nil {
			return nil, err
		}
		return encodeGLB(js, d.binChunk, d.extraGLB), nil
	}
	return d.JSON(true)
}

// Save writes the document to path. The container follows the file
// extension: .glb writes GLB, anything else writes JSON.
func (d *Document) Save(path string) error {
	d.binary = strings.EqualFold(filepath.Ext(path), ".glb")

	data, err := d.Bytes()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Extras returns the document's top-level extras object
func (d *Document) Extras() (map[string]json.RawMessage, bool) {
	return getExtras(d.fields)
}

// SetExtra sets key inside the document's top-level extras object
func (d *Document) SetExtra(key string, value json.RawMessage) error {
	if d.fields == nil {
		d.fields = make(map[string]json.RawMessage)
	}
	return setExtra(d.fields, key, value)
}

func getExtras(fields map[string]json.RawMessage) (map[string]json.RawMessage, bool) {
	raw, ok := fields["extras"]
	if !ok {
		return nil, false
	}
	extras := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &extras); err != nil {
		return nil, false
	}
	return extras, true
}

func setExtra(fields map[string]json.RawMessage, key string, value json.RawMessage) error {
	extras := make(map[string]json.RawMessage)
	if raw, ok := fields["extras"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &extras); err != nil {
			return ErrExtrasNotObject
		}
	}

	extras[key] = value

	raw, err := json.Marshal(extras)
	if err != nil {
		return fmt.Errorf("failed to encode extras: %w", err)
	}
	fields["extras"] = raw
	return nil
}

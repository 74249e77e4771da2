package gltf

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/usda/parser"
)

const (
	// CustomDataKey is the extras key that receives entity metadata
	CustomDataKey = "customData"
	// CustomLayerDataKey is the top-level extras key for document metadata
	CustomLayerDataKey = "customLayerData"
)

// Merger injects extracted metadata into glTF nodes
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a Merger. A nil logger discards output.
func NewMerger(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger}
}

// Merge attaches metadata to nodes with a default Merger
func Merge(mapping metadata.Mapping, nodes []*Node) int {
	return NewMerger(nil).Merge(mapping, nodes)
}

// Merge sets extras.customData on every node whose name has an entry in
// mapping and returns how many nodes were modified. The layer entry never
// matches a node. Other extras keys and all other node properties are left
// as they were. Several nodes sharing a name each receive the metadata.
func (m *Merger) Merge(mapping metadata.Mapping, nodes []*Node) int {
	if len(mapping) == 0 || len(nodes) == 0 {
		return 0
	}

	encoded := make(map[string]json.RawMessage)
	count := 0

	for i, node := range nodes {
		if node == nil {
			continue
		}
		name, ok := node.Name()
		if !ok || name == metadata.LayerKey {
			continue
		}
		dict, ok := mapping.Entity(name)
		if !ok {
			continue
		}

		raw, ok := encoded[name]
		if !ok {
			var err error
			raw, err = json.Marshal(dict)
			if err != nil {
				m.logger.Warn("entity metadata could not be encoded",
					zap.String("entity", name), zap.Error(err))
				continue
			}
			encoded[name] = raw
		}

		if err := node.SetExtra(CustomDataKey, raw); err != nil {
			m.logger.Warn("node extras cannot hold metadata; node left unchanged",
				zap.Int("node", i), zap.String("name", name), zap.Error(err))
			continue
		}
		count++
	}

	m.logger.Debug("metadata merged",
		zap.Int("nodes", len(nodes)),
		zap.Int("modified", count))

	return count
}

// Inject merges mapping into the document's node list
func (d *Document) Inject(mapping metadata.Mapping) int {
	return Merge(mapping, d.Nodes)
}

// AttachLayer stores document metadata under the top-level
// extras.customLayerData
func (d *Document) AttachLayer(dict *parser.Dictionary) error {
	raw, err := json.Marshal(dict)
	if err != nil {
		return err
	}
	return d.SetExtra(CustomLayerDataKey, raw)
}

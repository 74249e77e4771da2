package metadata

import (
	"sort"

	"github.com/usdbridge/usdbridge/internal/usda/parser"
)

// LayerKey is the reserved mapping key under which document-level
// (customLayerData) metadata is stored. It never matches a node name.
const LayerKey = "__customLayerData__"

// Mapping maps entity names to their customData dictionaries. The layer
// dictionary, when present, lives under LayerKey.
type Mapping map[string]*parser.Dictionary

// Layer returns the document-level dictionary
func (m Mapping) Layer() (*parser.Dictionary, bool) {
	d, ok := m[LayerKey]
	return d, ok
}

// Entity returns the dictionary for a named entity. The layer key is not an
// entity.
func (m Mapping) Entity(name string) (*parser.Dictionary, bool) {
	if name == LayerKey {
		return nil, false
	}
	d, ok := m[name]
	return d, ok
}

// Entities returns the entity names in sorted order, excluding LayerKey
func (m Mapping) Entities() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		if name == LayerKey {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries including the layer entry
func (m Mapping) Len() int {
	return len(m)
}

// EntityCount returns the number of entity entries
func (m Mapping) EntityCount() int {
	if _, ok := m[LayerKey]; ok {
		return len(m) - 1
	}
	return len(m)
}

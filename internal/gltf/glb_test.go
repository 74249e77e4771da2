package gltf

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/usda/parser"
)

// buildGLB assembles a container by hand so the decoder is checked against
// the layout rather than against encodeGLB.
func buildGLB(t *testing.T, js string, bin []byte) []byte {
	t.Helper()

	jsBytes := []byte(js)
	for len(jsBytes)%4 != 0 {
		jsBytes = append(jsBytes, ' ')
	}

	total := 12 + 8 + len(jsBytes)
	if bin != nil {
		total += 8 + len(bin)
	}

	buf := make([]byte, 0, total)
	buf = binary.LittleEndian.AppendUint32(buf, 0x46546C67)
	buf = binary.LittleEndian.AppendUint32(buf, 2)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(total))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(jsBytes)))
	buf = binary.LittleEndian.AppendUint32(buf, 0x4E4F534A)
	buf = append(buf, jsBytes...)
	if bin != nil {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bin)))
		buf = binary.LittleEndian.AppendUint32(buf, 0x004E4942)
		buf = append(buf, bin...)
	}
	return buf
}

func TestParseGLB_Basic(t *testing.T) {
	bin := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data := buildGLB(t, `{"asset":{"version":"2.0"},"nodes":[{"name":"A"}]}`, bin)

	require.True(t, IsGLB(data))

	doc, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, doc.IsBinary())
	assert.Equal(t, bin, doc.BinaryChunk())
	require.Len(t, doc.Nodes, 1)
}

func TestGLB_InjectKeepsBinaryChunk(t *testing.T) {
	bin := make([]byte, 64)
	for i := range bin {
		bin[i] = byte(i * 7)
	}
	data := buildGLB(t, `{"asset":{"version":"2.0"},"nodes":[{"name":"Gripper","mesh":0}]}`, bin)

	doc, err := ParseGLB(data)
	require.NoError(t, err)

	m := metadata.Mapping{"Gripper": dict("vendor", parser.String("acme"))}
	require.Equal(t, 1, doc.Inject(m))

	out, err := doc.Bytes()
	require.NoError(t, err)

	// header
	assert.Equal(t, uint32(0x46546C67), binary.LittleEndian.Uint32(out[0:4]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(out[4:8]))
	assert.Equal(t, uint32(len(out)), binary.LittleEndian.Uint32(out[8:12]))

	// JSON chunk padded to a 4-byte boundary
	jsonLen := binary.LittleEndian.Uint32(out[12:16])
	assert.Zero(t, jsonLen%4)
	assert.Equal(t, uint32(0x4E4F534A), binary.LittleEndian.Uint32(out[16:20]))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out[20:20+jsonLen], &decoded))
	node := decoded["nodes"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"customData": map[string]any{"vendor": "acme"}}, node["extras"])

	// BIN chunk unchanged
	binStart := 20 + jsonLen
	assert.Equal(t, uint32(len(bin)), binary.LittleEndian.Uint32(out[binStart:binStart+4]))
	assert.Equal(t, uint32(0x004E4942), binary.LittleEndian.Uint32(out[binStart+4:binStart+8]))
	assert.Equal(t, bin, out[binStart+8:])
}

func TestGLB_NoBinaryChunk(t *testing.T) {
	doc, err := ParseGLB(buildGLB(t, `{"asset":{"version":"2.0"}}`, nil))
	require.NoError(t, err)
	assert.Nil(t, doc.BinaryChunk())

	out, err := doc.Bytes()
	require.NoError(t, err)
	assert.Equal(t, uint32(len(out)), binary.LittleEndian.Uint32(out[8:12]))
	assert.Equal(t, 12+8+int(binary.LittleEndian.Uint32(out[12:16])), len(out))
}

func TestParseGLB_Invalid(t *testing.T) {
	valid := buildGLB(t, `{"asset":{"version":"2.0"}}`, nil)

	badVersion := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badVersion[4:8], 1)

	badLength := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badLength[8:12], uint32(len(valid)+10))

	badChunk := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(badChunk[16:20], 0x004E4942)

	overrun := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(overrun[12:16], 1000)

	tests := []struct {
		name string
		data []byte
	}{
		{"short", valid[:8]},
		{"bad magic", append([]byte("gltF"), valid[4:]...)},
		{"bad version", badVersion},
		{"bad length", badLength},
		{"first chunk not json", badChunk},
		{"chunk overrun", overrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGLB(tt.data)
			assert.ErrorIs(t, err, ErrInvalidGLB)
		})
	}
}

func TestPad(t *testing.T) {
	assert.Equal(t, []byte("ab  "), pad([]byte("ab"), ' '))
	assert.Equal(t, []byte("abcd"), pad([]byte("abcd"), ' '))
	assert.Equal(t, []byte{1, 0, 0, 0}, pad([]byte{1}, 0))
}

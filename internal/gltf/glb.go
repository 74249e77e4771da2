package gltf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	glbMagic   = 0x46546C67 // "glTF"
	glbVersion = 2

	headerSize      = 12
	chunkHeaderSize = 8

	chunkJSON = 0x4E4F534A
	chunkBIN  = 0x004E4942
)

// ErrInvalidGLB is returned for malformed binary containers
var ErrInvalidGLB = errors.New("invalid GLB container")

type chunk struct {
	kind uint32
	data []byte
}

// IsGLB reports whether data starts with the GLB magic
func IsGLB(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == glbMagic
}

// ParseGLB decodes a GLB container. The BIN chunk and any unknown chunks are
// kept byte-for-byte and written back by Bytes.
func ParseGLB(data []byte) (*Document, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidGLB, len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidGLB)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != glbVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidGLB, v)
	}

	total := int(binary.LittleEndian.Uint32(data[8:12]))
	if total > len(data) || total < headerSize {
		return nil, fmt.Errorf("%w: declared length %d, have %d bytes", ErrInvalidGLB, total, len(data))
	}

	var chunks []chunk
	offset := headerSize
	for offset < total {
		if offset+chunkHeaderSize > total {
			return nil, fmt.Errorf("%w: truncated chunk header at %d", ErrInvalidGLB, offset)
		}
		size := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		kind := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		start := offset + chunkHeaderSize
		if size < 0 || start+size > total {
			return nil, fmt.Errorf("%w: chunk at %d overruns container", ErrInvalidGLB, offset)
		}
		chunks = append(chunks, chunk{kind: kind, data: data[start : start+size]})
		offset = start + size
	}

	if len(chunks) == 0 || chunks[0].kind != chunkJSON {
		return nil, fmt.Errorf("%w: first chunk must be JSON", ErrInvalidGLB)
	}

	doc, err := ParseJSON(bytes.TrimRight(chunks[0].data, " \x00"))
	if err != nil {
		return nil, err
	}
	doc.binary = true

	for _, c := range chunks[1:] {
		if c.kind == chunkBIN && doc.binChunk == nil {
			doc.binChunk = append([]byte(nil), c.data...)
			continue
		}
		doc.extraGLB = append(doc.extraGLB, chunk{kind: c.kind, data: append([]byte(nil), c.data...)})
	}

	return doc, nil
}

// BinaryChunk returns the GLB BIN payload, or nil
func (d *Document) BinaryChunk() []byte {
	return d.binChunk
}

func encodeGLB(js, bin []byte, extra []chunk) []byte {
	js = pad(js, ' ')

	size := headerSize + chunkHeaderSize + len(js)
	if bin != nil {
		bin = pad(bin, 0)
		size += chunkHeaderSize + len(bin)
	}
	for i := range extra {
		extra[i].data = pad(extra[i].data, 0)
		size += chunkHeaderSize + len(extra[i].data)
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, glbMagic)
	buf = binary.LittleEndian.AppendUint32(buf, glbVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))

	buf = appendChunk(buf, chunkJSON, js)
	if bin != nil {
		buf = appendChunk(buf, chunkBIN, bin)
	}
	for _, c := range extra {
		buf = appendChunk(buf, c.kind, c.data)
	}
	return buf
}

func appendChunk(buf []byte, kind uint32, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = binary.LittleEndian.AppendUint32(buf, kind)
	return append(buf, data...)
}

// pad extends data to a 4-byte boundary
func pad(data []byte, fill byte) []byte {
	rem := len(data) % 4
	if rem == 0 {
		return data
	}
	out := make([]byte, len(data), len(data)+4-rem)
	copy(out, data)
	for i := rem; i < 4; i++ {
		out = append(out, fill)
	}
	return out
}

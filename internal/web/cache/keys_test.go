package cache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelKey(t *testing.T) {
	key := ModelKey([]byte("#usda 1.0\n"), "GLB")

	assert.True(t, strings.HasPrefix(key, "model:"))
	assert.True(t, strings.HasSuffix(key, ":glb"))
	assert.Len(t, SourceHash([]byte("x")), 64)

	assert.Equal(t, key, ModelKey([]byte("#usda 1.0\n"), "glb"))
	assert.NotEqual(t, key, ModelKey([]byte("#usda 1.0\n"), "gltf"))
	assert.NotEqual(t, key, ModelKey([]byte("#usda 1.0\n\n"), "glb"))
}

func TestParseIfNoneMatch(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"", nil},
		{"*", []string{"*"}},
		{`"abc"`, []string{`"abc"`}},
		{`"a", W/"b"`, []string{`"a"`, `W/"b"`}},
		{`junk, "a"`, []string{`"a"`}},
		{`"unterminated`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIfNoneMatch(tt.header))
		})
	}
}

func TestMatchesETag(t *testing.T) {
	assert.True(t, MatchesETag(`"a"`, []string{`"b"`, `"a"`}))
	assert.True(t, MatchesETag(`"a"`, []string{`W/"a"`}))
	assert.True(t, MatchesETag(`"a"`, []string{"*"}))
	assert.False(t, MatchesETag(`"a"`, []string{`"b"`}))
	assert.False(t, MatchesETag(`"a"`, nil))
}

func TestNotModified(t *testing.T) {
	etag := GenerateETag([]byte("model"))
	assert.Len(t, etag, 34)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	assert.False(t, NotModified(w, r, etag))
	assert.Equal(t, etag, w.Header().Get("ETag"))

	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	assert.True(t, NotModified(w, r, etag))
	assert.Equal(t, http.StatusNotModified, w.Code)
}

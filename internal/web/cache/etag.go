package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// GenerateETag generates an ETag for the given content
func GenerateETag(content []byte) string {
	hash := sha256.Sum256(content)
	// Truncate to 16 bytes for shorter ETags (still 128-bit security)
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(hash[:16]))
}

// ParseIfNoneMatch parses the If-None-Match header value
func ParseIfNoneMatch(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if header == "*" {
		return []string{"*"}
	}

	var etags []string
	for i := 0; i < len(header); {
		for i < len(header) && (header[i] == ' ' || header[i] == ',') {
			i++
		}
		if i >= len(header) {
			break
		}

		weak := false
		if strings.HasPrefix(header[i:], "W/") {
			weak = true
			i += 2
		}

		if i < len(header) && header[i] == '"' {
			start := i
			i++
			for i < len(header) && header[i] != '"' {
				i++
			}
			if i < len(header) {
				i++
				etag := header[start:i]
				if weak {
					etag = "W/" + etag
				}
				etags = append(etags, etag)
			}
			continue
		}

		// Unquoted garbage; skip to the next entry
		for i < len(header) && header[i] != ',' {
			i++
		}
	}

	return etags
}

// MatchesETag reports whether etag matches any of etags using weak comparison
func MatchesETag(etag string, etags []string) bool {
	bare := strings.TrimPrefix(etag, "W/")
	for _, e := range etags {
		if e == "*" || strings.TrimPrefix(e, "W/") == bare {
			return true
		}
	}
	return false
}

// NotModified sets the ETag header and, when the request's If-None-Match
// matches it, writes 304 and returns true
func NotModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	if MatchesETag(etag, ParseIfNoneMatch(r.Header.Get("If-None-Match"))) {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

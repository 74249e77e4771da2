// Package static serves the viewer UI and converted models from disk.
package static

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileServerConfig holds configuration for the static file server
type FileServerConfig struct {
	// Root is the root directory to serve files from
	Root string

	// Prefix is the URL prefix to strip (e.g., "/models")
	Prefix string

	// MaxAge is the cache duration in seconds
	MaxAge int

	// EnableETag enables ETag header generation
	EnableETag bool

	// IndexFile is the default file to serve for directories (default: "index.html")
	IndexFile string

	// Fallback serves IndexFile from Root for paths that do not exist, so a
	// single-page viewer can own its routes
	Fallback bool

	// NotFoundHandler is called when a file is not found
	NotFoundHandler http.HandlerFunc

	etagCache *sync.Map
}

// UIConfig serves the viewer bundle: long-lived caching and an index fallback
func UIConfig(root string) *FileServerConfig {
	return &FileServerConfig{
		Root:       root,
		MaxAge:     3600,
		EnableETag: true,
		IndexFile:  "index.html",
		Fallback:   true,
		etagCache:  &sync.Map{},
	}
}

// ModelsConfig serves converted models under prefix. Models are rewritten on
// every conversion, so clients must revalidate.
func ModelsConfig(root, prefix string) *FileServerConfig {
	return &FileServerConfig{
		Root:       root,
		Prefix:     prefix,
		MaxAge:     0,
		EnableETag: true,
		etagCache:  &sync.Map{},
	}
}

// FileServer creates a static file server
func FileServer(config *FileServerConfig) http.Handler {
	if config.etagCache == nil {
		config.etagCache = &sync.Map{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		urlPath := r.URL.Path
		if config.Prefix != "" {
			urlPath = strings.TrimPrefix(urlPath, config.Prefix)
		}
		// path.Clean on a rooted path removes every ".." element
		cleanPath := path.Clean("/" + urlPath)

		absRoot, err := filepath.Abs(config.Root)
		if err != nil {
			http.Error(w, "Server error", http.StatusInternalServerError)
			return
		}
		filePath := filepath.Join(absRoot, filepath.FromSlash(cleanPath))
		if filePath != absRoot && !strings.HasPrefix(filePath, absRoot+string(filepath.Separator)) {
			http.Error(w, "Invalid path", http.StatusForbidden)
			return
		}

		info, err := os.Stat(filePath)
		if err != nil && os.IsNotExist(err) && config.Fallback && config.IndexFile != "" {
			filePath = filepath.Join(absRoot, config.IndexFile)
			info, err = os.Stat(filePath)
		}
		if err != nil {
			if os.IsNotExist(err) {
				if config.NotFoundHandler != nil {
					config.NotFoundHandler(w, r)
				} else {
					http.NotFound(w, r)
				}
				return
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if info.IsDir() {
			if config.IndexFile == "" {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			indexPath := filepath.Join(filePath, config.IndexFile)
			indexInfo, err := os.Stat(indexPath)
			if err != nil || indexInfo.IsDir() {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			filePath = indexPath
			info = indexInfo
		}

		setCacheHeaders(w, config.MaxAge)
		w.Header().Set("Content-Type", detectContentType(filePath))

		if config.EnableETag {
			etag := getETag(filePath, info, config.etagCache)
			w.Header().Set("ETag", etag)
			if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}

		w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		if ims := r.Header.Get("If-Modified-Since"); ims != "" {
			if t, err := time.Parse(http.TimeFormat, ims); err == nil && !info.ModTime().Truncate(time.Second).After(t) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}

		f, err := os.Open(filePath)
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

func setCacheHeaders(w http.ResponseWriter, maxAge int) {
	if maxAge <= 0 {
		w.Header().Set("Cache-Control", "no-cache")
		return
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
}

var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".mjs":   "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".usda":  "text/plain; charset=utf-8",
	".gltf":  "model/gltf+json",
	".glb":   "model/gltf-binary",
	".bin":   "application/octet-stream",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".ktx2":  "image/ktx2",
	".ico":   "image/x-icon",
	".woff2": "font/woff2",
	".wasm":  "application/wasm",
}

// detectContentType detects the content type from file extension
func detectContentType(filePath string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// getETag returns a weak ETag built from size and modification time
func getETag(filePath string, info os.FileInfo, cache *sync.Map) string {
	cacheKey := fmt.Sprintf("%s:%d", filePath, info.ModTime().UnixNano())
	if etag, ok := cache.Load(cacheKey); ok {
		return etag.(string)
	}

	etag := fmt.Sprintf(`W/"%x-%x"`, info.Size(), info.ModTime().UnixNano())
	cache.Store(cacheKey, etag)
	return etag
}

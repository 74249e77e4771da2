package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// Level is the gzip compression level (1-9, default 6)
	Level int
	// MinSize is the minimum response size to compress (in bytes)
	MinSize int
	// ExcludedContentTypes are content type prefixes sent as is
	ExcludedContentTypes []string
}

// DefaultCompressionConfig compresses JSON, glTF JSON and the viewer bundle.
// GLB buffers and images are mostly binary data that gzip barely shrinks.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:   gzip.DefaultCompression,
		MinSize: 1024, // 1KB minimum
		ExcludedContentTypes: []string{
			"model/gltf-binary",
			"application/octet-stream",
			"image/",
			"video/",
			"audio/",
		},
	}
}

// Compression creates a compression middleware with default configuration
func Compression() Middleware {
	return CompressionWithConfig(DefaultCompressionConfig())
}

// CompressionWithConfig creates a compression middleware with custom configuration
func CompressionWithConfig(config CompressionConfig) Middleware {
	gzipPool := &sync.Pool{
		New: func() interface{} {
			writer, _ := gzip.NewWriterLevel(io.Discard, config.Level)
			return writer
		},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Websocket upgrades need the raw connection
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			gzw := &gzipResponseWriter{
				ResponseWriter: w,
				gzipPool:       gzipPool,
				config:         config,
			}
			defer gzw.Close()

			w.Header().Add("Vary", "Accept-Encoding")

			next.ServeHTTP(gzw, r)
		})
	}
}

// gzipResponseWriter decides on the first Write whether to compress, since
// only then are the content type and the size of the first chunk known
type gzipResponseWriter struct {
	http.ResponseWriter
	gzipWriter *gzip.Writer
	gzipPool   *sync.Pool
	config     CompressionConfig
	status     int
	decided    bool
	compress   bool
}

// WriteHeader defers the status until the first Write or Close
func (gzw *gzipResponseWriter) WriteHeader(statusCode int) {
	if gzw.status == 0 {
		gzw.status = statusCode
	}
}

// Write compresses data if compression is enabled
func (gzw *gzipResponseWriter) Write(b []byte) (int, error) {
	if !gzw.decided {
		gzw.decide(len(b))
	}
	if !gzw.compress {
		return gzw.ResponseWriter.Write(b)
	}
	return gzw.gzipWriter.Write(b)
}

func (gzw *gzipResponseWriter) decide(size int) {
	gzw.decided = true
	if gzw.status == 0 {
		gzw.status = http.StatusOK
	}

	header := gzw.ResponseWriter.Header()
	gzw.compress = size >= gzw.config.MinSize &&
		gzw.status != http.StatusNoContent &&
		gzw.status != http.StatusNotModified &&
		header.Get("Content-Encoding") == "" &&
		gzw.compressible(header.Get("Content-Type"))

	if gzw.compress {
		header.Set("Content-Encoding", "gzip")
		header.Del("Content-Length")
		gzw.gzipWriter = gzw.gzipPool.Get().(*gzip.Writer)
		gzw.gzipWriter.Reset(gzw.ResponseWriter)
	}
	gzw.ResponseWriter.WriteHeader(gzw.status)
}

// Flush sends buffered compressed data to the client
func (gzw *gzipResponseWriter) Flush() {
	if gzw.gzipWriter != nil {
		gzw.gzipWriter.Flush()
	}
	if f, ok := gzw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Close flushes the gzip stream and, for empty responses, the status
func (gzw *gzipResponseWriter) Close() error {
	if !gzw.decided {
		if gzw.status == 0 {
			return nil
		}
		gzw.decide(0)
	}
	if gzw.gzipWriter != nil {
		err := gzw.gzipWriter.Close()
		gzw.gzipPool.Put(gzw.gzipWriter)
		gzw.gzipWriter = nil
		return err
	}
	return nil
}

func (gzw *gzipResponseWriter) compressible(contentType string) bool {
	for _, excluded := range gzw.config.ExcludedContentTypes {
		if strings.HasPrefix(contentType, excluded) {
			return false
		}
	}
	return true
}

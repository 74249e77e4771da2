package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/usda/metadata"
	"github.com/usdbridge/usdbridge/internal/web/cache"
	"github.com/usdbridge/usdbridge/internal/web/response"
)

// Scene describes a source file in the scenes directory
type Scene struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	SizeText string    `json:"size_text"`
	Modified time.Time `json:"modified"`
}

func newScene(info os.FileInfo) Scene {
	return Scene{
		Name:     info.Name(),
		Size:     info.Size(),
		SizeText: humanize.Bytes(uint64(info.Size())),
		Modified: info.ModTime().UTC(),
	}
}

// sceneName validates a scene file name taken from a URL or an upload
func sceneName(raw string) (string, error) {
	if raw == "" || strings.Contains(raw, "..") || strings.ContainsAny(raw, `/\`) {
		return "", errInvalidName
	}
	name := filepath.Base(raw)
	if name != raw || strings.HasPrefix(name, ".") {
		return "", errInvalidName
	}
	if !isSceneFile(name) {
		return "", errUnsupportedType
	}
	return name, nil
}

func isSceneFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".usda", ".usd":
		return true
	}
	return false
}

// outputFormat reads ?format=, falling back to the configured default
func (a *API) outputFormat(r *http.Request) (string, error) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = a.opts.Format
	}
	switch format {
	case "glb", "gltf":
		return format, nil
	}
	return "", errInvalidFormat
}

func (a *API) listScenes(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(a.opts.ScenesDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		a.renderError(w, r, err)
		return
	}

	scenes := make([]Scene, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !isSceneFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		scenes = append(scenes, newScene(info))
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Name < scenes[j].Name })

	response.JSON(w, http.StatusOK, map[string]any{"scenes": scenes})
}

func (a *API) sceneMetadata(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(chi.URLParam(r, "name"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	format, err := metadata.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		a.renderError(w, r, response.NewHTTPError(http.StatusBadRequest, err.Error()).WithCode("invalid_format"))
		return
	}

	source, err := os.ReadFile(filepath.Join(a.opts.ScenesDir, name))
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	mapping := metadata.NewExtractor(a.logger).Extract(string(source))
	body, err := metadata.Marshal(mapping, format)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	if format == metadata.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	if cache.NotModified(w, r, cache.GenerateETag(body)) {
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (a *API) sceneModel(w http.ResponseWriter, r *http.Request) {
	name, err := sceneName(chi.URLParam(r, "name"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	format, err := a.outputFormat(r)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	data, err := os.ReadFile(pipeline.OutputPath(name, a.opts.OutputDir, format))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			response.RenderNotFound(w, fmt.Sprintf("%s has not been converted to %s", name, format))
			return
		}
		a.renderError(w, r, err)
		return
	}

	if format == "glb" {
		w.Header().Set("Content-Type", "model/gltf-binary")
	} else {
		w.Header().Set("Content-Type", "model/gltf+json")
	}
	w.Header().Set("Cache-Control", "no-cache")
	if cache.NotModified(w, r, cache.GenerateETag(data)) {
		return
	}
	w.Write(data)
}

func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.opts.MaxUploadBytes); err != nil {
		if tooLarge(err) {
			a.renderError(w, r, errUploadTooLarge)
			return
		}
		a.renderError(w, r, response.NewHTTPError(http.StatusBadRequest, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.renderError(w, r, errMissingFile)
		return
	}
	defer file.Close()

	name, err := sceneName(header.Filename)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	path := filepath.Join(a.opts.ScenesDir, name)
	if err := saveAtomic(path, file); err != nil {
		a.renderError(w, r, err)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	a.logger.Info("scene uploaded", zap.String("scene", name), zap.Int64("size", info.Size()))
	response.JSON(w, http.StatusCreated, newScene(info))
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// saveAtomic writes r to path through a temporary file in the same
// directory, so readers never observe a partial file
func saveAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

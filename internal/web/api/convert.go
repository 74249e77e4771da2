package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/web/cache"
	"github.com/usdbridge/usdbridge/internal/web/middleware"
	"github.com/usdbridge/usdbridge/internal/web/response"
	"github.com/usdbridge/usdbridge/internal/web/websocket"
)

// Conversion is the result of converting one scene
type Conversion struct {
	*pipeline.Result
	Scene    string `json:"scene"`
	Format   string `json:"format"`
	URL      string `json:"url"`
	CacheHit bool   `json:"cache_hit"`
}

func (a *API) convert(w http.ResponseWriter, r *http.Request) {
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

	conv, err := a.Convert(r.Context(), name, format)
	if err != nil {
		a.renderError(w, r, err)
		return
	}

	if conv.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("X-Conversion-ID", conv.ID)
	response.JSON(w, http.StatusOK, conv)
}

// Convert converts a scene from the scenes directory into the output
// directory. Concurrent requests for the same output share one run, and the
// run continues when the requesting client goes away so its result still
// reaches the cache.
func (a *API) Convert(ctx context.Context, name, format string) (*Conversion, error) {
	if a.deps.Pipeline == nil {
		return nil, pipeline.ErrNoConverter
	}

	sourcePath := filepath.Join(a.opts.ScenesDir, name)
	output := pipeline.OutputPath(name, a.opts.OutputDir, format)
	requestID := middleware.GetRequestID(ctx)
	runCtx := context.WithoutCancel(ctx)

	v, err, shared := a.flight.Do(output, func() (interface{}, error) {
		if err := a.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer a.slots.Release(1)

		conv, err := a.run(runCtx, name, sourcePath, output, format)
		a.record(runCtx, name, output, format, conv, err)
		if err != nil {
			a.logger.Warn("conversion failed",
				zap.String("request_id", requestID),
				zap.String("scene", name),
				zap.Error(err))
			return nil, err
		}

		if a.deps.Telemetry != nil {
			a.deps.Telemetry.Register(conv.Mapping)
		}
		if a.deps.Events != nil {
			a.deps.Events.Broadcast(&websocket.Message{Type: EventModelConverted, Payload: conv})
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		a.logger.Debug("conversion shared", zap.String("request_id", requestID), zap.String("scene", name))
	}
	return v.(*Conversion), nil
}

// run converts on a cache miss. On a hit the cached model is merged again,
// which restores the output file and recomputes the entity counts.
func (a *API) run(ctx context.Context, name, sourcePath, output, format string) (*Conversion, error) {
	start := time.Now()

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene %s: %w", name, err)
	}

	var converted *pipeline.Result
	model, hit, err := cache.Fetch(ctx, a.deps.Cache, cache.ModelKey(source, format), a.opts.CacheTTL, func() ([]byte, error) {
		res, err := a.deps.Pipeline.Convert(ctx, pipeline.Request{Source: sourcePath, Output: output})
		if err != nil {
			return nil, err
		}
		converted = res
		return os.ReadFile(output)
	})
	if err != nil {
		if model == nil {
			return nil, err
		}
		a.logger.Warn("converted model not cached", zap.String("scene", name), zap.Error(err))
	}

	result := converted
	if hit {
		out, res, err := a.deps.Pipeline.InjectBytes(source, model)
		if err != nil {
			return nil, err
		}
		if err := saveAtomic(output, bytes.NewReader(out)); err != nil {
			return nil, err
		}
		res.Source = sourcePath
		res.Output = output
		result = res
	}
	result.Duration = time.Since(start)

	return &Conversion{
		Result:   result,
		Scene:    name,
		Format:   format,
		URL:      ModelsPrefix + "/" + filepath.Base(output),
		CacheHit: hit,
	}, nil
}

func (a *API) record(ctx context.Context, name, output, format string, conv *Conversion, convErr error) {
	if a.deps.History == nil {
		return
	}

	rec := &history.Record{Source: name, Output: output, Format: format}
	if convErr != nil {
		rec.Status = history.StatusFailed
		rec.Error = convErr.Error()
	} else {
		rec.ID = conv.ID
		rec.Entities = len(conv.Entities)
		rec.Injected = conv.Injected
		rec.CacheHit = conv.CacheHit
		rec.Status = history.StatusOK
		rec.Duration = conv.Duration
	}

	if err := a.deps.History.Record(ctx, rec); err != nil {
		a.logger.Warn("conversion not recorded", zap.String("scene", name), zap.Error(err))
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/gltf"
	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/web/middleware"
	"github.com/usdbridge/usdbridge/internal/web/response"
)

var (
	errInvalidName     = response.NewHTTPError(http.StatusBadRequest, "invalid scene name").WithCode("invalid_scene_name")
	errUnsupportedType = response.NewHTTPError(http.StatusUnsupportedMediaType, "scene must be a .usda or .usd file")
	errInvalidFormat   = response.NewHTTPError(http.StatusBadRequest, "format must be glb or gltf").WithCode("invalid_format")
	errInvalidLimit    = response.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer").WithCode("invalid_limit")
	errUploadTooLarge  = response.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
	errMissingFile     = response.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required").WithCode("missing_file")
)

// renderError maps domain errors onto HTTP responses. Unknown errors are
// logged and reported without their message.
func (a *API) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *response.HTTPError
	var convErr *converter.ConversionError

	switch {
	case errors.As(err, &httpErr):
		httpErr.Render(w)
	case errors.Is(err, converter.ErrToolNotFound), errors.Is(err, pipeline.ErrNoConverter):
		response.RenderErrorWithCode(w, http.StatusServiceUnavailable, err, "converter_unavailable")
	case errors.As(err, &convErr):
		response.NewHTTPError(http.StatusUnprocessableEntity, convErr.Error()).
			WithCode("conversion_failed").
			WithDetails(map[string]any{"exit_code": convErr.ExitCode}).
			Render(w)
	case errors.Is(err, gltf.ErrInvalidDocument), errors.Is(err, gltf.ErrInvalidGLB):
		response.RenderErrorWithCode(w, http.StatusUnprocessableEntity, err, "invalid_model")
	case errors.Is(err, os.ErrNotExist), errors.Is(err, history.ErrNotFound):
		response.RenderNotFound(w, "")
	case errors.Is(err, context.DeadlineExceeded):
		response.RenderError(w, http.StatusGatewayTimeout, errors.New("conversion timed out"))
	case errors.Is(err, context.Canceled):
		response.RenderErrorWithCode(w, http.StatusRequestTimeout, errors.New("request cancelled"), "request_cancelled")
	default:
		a.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		response.ErrInternalServer.Render(w)
	}
}

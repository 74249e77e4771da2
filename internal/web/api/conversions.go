package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/web/response"
)

func (a *API) listConversions(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.renderError(w, r, errInvalidLimit)
			return
		}
		limit = n
	}

	records := []history.Record{}
	if a.deps.History != nil {
		var err error
		records, err = a.deps.History.Recent(r.Context(), limit)
		if err != nil {
			a.renderError(w, r, err)
			return
		}
	}

	response.JSON(w, http.StatusOK, map[string]any{"conversions": records})
}

func (a *API) getConversion(w http.ResponseWriter, r *http.Request) {
	if a.deps.History == nil {
		response.RenderNotFound(w, "conversion history is disabled")
		return
	}

	rec, err := a.deps.History.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (a *API) telemetryEntities(w http.ResponseWriter, r *http.Request) {
	entities := []string{}
	if a.deps.Telemetry != nil {
		entities = a.deps.Telemetry.Entities()
	}
	response.JSON(w, http.StatusOK, map[string]any{"entities": entities})
}

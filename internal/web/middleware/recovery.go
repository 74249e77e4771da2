package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/web/response"
)

// Recovery turns a panicking handler into a 500 JSON response and logs the
// panic with its stack
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// let net/http abort the connection as it normally would
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}

				logger.Error("panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
					zap.Stack("stack"))

				response.ErrInternalServer.Render(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

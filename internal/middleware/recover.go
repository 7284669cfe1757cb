// internal/middleware/recover.go

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverMiddleware turns a handler panic into a logged 500 response.
func RecoverMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logger.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  rv,
					"stack":  string(debug.Stack()),
				}).Error("handler panicked")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"statusCode": http.StatusInternalServerError,
					"message":    "internal server error",
					"success":    false,
					"errors": []map[string]string{{
						"kind":    "internal",
						"code":    "internal_error",
						"message": "internal server error",
					}},
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

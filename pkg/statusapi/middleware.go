package statusapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Middleware func(http.Handler) http.Handler

func recoverMW(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					logger.Error("panic", zap.Any("recovered", rec), zap.String("path", r.URL.Path))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func logMW(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

func timeoutMW(d time.Duration) Middleware {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, http.StatusText(http.StatusGatewayTimeout))
	}
}

// authMW accepts either a bearer token or an X-API-Key header.
// /health and /docs/ stay open.
func authMW(bearerToken, apiKey string, allowNoAuth bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowNoAuth || r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/docs/") {
				next.ServeHTTP(w, r)
				return
			}
			ok := false
			if bearerToken != "" {
				if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
					tok := strings.TrimPrefix(v, "Bearer ")
					ok = subtle.ConstantTimeCompare([]byte(tok), []byte(bearerToken)) == 1
				}
			}
			if !ok && apiKey != "" {
				ok = subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(apiKey)) == 1
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				if bearerToken != "" {
					w.Header().Set("WWW-Authenticate", `Bearer realm="erlc-sessionbot"`)
				}
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "missing or invalid credentials",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

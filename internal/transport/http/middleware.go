package transporthttp

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/metrics"
)

// BodyLimit limits request bodies to maxBytes.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects POST and PUT requests that carry a body in any
// other content type.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0
		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && hasBody {
			ct := strings.ToLower(r.Header.Get("Content-Type"))
			if !strings.HasPrefix(ct, "application/json") {
				WriteProblem(w, Problem{Title: "unsupported media type", Status: http.StatusUnsupportedMediaType, Detail: "expected application/json"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth checks X-API-Key against allowed. An empty set disables
// the check.
func APIKeyAuth(allowed map[string]struct{}) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[r.Header.Get("X-API-Key")]; !ok {
				WriteProblem(w, Problem{Title: "unauthorized", Status: http.StatusUnauthorized, Detail: "invalid or missing API key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit allows limitPerMin requests per client IP. Zero disables it.
func RateLimit(limitPerMin int) func(http.Handler) http.Handler {
	if limitPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limitPerMin, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			WriteProblem(w, Problem{Title: "rate limit exceeded", Status: http.StatusTooManyRequests, Detail: "try again later"})
		}),
	)
}

// Observe logs each request and records it in the HTTP metrics, labelled
// by route pattern rather than raw path. Unrouted requests share one label.
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := metrics.UnmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTP(r.Method, route, status, elapsed)

		ev := logging.For("http").Debug()
		if status >= http.StatusInternalServerError {
			ev = logging.For("http").Warn()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// DrainBody fully reads and closes request bodies (handler helper).
func DrainBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}
}

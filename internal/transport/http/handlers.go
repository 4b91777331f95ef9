// Package transporthttp exposes the collector over HTTP and WebSocket.
package transporthttp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/config"
	"example.com/agentwatch/internal/ingest"
	"example.com/agentwatch/internal/stream"
	"example.com/agentwatch/internal/themes"
)

// UserHeader carries the acting user id for theme operations.
const UserHeader = "X-User-ID"

type ServerDeps struct {
	Cfg    config.Config
	Events *ingest.Ingestor
	Themes *themes.Service
	Hub    *stream.Hub
	Ready  func(ctx context.Context) error
	Clock  clock.Clock

	upgrader websocket.Upgrader
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		if err := d.Ready(r.Context()); err != nil {
			WriteProblem(w, Problem{Title: "not ready", Status: http.StatusServiceUnavailable, Detail: "store not reachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Stream ---

func (d *ServerDeps) HandleStream(w http.ResponseWriter, r *http.Request) {
	stream.ServeWS(d.Hub, d.upgrader, w, r)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	d.upgrader = stream.NewUpgrader(d.Cfg.Server.CORSOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Observe)
	if len(d.Cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.Cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-API-Key", UserHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", d.HandleHealthz)
	r.Get("/readyz", d.HandleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(d.Cfg.Server.RateLimitPerMin))
		r.Use(APIKeyAuth(d.Cfg.APIKeySet()))
		r.Use(BodyLimit(d.Cfg.Server.MaxBodyBytes))
		r.Use(RequireJSON)

		r.Get("/stream", d.HandleStream)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", d.HandlePostEvent)
			r.Get("/recent", d.HandleRecent)
			r.Get("/filter-options", d.HandleFilterOptions)
			r.Get("/chart", d.HandleChart)
			r.Post("/{id}/respond", d.HandleRespond)
		})

		r.Route("/api/themes", func(r chi.Router) {
			r.Post("/", d.HandleCreateTheme)
			r.Get("/", d.HandleSearchThemes)
			r.Get("/stats", d.HandleThemeStats)
			r.Post("/import", d.HandleImportTheme)
			r.Get("/shared/{token}", d.HandleGetShared)
			r.Get("/{id}", d.HandleGetTheme)
			r.Put("/{id}", d.HandleUpdateTheme)
			r.Delete("/{id}", d.HandleDeleteTheme)
			r.Get("/{id}/export", d.HandleExportTheme)
			r.Post("/{id}/download", d.HandleDownloadTheme)
			r.Post("/{id}/rate", d.HandleRateTheme)
			r.Post("/{id}/share", d.HandleShareTheme)
		})
	})
	return r
}

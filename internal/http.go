package internal

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/health"
	"github.com/prappser/prappser_media/internal/metrics"
	"github.com/prappser/prappser_media/internal/middleware"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/status"
	"github.com/prappser/prappser_media/internal/stream"
	"github.com/prappser/prappser_media/internal/thumbnail"
	"github.com/prappser/prappser_media/internal/websocket"
)

type Handlers struct {
	Stream     *stream.Server
	Thumbnails *thumbnail.Endpoints
	Migrations *migration.Endpoints
	Health     *health.HealthEndpoints
	Status     *status.StatusEndpoints
	WebSocket  *websocket.Handler
	Auth       *middleware.AuthMiddleware
}

func NewRequestHandler(config *Config, h Handlers) fasthttp.RequestHandler {
	corsMiddleware := middleware.NewCORSMiddleware(config.CORS.AllowedOrigins)
	mediaPrefix := strings.TrimSuffix(config.Server.MediaPrefix, "/") + "/"
	metricsHandler := metrics.Handler()

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		// the stream server validates the raw path itself
		case strings.HasPrefix(string(ctx.URI().PathOriginal()), mediaPrefix):
			h.Stream.Serve(ctx)

		case strings.HasPrefix(path, "/thumbnails/"):
			assetID, ok := singleSegment(path, "/thumbnails/")
			if !ok {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("assetID", assetID)
			switch string(ctx.Method()) {
			case fasthttp.MethodGet:
				h.Thumbnails.GetStatus(ctx)
			case fasthttp.MethodPost:
				h.Auth.RequireRole(middleware.RoleOperator, h.Thumbnails.Enqueue)(ctx)
			default:
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/admin/migrations":
			if ctx.IsPost() {
				h.Auth.RequireRole(middleware.RoleOperator, h.Migrations.Migrate)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case strings.HasPrefix(path, "/admin/migrations/"):
			assetID, ok := singleSegment(path, "/admin/migrations/")
			if !ok {
				ctx.Error("Not Found", fasthttp.StatusNotFound)
				return
			}
			ctx.SetUserValue("assetID", assetID)
			if ctx.IsGet() {
				h.Auth.RequireRole(middleware.RoleOperator, h.Migrations.GetLatest)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}

		case path == "/health":
			h.Health.Health(ctx)
		case path == "/status":
			h.Status.Status(ctx)
		case path == "/metrics":
			metricsHandler(ctx)
		case path == "/ws":
			h.WebSocket.HandleFastHTTP(ctx)

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}

// singleSegment returns the one non-empty path segment following prefix.
func singleSegment(path, prefix string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/health"
	"github.com/prappser/prappser_media/internal/middleware"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/status"
	"github.com/prappser/prappser_media/internal/storage"
	"github.com/prappser/prappser_media/internal/stream"
	"github.com/prappser/prappser_media/internal/thumbnail"
	"github.com/prappser/prappser_media/internal/websocket"
)

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

type router struct {
	handler fasthttp.RequestHandler
	auth    *middleware.AuthMiddleware
	queue   *thumbnail.Queue
}

func newRouter(t *testing.T) router {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "tenants", "t1", "projects", "p1", "a1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("0123456789"), 0o644))

	config := &Config{
		Server: ServerConfig{MediaPrefix: "/media"},
		CORS:   CORSConfig{AllowedOrigins: []string{"*"}},
	}
	assets := asset.NewMemoryRepository()
	queue := thumbnail.NewQueue(thumbnail.NewMemoryRepository(), thumbnail.DefaultConfig())
	records := migration.NewMemoryRepository()
	tiers := storage.Tiers{
		storage.TierStandard: storage.NewMemoryStorage(),
		storage.TierCold:     storage.NewMemoryStorage(),
	}
	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{JWTSecret: "test-secret", Issuer: "prappser-media"})

	handler := NewRequestHandler(config, Handlers{
		Stream:     stream.NewServer(root, "/media"),
		Thumbnails: thumbnail.NewEndpoints(queue, assets),
		Migrations: migration.NewEndpoints(migration.NewMigrator(assets, tiers, records, migration.DefaultConfig()), records),
		Health:     health.NewEndpoints("test", okPinger{}),
		Status:     status.NewEndpoints("test", queue),
		WebSocket:  websocket.NewHandler(websocket.NewHub(queue), nil),
		Auth:       auth,
	})
	return router{handler: handler, auth: auth, queue: queue}
}

func (r router) do(method, uri, token string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	r.handler(ctx)
	return ctx
}

func TestRequestHandler_Media(t *testing.T) {
	// given
	r := newRouter(t)

	// when
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI("/media/t1/p1/a1/clip.mp4")
	ctx.Request.Header.Set(fasthttp.HeaderRange, "bytes=2-4")
	r.handler(ctx)

	// then
	assert.Equal(t, fasthttp.StatusPartialContent, ctx.Response.StatusCode())
	assert.Equal(t, "234", string(ctx.Response.Body()))
	assert.Contains(t, string(ctx.Response.Header.Peek("Access-Control-Expose-Headers")), "Content-Range")
}

func TestRequestHandler_MediaTraversalRejected(t *testing.T) {
	// given
	r := newRouter(t)

	// when
	ctx := r.do(fasthttp.MethodGet, "/media/t1/p1/../../../etc/passwd", "")

	// then
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestRequestHandler_Thumbnails(t *testing.T) {
	// given
	r := newRouter(t)
	_, _, err := r.queue.Enqueue(context.Background(), "a1", "tenants/t1/projects/p1/a1/clip.mp4")
	require.NoError(t, err)
	token, err := r.auth.IssueToken("ops", middleware.RoleOperator, time.Minute)
	require.NoError(t, err)

	// when
	statusCtx := r.do(fasthttp.MethodGet, "/thumbnails/a1", "")
	anonymous := r.do(fasthttp.MethodPost, "/thumbnails/a1", "")
	unknownAsset := r.do(fasthttp.MethodPost, "/thumbnails/nope", token)
	nested := r.do(fasthttp.MethodGet, "/thumbnails/a1/extra", "")
	wrongMethod := r.do(fasthttp.MethodPut, "/thumbnails/a1", "")

	// then
	assert.Equal(t, fasthttp.StatusOK, statusCtx.Response.StatusCode())
	assert.Contains(t, string(statusCtx.Response.Body()), `"pending"`)
	assert.Equal(t, fasthttp.StatusUnauthorized, anonymous.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, unknownAsset.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, nested.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, wrongMethod.Response.StatusCode())
}

func TestRequestHandler_AdminRoutesRequireOperator(t *testing.T) {
	// given
	r := newRouter(t)
	viewer, err := r.auth.IssueToken("someone", "viewer", time.Minute)
	require.NoError(t, err)
	operator, err := r.auth.IssueToken("ops", middleware.RoleOperator, time.Minute)
	require.NoError(t, err)

	// when
	anonymous := r.do(fasthttp.MethodPost, "/admin/migrations", "")
	forbidden := r.do(fasthttp.MethodGet, "/admin/migrations/a1", viewer)
	missing := r.do(fasthttp.MethodGet, "/admin/migrations/a1", operator)

	// then
	assert.Equal(t, fasthttp.StatusUnauthorized, anonymous.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusForbidden, forbidden.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, missing.Response.StatusCode())
}

func TestRequestHandler_Operational(t *testing.T) {
	// given
	r := newRouter(t)

	// when
	healthCtx := r.do(fasthttp.MethodGet, "/health", "")
	statusCtx := r.do(fasthttp.MethodGet, "/status", "")
	metricsCtx := r.do(fasthttp.MethodGet, "/metrics", "")
	unknown := r.do(fasthttp.MethodGet, "/nowhere", "")

	// then
	assert.Equal(t, fasthttp.StatusOK, healthCtx.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, statusCtx.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, metricsCtx.Response.StatusCode())
	assert.Contains(t, string(metricsCtx.Response.Body()), "media_")
	assert.Equal(t, fasthttp.StatusNotFound, unknown.Response.StatusCode())
}

package migration

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/storage"
)

// maxBatchAssets caps a single admin request; larger runs go through the CLI.
const maxBatchAssets = 1000

type Endpoints struct {
	migrator *Migrator
	records  Repository
}

func NewEndpoints(migrator *Migrator, records Repository) *Endpoints {
	return &Endpoints{
		migrator: migrator,
		records:  records,
	}
}

// Migrate answers POST /admin/migrations with the batch summary.
func (e *Endpoints) Migrate(ctx *fasthttp.RequestCtx) {
	var req BatchRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("Invalid request body", fasthttp.StatusBadRequest)
		return
	}
	if req.From == "" {
		req.From = storage.TierStandard
	}
	if req.To == "" {
		req.To = storage.TierCold
	}
	if _, err := storage.ParseTier(string(req.From)); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if _, err := storage.ParseTier(string(req.To)); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if len(req.AssetIDs) == 0 || len(req.AssetIDs) > maxBatchAssets {
		ctx.Error("assetIds must list between 1 and 1000 assets", fasthttp.StatusBadRequest)
		return
	}

	summary := e.migrator.MigrateBatch(context.Background(), req)
	writeJSON(ctx, fasthttp.StatusOK, summary)
}

// GetLatest answers GET /admin/migrations/{assetId}.
func (e *Endpoints) GetLatest(ctx *fasthttp.RequestCtx) {
	assetID, ok := ctx.UserValue("assetID").(string)
	if !ok || assetID == "" {
		ctx.Error("Asset ID is required", fasthttp.StatusBadRequest)
		return
	}

	record, err := e.records.GetLatestByAsset(context.Background(), assetID)
	if errors.Is(err, ErrRecordNotFound) {
		ctx.Error("No migration for asset", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("asset_id", assetID).Msg("[MIGRATE] Failed to load migration record")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, record)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

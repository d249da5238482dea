package thumbnail

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
)

type Endpoints struct {
	queue  *Queue
	assets asset.Repository
}

func NewEndpoints(queue *Queue, assets asset.Repository) *Endpoints {
	return &Endpoints{
		queue:  queue,
		assets: assets,
	}
}

type EnqueueResponse struct {
	Job     *Job `json:"job"`
	Created bool `json:"created"`
}

// GetStatus answers GET /thumbnails/{assetId} with the asset's current or
// latest job.
func (e *Endpoints) GetStatus(ctx *fasthttp.RequestCtx) {
	assetID, ok := ctx.UserValue("assetID").(string)
	if !ok || assetID == "" {
		ctx.Error("Asset ID is required", fasthttp.StatusBadRequest)
		return
	}

	job, err := e.queue.Status(ctx, assetID)
	if errors.Is(err, ErrJobNotFound) {
		ctx.Error("No thumbnail job for asset", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("asset_id", assetID).Msg("[THUMB] Failed to load job status")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, job)
}

// Enqueue answers POST /thumbnails/{assetId}. It responds 202 when a job was
// created and 200 when an active job already existed.
func (e *Endpoints) Enqueue(ctx *fasthttp.RequestCtx) {
	assetID, ok := ctx.UserValue("assetID").(string)
	if !ok || assetID == "" {
		ctx.Error("Asset ID is required", fasthttp.StatusBadRequest)
		return
	}

	a, err := e.assets.GetByID(ctx, assetID)
	if errors.Is(err, asset.ErrAssetNotFound) {
		ctx.Error("Asset not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("asset_id", assetID).Msg("[THUMB] Failed to load asset")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	job, created, err := e.queue.Enqueue(ctx, a.ID, a.StorageKey)
	if err != nil {
		status := mediaerr.HTTPStatus(err)
		if status == fasthttp.StatusInternalServerError {
			log.Error().Err(err).Str("asset_id", assetID).Msg("[THUMB] Failed to enqueue job")
		}
		ctx.Error(fasthttp.StatusMessage(status), status)
		return
	}

	status := fasthttp.StatusOK
	if created {
		status = fasthttp.StatusAccepted
	}
	writeJSON(ctx, status, EnqueueResponse{Job: job, Created: created})
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

package status

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/thumbnail"
)

type DepthSource interface {
	Depth(ctx context.Context) (map[thumbnail.Status]int, error)
}

type StatusEndpoints struct {
	version string
	queue   DepthSource
}

func NewEndpoints(version string, queue DepthSource) *StatusEndpoints {
	return &StatusEndpoints{
		version: version,
		queue:   queue,
	}
}

type StatusResponse struct {
	Health  string                   `json:"health"`
	Version string                   `json:"version"`
	Queue   map[thumbnail.Status]int `json:"queue"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	depth, err := se.queue.Depth(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read thumbnail queue depth")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Health:  "OK",
		Version: se.version,
		Queue:   depth,
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(responseJSON)
}

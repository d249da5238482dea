package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal"
	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/bus"
	"github.com/prappser/prappser_media/internal/database"
	"github.com/prappser/prappser_media/internal/health"
	"github.com/prappser/prappser_media/internal/logging"
	"github.com/prappser/prappser_media/internal/middleware"
	"github.com/prappser/prappser_media/internal/migration"
	"github.com/prappser/prappser_media/internal/status"
	"github.com/prappser/prappser_media/internal/storage"
	"github.com/prappser/prappser_media/internal/stream"
	"github.com/prappser/prappser_media/internal/thumbnail"
	"github.com/prappser/prappser_media/internal/websocket"
)

const version = "1.0.0"

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}
	logging.Setup(config.Log)

	db, err := database.Open(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}
	defer db.Close()

	tiers, err := storage.NewTiers(&config.Storage.Standard, &config.Storage.Cold)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage tiers")
		return
	}

	streamServer := newStreamServer(tiers, config.Server.MediaPrefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assets := asset.NewSQLRepository(db)
	queue := thumbnail.NewQueue(thumbnail.NewSQLRepository(db, config.Database.Driver), config.Thumbnails)
	pool := thumbnail.NewPool(queue, assets, tiers, thumbnail.NewMediaExtractor(config.Thumbnails))

	hub := websocket.NewHub(queue)
	queue.AddNotifier(hub)
	go hub.Run(ctx)

	if config.NATS.URL != "" {
		natsClient, err := bus.Connect(config.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to NATS")
			return
		}
		defer natsClient.Close()

		queue.AddNotifier(bus.NewDonePublisher(natsClient, config.NATS.DoneSubject, assets))
		if _, err := bus.NewUploadSubscriber(queue, assets).Subscribe(natsClient, config.NATS.UploadedSubject, config.NATS.QueueGroup); err != nil {
			log.Fatal().Err(err).Msg("Error subscribing to upload events")
			return
		}
	} else {
		log.Info().Msg("[NATS] No URL configured, upload events disabled")
	}

	pool.Start(ctx)

	records := migration.NewSQLRepository(db)
	migrator := migration.NewMigrator(assets, tiers, records, config.Migration)
	if config.Migration.Enabled {
		scheduler := migration.NewScheduler(migrator)
		scheduler.Start()
		defer scheduler.Stop()
	}

	requestHandler := internal.NewRequestHandler(config, internal.Handlers{
		Stream:     streamServer,
		Thumbnails: thumbnail.NewEndpoints(queue, assets),
		Migrations: migration.NewEndpoints(migrator, records),
		Health:     health.NewEndpoints(version, db),
		Status:     status.NewEndpoints(version, queue),
		WebSocket:  websocket.NewHandler(hub, config.CORS.AllowedOrigins),
		Auth:       middleware.NewAuthMiddleware(config.Auth),
	})

	server := &fasthttp.Server{
		Handler:            requestHandler,
		Name:               "prappser-media",
		ReadTimeout:        config.Server.ReadTimeout,
		WriteTimeout:       config.Server.WriteTimeout,
		IdleTimeout:        config.Server.IdleTimeout,
		MaxRequestBodySize: config.Server.MaxRequestBodySize,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
		}
	}()

	log.Info().Str("addr", config.Server.Addr).Str("version", version).Msg("Media server listening")
	if err := server.ListenAndServe(config.Server.Addr); err != nil {
		log.Fatal().Err(err).Msg("Error starting server")
	}

	pool.Wait()
	log.Info().Msg("Workers drained")
}

// newStreamServer serves media from every local tier, standard first.
func newStreamServer(tiers storage.Tiers, prefix string) *stream.Server {
	var server *stream.Server
	for _, tier := range []storage.Tier{storage.TierStandard, storage.TierCold} {
		local, ok := tiers[tier].(*storage.LocalStorage)
		if !ok {
			log.Warn().Str("tier", string(tier)).Msg("[STREAM] Tier is not local, its assets are not streamed")
			continue
		}
		if server == nil {
			server = stream.NewServer(local.Root(), prefix)
		} else {
			server.AddRoot(local.Root())
		}
	}
	if server == nil {
		log.Fatal().Msg("Media streaming needs at least one local storage tier")
	}
	return server
}

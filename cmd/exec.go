package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"waitly/config"
	"waitly/internal/handlers"
	"waitly/internal/realtime"
	"waitly/internal/services"
	"waitly/models"
	"waitly/monitoring"
	"waitly/security"
	"waitly/utils"

	"github.com/pocketbase/dbx"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"

	"github.com/pocketbase/pocketbase"

	_ "waitly/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub. Without keys the realtime mirror and push
	// notifications degrade to in-process delivery only.
	var pn *pubnub.PubNub
	var notifier realtime.Notifier = realtime.NopNotifier{}
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		pn = pubnub.NewPubNub(pnConfig)
		notifier = realtime.NewPubNubNotifier(pn, cfg)
	} else {
		slog.Warn("PubNub keys not configured, realtime mirroring disabled")
	}

	broker := realtime.NewBroker()
	bridge := realtime.NewBridge(broker, pn)

	// Initialize services
	store := services.NewPBStore(app)
	venueService := services.NewVenueService(redisClient, store, broker, cfg)
	statsService := services.NewStatsService(redisClient, broker, venueService, cfg)
	ticketService := services.NewTicketService(redisClient, store, broker, notifier, venueService, statsService, cfg)
	geoIndex := services.NewDBGeoIndex(app, venueService)
	worker := services.NewQueueWorker(redisClient, broker, notifier, ticketService, cfg)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(app, ticketService, bridge)
	counterHandler := handlers.NewCounterHandler(app, ticketService)
	venueHandler := handlers.NewVenueHandler(app, venueService, geoIndex, bridge)
	adminHandler := handlers.NewAdminHandler(app, venueService, ticketService, redisClient)

	rateLimiter := security.NewRateLimiter(redisClient)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	if cfg.EnableMetrics {
		monitoring.NewMonitor(redisClient)
		go monitoring.ServeMetrics(cfg.MetricsPort)
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		syncActiveVenuesToRedis(app, redisClient, venueService, bridge)
		go restoreQueueState(redisClient)

		worker.Start()

		// Ticket endpoints
		e.Router.POST("/api/v1/tickets", ticketHandler.CreateTicket).
			BindFunc(rateLimiter.TicketCreateLimit(cfg.CreateTicketPerMinute))
		e.Router.GET("/api/v1/tickets/{ticketId}", ticketHandler.GetTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/cancel", ticketHandler.CancelTicket)
		e.Router.POST("/api/v1/tickets/{ticketId}/complete", ticketHandler.CompleteTicket)

		// Counter endpoints
		e.Router.POST("/api/v1/counters/{counterId}/advance", counterHandler.AdvanceCounter)
		e.Router.POST("/api/v1/counters/{counterId}/serve", counterHandler.StartServing)

		// Venue endpoints
		e.Router.GET("/api/v1/venues/nearby", venueHandler.Nearby).
			BindFunc(rateLimiter.AntiBotMiddleware())
		e.Router.GET("/api/v1/venues/{venueId}/live", venueHandler.LiveState)
		e.Router.POST("/api/v1/venues/{venueId}/watch", venueHandler.Watch)
		e.Router.POST("/api/v1/venues/{venueId}/unwatch", venueHandler.Unwatch)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/queue-dashboard", adminHandler.GetQueueDashboard)
		e.Router.GET("/api/v1/admin/queue-details", adminHandler.GetQueueDetails)
		e.Router.POST("/api/v1/admin/venues/{venueId}/approve", adminHandler.ApproveVenue)
		e.Router.POST("/api/v1/admin/venues/{venueId}/reject", adminHandler.RejectVenue)
		e.Router.POST("/api/v1/admin/remove-from-queue", adminHandler.RemoveFromQueue)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupVenueHooks(app, redisClient, venueService, bridge)

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		worker.Shutdown()
		bridge.Stop()
		broker.Close()
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// syncActiveVenuesToRedis rebuilds the active venue set from the database so
// a restart never serves a stale roster.
func syncActiveVenuesToRedis(app *pocketbase.PocketBase, redisClient *redis.Client, venues *services.VenueService, bridge *realtime.Bridge) {
	ctx := context.Background()

	var records []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id FROM venues WHERE is_approved = TRUE",
	).All(&records); err != nil {
		log.Printf("Error fetching approved venues: %v", err)
		return
	}

	redisClient.Del(ctx, "active_venues")

	if len(records) == 0 {
		return
	}

	var venueIDs []interface{}
	for _, record := range records {
		id := record["id"].String
		if id == "" {
			continue
		}
		venueIDs = append(venueIDs, id)

		if err := venues.EnsureLiveState(ctx, id); err != nil {
			log.Printf("Error ensuring live state for venue %s: %v", id, err)
		}
		bridge.Watch(models.VenueTopic(id))
	}

	if len(venueIDs) > 0 {
		redisClient.SAdd(ctx, "active_venues", venueIDs...)
		log.Printf("Synced %d approved venues to Redis", len(venueIDs))
	}
}

func setupVenueHooks(app *pocketbase.PocketBase, redisClient *redis.Client, venues *services.VenueService, bridge *realtime.Bridge) {
	// New venues start unapproved, so creation never touches the active set.
	// Approval flips happen either through the admin endpoints or through
	// direct record edits; the update hook covers the latter.
	app.OnRecordUpdateRequest("venues").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}

		ctx := e.Request.Context()
		venueID := e.Record.Id

		if e.Record.GetBool("is_approved") {
			if err := redisClient.SAdd(ctx, "active_venues", venueID).Err(); err != nil {
				slog.Error("Failed to add approved venue to Redis", "venue_id", venueID, "error", err)
				return nil
			}
			if err := venues.EnsureLiveState(ctx, venueID); err != nil {
				slog.Error("Failed to init venue live state", "venue_id", venueID, "error", err)
			}
			bridge.Watch(models.VenueTopic(venueID))
		} else {
			if err := redisClient.SRem(ctx, "active_venues", venueID).Err(); err != nil {
				slog.Error("Failed to remove venue from Redis", "venue_id", venueID, "error", err)
				return nil
			}
			bridge.Unwatch(models.VenueTopic(venueID))
		}
		return nil
	})

	app.OnRecordDeleteRequest("venues").BindFunc(func(e *core.RecordRequestEvent) error {
		venueID := e.Record.Id

		if err := e.Next(); err != nil {
			return err
		}

		ctx := e.Request.Context()
		if err := redisClient.SRem(ctx, "active_venues", venueID).Err(); err != nil {
			slog.Error("Failed to remove deleted venue from Redis", "venue_id", venueID, "error", err)
			return nil
		}
		bridge.Unwatch(models.VenueTopic(venueID))
		return nil
	})
}

// restoreQueueState logs the queue depth found in Redis after a restart.
// Tickets live entirely in Redis so nothing needs rebuilding; the grace
// timeout worker picks up overdue called tickets on its next tick.
func restoreQueueState(redisClient *redis.Client) {
	ctx := context.Background()

	venueIDs, err := redisClient.SMembers(ctx, "active_venues").Result()
	if err != nil {
		log.Printf("Error getting active venues: %v", err)
		return
	}

	log.Printf("Found %d active venues", len(venueIDs))

	for _, venueID := range venueIDs {
		waiting, _ := redisClient.ZCard(ctx, fmt.Sprintf("queue:waiting:%s", venueID)).Result()
		called, _ := redisClient.ZCard(ctx, fmt.Sprintf("queue:called:%s", venueID)).Result()

		if waiting > 0 || called > 0 {
			log.Printf("Venue %s resumed with %d waiting and %d called tickets", venueID, waiting, called)
		}
	}
}

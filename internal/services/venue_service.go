package services

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"waitly/config"
	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
)

// Redis key layout. Everything hot is scoped per venue so unrelated
// venues never contend.
func waitingKey(venueID string) string    { return "queue:waiting:" + venueID }
func calledKey(venueID string) string     { return "queue:called:" + venueID }
func liveKey(venueID string) string       { return "venue:live:" + venueID }
func ticketKey(ticketID string) string    { return "ticket:" + ticketID }
func servingMapKey(venueID string) string { return "counter:serving:" + venueID }

const activeVenuesKey = "active_venues"

type VenueService struct {
	Redis  *redis.Client
	store  Store
	broker *realtime.Broker
	Config *config.Config
}

func NewVenueService(redisClient *redis.Client, store Store, broker *realtime.Broker, cfg *config.Config) *VenueService {
	return &VenueService{
		Redis:  redisClient,
		store:  store,
		broker: broker,
		Config: cfg,
	}
}

// ComputeLiveMetrics derives the wait estimate and crowd bucket from the
// rolling average and the current queue length. Pure; thresholds come
// from config, not hard-wired.
func ComputeLiveMetrics(avgServiceMinutes float64, queueLength int, cfg *config.Config) (int, models.CrowdLevel) {
	if queueLength < 0 {
		queueLength = 0
	}

	wait := decimal.NewFromFloat(avgServiceMinutes).
		Mul(decimal.NewFromInt(int64(queueLength))).
		Round(0).IntPart()
	if wait < 0 {
		wait = 0
	}

	level := models.CrowdHigh
	switch {
	case wait < int64(cfg.CrowdLowMaxMinutes):
		level = models.CrowdLow
	case wait <= int64(cfg.CrowdMediumMaxMinutes):
		level = models.CrowdMedium
	}

	return int(wait), level
}

// AverageServiceMinutes folds the rolling sums into an average, falling
// back to the configured default when a venue has no completion history.
func AverageServiceMinutes(waitSum, waitCount int64, cfg *config.Config) float64 {
	if waitCount <= 0 {
		return float64(cfg.DefaultServiceMinutes)
	}
	avg := decimal.NewFromInt(waitSum).
		Div(decimal.NewFromInt(waitCount)).
		Round(1)
	f, _ := avg.Float64()
	return f
}

// GetVenueLiveState returns the venue's current snapshot. Repeated calls
// with no intervening queue or stats events return an identical snapshot.
func (s *VenueService) GetVenueLiveState(ctx context.Context, venueID string) (*models.VenueSnapshot, error) {
	fields, err := s.Redis.HGetAll(ctx, liveKey(venueID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, status.ErrVenueNotFound
	}

	return s.snapshotFromFields(venueID, fields), nil
}

func (s *VenueService) snapshotFromFields(venueID string, fields map[string]string) *models.VenueSnapshot {
	asInt64 := func(k string) int64 {
		v, _ := strconv.ParseInt(fields[k], 10, 64)
		return v
	}

	queueLen := int(asInt64("queue_length"))
	if queueLen < 0 {
		queueLen = 0
	}
	avgService := AverageServiceMinutes(asInt64("wait_sum"), asInt64("wait_count"), s.Config)
	liveWait, crowd := ComputeLiveMetrics(avgService, queueLen, s.Config)

	lastUpdated := time.Unix(asInt64("last_updated"), 0).UTC()

	snapshot := &models.VenueSnapshot{
		VenueID:            venueID,
		CrowdLevel:         crowd,
		LiveWaitMinutes:    liveWait,
		QueueLength:        queueLen,
		ServingToken:       fields["serving_token"],
		AverageServiceTime: avgService,
		RatingCount:        asInt64("rating_count"),
		LastUpdated:        lastUpdated,
	}

	if ratingCount := asInt64("rating_count"); ratingCount > 0 {
		avgRating := decimal.NewFromInt(asInt64("rating_sum")).
			Div(decimal.NewFromInt(ratingCount)).
			Round(1)
		snapshot.AverageRating, _ = avgRating.Float64()
	}

	// The turn estimate is anchored at the stats snapshot it was computed
	// from, so it can never precede LastUpdated.
	if liveWait > 0 {
		turn := lastUpdated.Add(time.Duration(liveWait) * time.Minute)
		snapshot.EstimatedTurnTime = &turn
	}

	return snapshot
}

// EnsureLiveState initializes the live-state hash for a venue so stats
// folds can distinguish "no history" from "no such venue".
func (s *VenueService) EnsureLiveState(ctx context.Context, venueID string) error {
	key := liveKey(venueID)
	exists, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	return s.Redis.HSet(ctx, key, map[string]any{
		"queue_length": 0,
		"wait_sum":     0,
		"wait_count":   0,
		"rating_sum":   0,
		"rating_count": 0,
		"last_updated": time.Now().Unix(),
	}).Err()
}

// Approve flips a venue to approved and makes it visible for queueing.
// Idempotent; does not touch ticket state.
func (s *VenueService) Approve(ctx context.Context, venueID string) error {
	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return err
	}

	if !venue.IsApproved {
		if err := s.store.SetVenueApproval(ctx, venueID, true); err != nil {
			return err
		}
	}

	if err := s.Redis.SAdd(ctx, activeVenuesKey, venueID).Err(); err != nil {
		return err
	}
	if err := s.EnsureLiveState(ctx, venueID); err != nil {
		return err
	}

	slog.Info("venue approved", "venue_id", venueID)
	return nil
}

// Reject flips a venue back to unapproved. Tickets already in the queue
// are untouched; new admissions are refused by the lifecycle engine.
func (s *VenueService) Reject(ctx context.Context, venueID string) error {
	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return err
	}

	if venue.IsApproved {
		if err := s.store.SetVenueApproval(ctx, venueID, false); err != nil {
			return err
		}
	}

	if err := s.Redis.SRem(ctx, activeVenuesKey, venueID).Err(); err != nil {
		return err
	}

	slog.Info("venue rejected", "venue_id", venueID)
	return nil
}

// PublishSnapshot reads the venue's live state and fans it out as a
// venue_updated event.
func (s *VenueService) PublishSnapshot(ctx context.Context, venueID string) {
	snapshot, err := s.GetVenueLiveState(ctx, venueID)
	if err != nil {
		slog.Warn("skipping snapshot publish", "venue_id", venueID, "error", err)
		return
	}

	s.broker.Publish(models.VenueTopic(venueID), models.ChangeEvent{
		Type:      models.EventVenueUpdated,
		Timestamp: time.Now(),
		Venue:     snapshot,
	})
}

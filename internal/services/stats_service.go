package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"waitly/config"
	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
	"waitly/monitoring"
)

// recordCompletionScript folds one completed ticket's observations into
// the venue's rolling sums. The increments happen server-side in a single
// script, so two completions racing on the same venue both land: there is
// no read-then-write window to lose an update in.
const recordCompletionScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'not_found'}
end
if tonumber(ARGV[1]) >= 0 then
  redis.call('HINCRBY', KEYS[1], 'wait_sum', ARGV[1])
  redis.call('HINCRBY', KEYS[1], 'wait_count', 1)
end
if tonumber(ARGV[2]) >= 1 then
  redis.call('HINCRBY', KEYS[1], 'rating_sum', ARGV[2])
  redis.call('HINCRBY', KEYS[1], 'rating_count', 1)
end
redis.call('HSET', KEYS[1], 'last_updated', ARGV[3])
return {'ok'}
`

// StatsService is the stats aggregator: it owns the rolling averages and
// the derived live metrics recomputation.
type StatsService struct {
	Redis  *redis.Client
	broker *realtime.Broker
	venues *VenueService
	Config *config.Config
}

func NewStatsService(redisClient *redis.Client, broker *realtime.Broker, venues *VenueService, cfg *config.Config) *StatsService {
	return &StatsService{
		Redis:  redisClient,
		broker: broker,
		venues: venues,
		Config: cfg,
	}
}

// RecordCompletion atomically folds a completed ticket's observed wait
// and optional rating into the venue's rolling stats, then recomputes the
// live metrics and fans the fresh snapshot out. A missing wait folds the
// rating only; the live wait is still recomputed since queue_length may
// have changed. An unknown venue is terminal: callers must not retry.
func (s *StatsService) RecordCompletion(ctx context.Context, venueID string, waitMinutes, rating *int) error {
	wait := -1
	if waitMinutes != nil && *waitMinutes >= 0 {
		wait = *waitMinutes
	}
	r := -1
	if rating != nil {
		if *rating < 1 || *rating > 5 {
			return status.ErrInvalidRating
		}
		r = *rating
	}

	result, err := s.Redis.Eval(ctx, recordCompletionScript,
		[]string{liveKey(venueID)},
		wait, r, time.Now().Unix(),
	).Result()
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	outcome, _ := scriptOutcome(result)
	if outcome == "not_found" {
		return status.ErrVenueNotFound
	}

	if wait >= 0 {
		monitoring.TrackObservedWait(venueID, float64(wait))
	}

	s.refreshLiveMetrics(ctx, venueID)
	return nil
}

// refreshLiveMetrics recomputes the derived fields from the authoritative
// sums and publishes the snapshot. A crowd level crossing into high also
// emits a dedicated alert for venue watchers. The derived fields are a
// cache of a pure function over the sums, so a concurrent refresh can
// only ever be replaced by a fresher value.
func (s *StatsService) refreshLiveMetrics(ctx context.Context, venueID string) {
	snapshot, err := s.venues.GetVenueLiveState(ctx, venueID)
	if err != nil {
		return
	}

	previous, _ := s.Redis.HGet(ctx, liveKey(venueID), "crowd_level").Result()

	s.Redis.HSet(ctx, liveKey(venueID), map[string]any{
		"crowd_level": string(snapshot.CrowdLevel),
		"live_wait":   snapshot.LiveWaitMinutes,
	})

	s.broker.Publish(models.VenueTopic(venueID), models.ChangeEvent{
		Type:      models.EventVenueUpdated,
		Timestamp: time.Now(),
		Venue:     snapshot,
	})

	if previous != "" && previous != string(models.CrowdHigh) && snapshot.CrowdLevel == models.CrowdHigh {
		s.broker.Publish(models.VenueTopic(venueID), models.ChangeEvent{
			Type:      models.EventCrowdLevelChanged,
			Timestamp: time.Now(),
			Venue:     snapshot,
		})
	}
}

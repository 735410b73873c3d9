package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"waitly/config"
	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
	"waitly/monitoring"
	"waitly/utils"
)

// createTicketScript admits a ticket into the venue's FIFO. The sorted
// set scores by join time in unix millis; members with equal scores are
// ordered lexicographically by ticket id, which is the deterministic
// tie-break for identical timestamps. queue_length counts waiting plus
// called tickets.
const createTicketScript = `
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'exists', 0}
end
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[1])
redis.call('HSET', KEYS[3],
  'venue_id', ARGV[2],
  'user_id', ARGV[3],
  'token', ARGV[4],
  'status', 'waiting',
  'joined_at', ARGV[6])
redis.call('HINCRBY', KEYS[2], 'queue_length', 1)
redis.call('HSET', KEYS[2], 'last_updated', ARGV[6])
local pos = redis.call('ZRANK', KEYS[1], ARGV[1])
return {'ok', pos + 1}
`

// promoteNextScript is the per-venue critical section: verify the counter
// is free, pop the FIFO head, mark it called and claim the counter, all in
// one atomic unit. Two counters racing each run the whole script serially,
// so exactly one wins any given ticket.
const promoteNextScript = `
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 1 then
  return {'busy', ''}
end
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
  return {'empty', ''}
end
local ticketId = head[1]
redis.call('ZREM', KEYS[1], ticketId)
redis.call('ZADD', KEYS[2], ARGV[2], ticketId)
redis.call('HSET', KEYS[3], ARGV[1], ticketId)
local ticketKey = 'ticket:' .. ticketId
redis.call('HSET', ticketKey, 'status', 'called', 'called_at', ARGV[2], 'counter_id', ARGV[1])
local token = redis.call('HGET', ticketKey, 'token')
redis.call('HSET', KEYS[4], 'serving_token', token, 'last_updated', ARGV[2])
return {'ok', ticketId}
`

// startServingScript moves the counter's called ticket to serving. The
// ticket leaves the {waiting, called} set here, so queue_length drops.
const startServingScript = `
local ticketId = redis.call('HGET', KEYS[1], ARGV[1])
if not ticketId then
  return {'no_ticket', ''}
end
local ticketKey = 'ticket:' .. ticketId
local st = redis.call('HGET', ticketKey, 'status')
if st ~= 'called' then
  return {'state', ticketId}
end
redis.call('HSET', ticketKey, 'status', 'serving', 'serving_at', ARGV[2], 'counter_used', ARGV[1])
redis.call('ZREM', KEYS[3], ticketId)
redis.call('HINCRBY', KEYS[2], 'queue_length', -1)
redis.call('HSET', KEYS[2], 'last_updated', ARGV[2])
return {'ok', ticketId}
`

// cancelTicketScript cancels a waiting or called ticket. Terminal tickets
// report 'terminal' so racing cancellations (manual vs grace timeout)
// decrement queue_length exactly once.
const cancelTicketScript = `
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return {'not_found', ''}
end
if st == 'completed' or st == 'cancelled' then
  return {'terminal', st}
end
if st == 'serving' then
  return {'serving', st}
end
if st == 'waiting' then
  redis.call('ZREM', KEYS[2], ARGV[1])
else
  redis.call('ZREM', KEYS[3], ARGV[1])
  local cid = redis.call('HGET', KEYS[1], 'counter_id')
  if cid then
    redis.call('HDEL', KEYS[4], cid)
  end
end
redis.call('HSET', KEYS[1], 'status', 'cancelled')
redis.call('HINCRBY', KEYS[5], 'queue_length', -1)
redis.call('HSET', KEYS[5], 'last_updated', ARGV[2])
return {'ok', st}
`

// completeTicketScript finishes a ticket from any non-terminal state.
// A ticket completed straight from waiting or called (review submitted
// before the operator confirmed) still releases its queue slot and
// counter claim.
const completeTicketScript = `
local st = redis.call('HGET', KEYS[1], 'status')
if not st then
  return {'not_found', ''}
end
if st == 'completed' or st == 'cancelled' then
  return {'terminal', st}
end
if st == 'waiting' then
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('HINCRBY', KEYS[5], 'queue_length', -1)
elseif st == 'called' then
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('HINCRBY', KEYS[5], 'queue_length', -1)
end
local cid = redis.call('HGET', KEYS[1], 'counter_id')
if cid then
  redis.call('HDEL', KEYS[4], cid)
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[2])
redis.call('HSET', KEYS[5], 'last_updated', ARGV[2])
return {'ok', st}
`

// TicketService is the ticket lifecycle engine. Every transition runs as
// a single Lua script on the venue's keys, which is the per-venue
// critical section the FIFO guarantees depend on; the service itself
// never holds a lock across venues or across a notification send.
type TicketService struct {
	Redis    *redis.Client
	store    Store
	broker   *realtime.Broker
	notifier realtime.Notifier
	venues   *VenueService
	stats    *StatsService
	Config   *config.Config
}

func NewTicketService(
	redisClient *redis.Client,
	store Store,
	broker *realtime.Broker,
	notifier realtime.Notifier,
	venues *VenueService,
	stats *StatsService,
	cfg *config.Config,
) *TicketService {
	return &TicketService{
		Redis:    redisClient,
		store:    store,
		broker:   broker,
		notifier: notifier,
		venues:   venues,
		stats:    stats,
		Config:   cfg,
	}
}

// CreateTicket admits userID into venueID's queue and returns the ticket
// with its FIFO position.
func (s *TicketService) CreateTicket(ctx context.Context, venueID, userID string) (*models.Ticket, error) {
	if venueID == "" || userID == "" {
		return nil, status.ErrInvalidInput
	}

	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if !venue.IsApproved {
		return nil, status.ErrVenueNotApproved
	}
	if venue.Paused {
		return nil, status.ErrVenueClosed
	}

	token, err := utils.GenerateTicketToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ticket := &models.Ticket{
		VenueID:  venueID,
		UserID:   userID,
		Token:    token,
		Status:   models.TicketWaiting,
		JoinedAt: now,
	}

	ticketID, err := s.store.CreateTicket(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("persist ticket: %w", err)
	}
	ticket.ID = ticketID

	result, err := s.Redis.Eval(ctx, createTicketScript,
		[]string{waitingKey(venueID), liveKey(venueID), ticketKey(ticketID)},
		ticketID, venueID, userID, token, now.UnixMilli(), now.Unix(),
	).Result()
	if err != nil {
		monitoring.TrackQueueOperation("create", "error")
		return nil, fmt.Errorf("admit ticket: %w", err)
	}

	outcome, payload := scriptOutcome(result)
	if outcome != "ok" {
		monitoring.TrackQueueOperation("create", outcome)
		return nil, status.ErrInvalidState
	}
	ticket.Position = int(payloadInt(payload))

	monitoring.TrackQueueOperation("create", "success")
	monitoring.TrackTransition(venueID, models.TicketWaiting)

	s.publishTransition(ticket.ID, venueID, userID, "", models.TicketWaiting, ticket.Position)
	s.venues.PublishSnapshot(ctx, venueID)

	return ticket, nil
}

// AdvanceCounter promotes the FIFO head to called for a freed counter.
// Script atomicity resolves two counters racing for the last waiting
// ticket: one wins it, the other sees an empty queue. Transient storage
// errors are retried within the configured budget before being reported
// as a dependency failure.
func (s *TicketService) AdvanceCounter(ctx context.Context, counterID string) (*models.Ticket, error) {
	counter, err := s.store.GetCounter(ctx, counterID)
	if err != nil {
		return nil, err
	}
	if !counter.Open {
		return nil, status.ErrCounterClosed
	}
	venueID := counter.VenueID

	var result any
	for attempt := 0; ; attempt++ {
		now := time.Now().Unix()
		result, err = s.Redis.Eval(ctx, promoteNextScript,
			[]string{waitingKey(venueID), calledKey(venueID), servingMapKey(venueID), liveKey(venueID)},
			counterID, now,
		).Result()
		if err == nil {
			break
		}
		if attempt >= s.Config.PromotionRetries {
			monitoring.TrackQueueOperation("promote", "error")
			return nil, fmt.Errorf("%w: %v", status.ErrDependency, err)
		}
		monitoring.TrackPromotionRetry()
		slog.Warn("promotion attempt failed, retrying", "counter_id", counterID, "attempt", attempt+1, "error", err)
	}

	outcome, payload := scriptOutcome(result)
	switch outcome {
	case "busy":
		monitoring.TrackQueueOperation("promote", "busy")
		return nil, status.ErrCounterBusy
	case "empty":
		monitoring.TrackQueueOperation("promote", "empty")
		return nil, status.ErrNoWaitingTickets
	}

	ticketID := payloadString(payload)
	ticket, err := s.getTicketHot(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	monitoring.TrackQueueOperation("promote", "success")
	monitoring.TrackTransition(venueID, models.TicketCalled)

	if err := s.store.UpdateTicket(ctx, ticketID, map[string]any{
		"status":    models.TicketCalled,
		"called_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Warn("durable ticket update lagging", "ticket_id", ticketID, "error", err)
	}

	s.publishTransition(ticketID, venueID, ticket.UserID, models.TicketWaiting, models.TicketCalled, 0)
	s.venues.PublishSnapshot(ctx, venueID)

	// Imminent-turn notification; failure is advisory.
	_ = s.notifier.Notify(ctx, ticket.UserID, "You're next!",
		fmt.Sprintf("Ticket %s was called to counter %s", ticket.Token, counter.Label))

	return ticket, nil
}

// StartServing confirms that the counter's operator began serving its
// called ticket.
func (s *TicketService) StartServing(ctx context.Context, counterID string) (*models.Ticket, error) {
	counter, err := s.store.GetCounter(ctx, counterID)
	if err != nil {
		return nil, err
	}
	if !counter.Open {
		return nil, status.ErrCounterClosed
	}
	venueID := counter.VenueID

	result, err := s.Redis.Eval(ctx, startServingScript,
		[]string{servingMapKey(venueID), liveKey(venueID), calledKey(venueID)},
		counterID, time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("start serving: %w", err)
	}

	outcome, payload := scriptOutcome(result)
	switch outcome {
	case "no_ticket":
		return nil, status.ErrNoWaitingTickets
	case "state":
		return nil, status.ErrInvalidState
	}

	ticketID := payloadString(payload)
	ticket, err := s.getTicketHot(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	monitoring.TrackTransition(venueID, models.TicketServing)

	if err := s.store.UpdateTicket(ctx, ticketID, map[string]any{
		"status":       models.TicketServing,
		"serving_at":   time.Now().UTC().Format(time.RFC3339),
		"counter_used": counterID,
	}); err != nil {
		slog.Warn("durable ticket update lagging", "ticket_id", ticketID, "error", err)
	}

	s.publishTransition(ticketID, venueID, ticket.UserID, models.TicketCalled, models.TicketServing, 0)
	s.venues.PublishSnapshot(ctx, venueID)

	_ = s.notifier.Notify(ctx, ticket.UserID, "Now serving",
		fmt.Sprintf("Ticket %s is being served at counter %s", ticket.Token, counter.Label))

	return ticket, nil
}

// CancelTicket cancels a waiting or called ticket. The second actor to
// act on an already-terminal ticket gets a no-op success, so a manual
// cancel racing the grace timeout never double-decrements.
func (s *TicketService) CancelTicket(ctx context.Context, ticketID, actorID string) error {
	ticket, err := s.getTicketHot(ctx, ticketID)
	if err != nil {
		return err
	}
	if actorID != systemActor && ticket.UserID != actorID {
		return status.ErrNotOwner
	}
	if !models.CanTransition(ticket.Status, models.TicketCancelled) {
		if models.IsTerminal(ticket.Status) {
			monitoring.TrackQueueOperation("cancel", "noop")
			return nil
		}
		return status.ErrInvalidState
	}

	venueID := ticket.VenueID
	result, err := s.Redis.Eval(ctx, cancelTicketScript,
		[]string{ticketKey(ticketID), waitingKey(venueID), calledKey(venueID), servingMapKey(venueID), liveKey(venueID)},
		ticketID, time.Now().Unix(),
	).Result()
	if err != nil {
		return fmt.Errorf("cancel ticket: %w", err)
	}

	outcome, payload := scriptOutcome(result)
	switch outcome {
	case "not_found":
		return status.ErrTicketNotFound
	case "terminal":
		// Idempotent: already cancelled or completed.
		monitoring.TrackQueueOperation("cancel", "noop")
		return nil
	case "serving":
		return status.ErrInvalidState
	}

	from := payloadString(payload)
	monitoring.TrackQueueOperation("cancel", "success")
	monitoring.TrackTransition(venueID, models.TicketCancelled)

	if err := s.store.UpdateTicket(ctx, ticketID, map[string]any{"status": models.TicketCancelled}); err != nil {
		slog.Warn("durable ticket update lagging", "ticket_id", ticketID, "error", err)
	}

	s.publishTransition(ticketID, venueID, ticket.UserID, from, models.TicketCancelled, 0)
	s.venues.PublishSnapshot(ctx, venueID)

	return nil
}

// systemActor marks cancellations initiated by the grace-timeout worker
// rather than the ticket owner.
const systemActor = "system"

// CompleteTicket finishes a ticket and folds the observed wait and the
// optional review into the venue's rolling stats. Only the ticket owner
// (or the system, acting for an operator or admin) may complete it, since
// the attached wait and rating feed the venue's public averages. A
// user-reported wait time takes precedence over the system-measured
// elapsed time: policy is that the queue estimate should track perceived
// experience.
func (s *TicketService) CompleteTicket(ctx context.Context, ticketID, actorID string, review *models.Review) error {
	ticket, err := s.getTicketHot(ctx, ticketID)
	if err != nil {
		return err
	}
	if actorID != systemActor && ticket.UserID != actorID {
		return status.ErrNotOwner
	}
	if !models.CanTransition(ticket.Status, models.TicketCompleted) {
		if ticket.Status == models.TicketCompleted {
			// Repeat completion is a no-op, matching repeat cancellation.
			return nil
		}
		return status.ErrAlreadyTerminal
	}
	venueID := ticket.VenueID

	rating := -1
	if review != nil && review.Rating != nil {
		if *review.Rating < 1 || *review.Rating > 5 {
			return status.ErrInvalidRating
		}
		rating = *review.Rating
	}

	now := time.Now()
	result, err := s.Redis.Eval(ctx, completeTicketScript,
		[]string{ticketKey(ticketID), waitingKey(venueID), calledKey(venueID), servingMapKey(venueID), liveKey(venueID)},
		ticketID, now.Unix(),
	).Result()
	if err != nil {
		return fmt.Errorf("complete ticket: %w", err)
	}

	outcome, payload := scriptOutcome(result)
	switch outcome {
	case "not_found":
		return status.ErrTicketNotFound
	case "terminal":
		if payloadString(payload) == models.TicketCompleted {
			// Repeat completion is a no-op, matching repeat cancellation.
			return nil
		}
		return status.ErrAlreadyTerminal
	}

	from := payloadString(payload)

	waitMinutes := int(now.Sub(ticket.JoinedAt).Minutes())
	if waitMinutes < 0 {
		waitMinutes = 0
	}
	if review != nil && review.WaitMinutes != nil && *review.WaitMinutes >= 0 {
		waitMinutes = *review.WaitMinutes
	}

	fields := map[string]any{
		"status":       models.TicketCompleted,
		"completed_at": now.UTC().Format(time.RFC3339),
		"wait_minutes": waitMinutes,
	}
	if rating > 0 {
		fields["rating"] = rating
	}
	if review != nil && review.Text != "" {
		fields["review"] = review.Text
	}
	if err := s.store.UpdateTicket(ctx, ticketID, fields); err != nil {
		slog.Warn("durable ticket update lagging", "ticket_id", ticketID, "error", err)
	}

	monitoring.TrackQueueOperation("complete", "success")
	monitoring.TrackTransition(venueID, models.TicketCompleted)

	s.publishTransition(ticketID, venueID, ticket.UserID, from, models.TicketCompleted, 0)

	wait := &waitMinutes
	var ratingPtr *int
	if rating > 0 {
		ratingPtr = &rating
	}
	if err := s.stats.RecordCompletion(ctx, venueID, wait, ratingPtr); err != nil {
		return err
	}

	return nil
}

// GetTicket returns the ticket's hot state with its live FIFO position.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ticket, err := s.getTicketHot(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.Status == models.TicketWaiting {
		rank, err := s.Redis.ZRank(ctx, waitingKey(ticket.VenueID), ticketID).Result()
		if err == nil {
			ticket.Position = int(rank) + 1
		}
	}

	return ticket, nil
}

func (s *TicketService) getTicketHot(ctx context.Context, ticketID string) (*models.Ticket, error) {
	fields, err := s.Redis.HGetAll(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, status.ErrTicketNotFound
	}

	joined, _ := strconv.ParseInt(fields["joined_at"], 10, 64)

	// counter_id is the claim made at promotion; counter_used is stamped
	// once serving starts.
	counter := fields["counter_used"]
	if counter == "" {
		counter = fields["counter_id"]
	}

	return &models.Ticket{
		ID:          ticketID,
		VenueID:     fields["venue_id"],
		UserID:      fields["user_id"],
		Token:       fields["token"],
		Status:      fields["status"],
		JoinedAt:    time.Unix(joined, 0).UTC(),
		CalledAt:    unixField(fields, "called_at"),
		ServingAt:   unixField(fields, "serving_at"),
		CompletedAt: unixField(fields, "completed_at"),
		CounterUsed: counter,
	}, nil
}

func unixField(fields map[string]string, name string) *time.Time {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	ts := time.Unix(sec, 0).UTC()
	return &ts
}

func (s *TicketService) publishTransition(ticketID, venueID, userID, from, to string, position int) {
	event := models.ChangeEvent{
		Type:       models.EventTicketTransition,
		Timestamp:  time.Now(),
		TicketID:   ticketID,
		VenueID:    venueID,
		UserID:     userID,
		FromStatus: from,
		ToStatus:   to,
		Position:   position,
	}
	s.broker.Publish(models.TicketTopic(ticketID), event)
	s.broker.Publish(models.VenueTopic(venueID), event)
}

// scriptOutcome splits the {outcome, payload} pair every lifecycle script
// returns.
func scriptOutcome(result any) (string, any) {
	arr, ok := result.([]any)
	if !ok || len(arr) == 0 {
		return "", nil
	}
	outcome, _ := arr[0].(string)
	if len(arr) < 2 {
		return outcome, nil
	}
	return outcome, arr[1]
}

func payloadString(payload any) string {
	s, _ := payload.(string)
	return s
}

func payloadInt(payload any) int64 {
	switch v := payload.(type) {
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

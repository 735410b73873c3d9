package services

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitly/config"
	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
)

// stubStore satisfies Store without a database.
type stubStore struct {
	venue      *models.Venue
	counter    *models.Counter
	nextID     string
	updated    map[string]any
	venueErr   error
	counterErr error
}

func (s *stubStore) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	if s.venueErr != nil {
		return nil, s.venueErr
	}
	return s.venue, nil
}

func (s *stubStore) GetCounter(ctx context.Context, id string) (*models.Counter, error) {
	if s.counterErr != nil {
		return nil, s.counterErr
	}
	return s.counter, nil
}

func (s *stubStore) CreateTicket(ctx context.Context, t *models.Ticket) (string, error) {
	return s.nextID, nil
}

func (s *stubStore) UpdateTicket(ctx context.Context, id string, fields map[string]any) error {
	s.updated = fields
	return nil
}

func (s *stubStore) SetVenueApproval(ctx context.Context, id string, approved bool) error {
	return nil
}

// matchAnyArgs relaxes argument matching for commands that carry
// timestamps or random tokens; command order still has to line up.
func matchAnyArgs(expected, actual []interface{}) error { return nil }

func setupTicketService(store Store) (*TicketService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	cfg := &config.Config{
		DefaultServiceMinutes: 5,
		CrowdLowMaxMinutes:    15,
		CrowdMediumMaxMinutes: 45,
		PromotionRetries:      3,
		CalledGracePeriod:     3 * time.Minute,
	}

	broker := realtime.NewBroker()
	venues := NewVenueService(db, store, broker, cfg)
	stats := NewStatsService(db, broker, venues, cfg)
	service := NewTicketService(db, store, broker, realtime.NopNotifier{}, venues, stats, cfg)

	return service, mock
}

func liveFields(queueLen int) map[string]string {
	return map[string]string{
		"queue_length": strconv.Itoa(queueLen),
		"wait_sum":     "0",
		"wait_count":   "0",
		"rating_sum":   "0",
		"rating_count": "0",
		"last_updated": strconv.FormatInt(time.Now().Unix(), 10),
	}
}

func TestTicketService_CreateTicket_Success(t *testing.T) {
	store := &stubStore{
		venue:  &models.Venue{ID: "v1", IsApproved: true},
		nextID: "t1",
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(createTicketScript, []string{"queue:waiting:v1", "venue:live:v1", "ticket:t1"}, "t1", "v1", "u1", "", 0, 0).
		SetVal([]interface{}{"ok", int64(1)})
	mock.ExpectHGetAll("venue:live:v1").SetVal(liveFields(1))

	ticket, err := service.CreateTicket(context.Background(), "v1", "u1")

	require.NoError(t, err)
	assert.Equal(t, "t1", ticket.ID)
	assert.Equal(t, models.TicketWaiting, ticket.Status)
	assert.Equal(t, 1, ticket.Position)
	assert.True(t, strings.HasPrefix(ticket.Token, "W-"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CreateTicket_VenueNotApproved(t *testing.T) {
	store := &stubStore{
		venue: &models.Venue{ID: "v1", IsApproved: false},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	_, err := service.CreateTicket(context.Background(), "v1", "u1")

	assert.ErrorIs(t, err, status.ErrVenueNotApproved)
	// Rejection happens before any queue write.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CreateTicket_VenuePaused(t *testing.T) {
	store := &stubStore{
		venue: &models.Venue{ID: "v1", IsApproved: true, Paused: true},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	_, err := service.CreateTicket(context.Background(), "v1", "u1")

	assert.ErrorIs(t, err, status.ErrVenueClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_AdvanceCounter_Success(t *testing.T) {
	store := &stubStore{
		counter: &models.Counter{ID: "c1", VenueID: "v1", Label: "Counter 1", Open: true},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(promoteNextScript, []string{"queue:waiting:v1", "queue:called:v1", "counter:serving:v1", "venue:live:v1"}, "c1", 0).
		SetVal([]interface{}{"ok", "t1"})
	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id":   "v1",
		"user_id":    "u1",
		"token":      "W-3F9A2C",
		"status":     "called",
		"joined_at":  strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10),
		"counter_id": "c1",
	})
	mock.ExpectHGetAll("venue:live:v1").SetVal(liveFields(2))

	ticket, err := service.AdvanceCounter(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, "t1", ticket.ID)
	assert.Equal(t, models.TicketCalled, ticket.Status)
	assert.Equal(t, "c1", ticket.CounterUsed)
	assert.Equal(t, models.TicketCalled, store.updated["status"])
	assert.NotEmpty(t, store.updated["called_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_AdvanceCounter_EmptyQueue(t *testing.T) {
	store := &stubStore{
		counter: &models.Counter{ID: "c1", VenueID: "v1", Label: "Counter 1", Open: true},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(promoteNextScript, []string{"queue:waiting:v1", "queue:called:v1", "counter:serving:v1", "venue:live:v1"}, "c1", 0).
		SetVal([]interface{}{"empty", ""})

	_, err := service.AdvanceCounter(context.Background(), "c1")

	assert.ErrorIs(t, err, status.ErrNoWaitingTickets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_AdvanceCounter_CounterBusy(t *testing.T) {
	store := &stubStore{
		counter: &models.Counter{ID: "c1", VenueID: "v1", Label: "Counter 1", Open: true},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.CustomMatch(matchAnyArgs).
		ExpectEval(promoteNextScript, []string{"queue:waiting:v1", "queue:called:v1", "counter:serving:v1", "venue:live:v1"}, "c1", 0).
		SetVal([]interface{}{"busy", ""})

	_, err := service.AdvanceCounter(context.Background(), "c1")

	assert.ErrorIs(t, err, status.ErrCounterBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_AdvanceCounter_ClosedCounter(t *testing.T) {
	store := &stubStore{
		counter: &models.Counter{ID: "c1", VenueID: "v1", Label: "Counter 1", Open: false},
	}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	_, err := service.AdvanceCounter(context.Background(), "c1")

	assert.ErrorIs(t, err, status.ErrCounterClosed)
	// A closed counter never touches the queue.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CancelTicket_NotOwner(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id": "v1",
		"user_id":  "owner-user",
		"status":   "waiting",
	})

	err := service.CancelTicket(context.Background(), "t1", "someone-else")

	assert.ErrorIs(t, err, status.ErrNotOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CancelTicket_AlreadyTerminalIsNoop(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id": "v1",
		"user_id":  "u1",
		"status":   "cancelled",
	})

	err := service.CancelTicket(context.Background(), "t1", "u1")

	// No queue writes on a repeat cancel.
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CancelTicket_ServingRejected(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id": "v1",
		"user_id":  "u1",
		"status":   "serving",
	})

	err := service.CancelTicket(context.Background(), "t1", "u1")

	assert.ErrorIs(t, err, status.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CompleteTicket_UserReportedWaitWins(t *testing.T) {
	store := &stubStore{}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	// Measured wait is ~30 minutes; the user reports 20.
	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id":     "v1",
		"user_id":      "u1",
		"token":        "W-AB12CD",
		"status":       "serving",
		"joined_at":    strconv.FormatInt(time.Now().Add(-30*time.Minute).Unix(), 10),
		"counter_used": "c1",
	})
	mock.CustomMatch(matchAnyArgs).
		ExpectEval(completeTicketScript, []string{"ticket:t1", "queue:waiting:v1", "queue:called:v1", "counter:serving:v1", "venue:live:v1"}, "t1", 0).
		SetVal([]interface{}{"ok", "serving"})
	mock.CustomMatch(matchAnyArgs).
		ExpectEval(recordCompletionScript, []string{"venue:live:v1"}, 0, -1, 0).
		SetVal([]interface{}{"ok"})
	mock.ExpectHGetAll("venue:live:v1").SetVal(liveFields(0))
	mock.ExpectHGet("venue:live:v1", "crowd_level").SetVal("low")
	mock.CustomMatch(matchAnyArgs).
		ExpectHSet("venue:live:v1", "crowd_level", "low", "live_wait", 0).
		SetVal(2)

	reported := 20
	rating := 4
	err := service.CompleteTicket(context.Background(), "t1", "u1", &models.Review{
		WaitMinutes: &reported,
		Rating:      &rating,
	})

	require.NoError(t, err)
	assert.Equal(t, 20, store.updated["wait_minutes"])
	assert.Equal(t, 4, store.updated["rating"])
	assert.NotEmpty(t, store.updated["completed_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CompleteTicket_NotOwner(t *testing.T) {
	store := &stubStore{}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id":  "v1",
		"user_id":   "owner-user",
		"status":    "serving",
		"joined_at": strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10),
	})

	reported := 1
	rating := 5
	err := service.CompleteTicket(context.Background(), "t1", "someone-else", &models.Review{
		WaitMinutes: &reported,
		Rating:      &rating,
	})

	// Another user must not finish the ticket or inject wait and rating
	// numbers into the venue's averages.
	assert.ErrorIs(t, err, status.ErrNotOwner)
	assert.Nil(t, store.updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CompleteTicket_SystemActorAllowed(t *testing.T) {
	store := &stubStore{}
	service, mock := setupTicketService(store)
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id":     "v1",
		"user_id":      "u1",
		"token":        "W-AB12CD",
		"status":       "serving",
		"joined_at":    strconv.FormatInt(time.Now().Add(-5*time.Minute).Unix(), 10),
		"counter_used": "c1",
	})
	mock.CustomMatch(matchAnyArgs).
		ExpectEval(completeTicketScript, []string{"ticket:t1", "queue:waiting:v1", "queue:called:v1", "counter:serving:v1", "venue:live:v1"}, "t1", 0).
		SetVal([]interface{}{"ok", "serving"})
	mock.CustomMatch(matchAnyArgs).
		ExpectEval(recordCompletionScript, []string{"venue:live:v1"}, 0, -1, 0).
		SetVal([]interface{}{"ok"})
	mock.ExpectHGetAll("venue:live:v1").SetVal(liveFields(0))
	mock.ExpectHGet("venue:live:v1", "crowd_level").SetVal("low")
	mock.CustomMatch(matchAnyArgs).
		ExpectHSet("venue:live:v1", "crowd_level", "low", "live_wait", 0).
		SetVal(2)

	err := service.CompleteTicket(context.Background(), "t1", "system", nil)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_CompleteTicket_InvalidRating(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id": "v1",
		"user_id":  "u1",
		"status":   "serving",
	})

	rating := 6
	err := service.CompleteTicket(context.Background(), "t1", "u1", &models.Review{Rating: &rating})

	assert.ErrorIs(t, err, status.ErrInvalidRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_GetTicket_WaitingPosition(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:t1").SetVal(map[string]string{
		"venue_id":  "v1",
		"user_id":   "u1",
		"token":     "W-000001",
		"status":    "waiting",
		"joined_at": strconv.FormatInt(time.Now().Unix(), 10),
	})
	mock.ExpectZRank("queue:waiting:v1", "t1").SetVal(2)

	ticket, err := service.GetTicket(context.Background(), "t1")

	require.NoError(t, err)
	assert.Equal(t, 3, ticket.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketService_GetTicket_NotFound(t *testing.T) {
	service, mock := setupTicketService(&stubStore{})
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:missing").SetVal(map[string]string{})

	_, err := service.GetTicket(context.Background(), "missing")

	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

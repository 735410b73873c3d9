package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitly/internal/realtime"
	"waitly/internal/status"
	"waitly/models"
)

func setupVenueService(store Store) (*VenueService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewVenueService(db, store, realtime.NewBroker(), testConfig()), mock
}

func TestVenueService_GetVenueLiveState(t *testing.T) {
	service, mock := setupVenueService(nil)
	defer mock.ClearExpect()

	lastUpdated := time.Now().Add(-2 * time.Minute).Unix()
	mock.ExpectHGetAll("venue:live:v1").SetVal(map[string]string{
		"queue_length":  "4",
		"wait_sum":      "40",
		"wait_count":    "4",
		"rating_sum":    "13",
		"rating_count":  "3",
		"serving_token": "W-1234AB",
		"last_updated":  strconv.FormatInt(lastUpdated, 10),
	})

	snapshot, err := service.GetVenueLiveState(context.Background(), "v1")

	require.NoError(t, err)
	assert.Equal(t, "v1", snapshot.VenueID)
	assert.Equal(t, 4, snapshot.QueueLength)
	assert.Equal(t, 10.0, snapshot.AverageServiceTime)
	assert.Equal(t, 40, snapshot.LiveWaitMinutes)
	assert.Equal(t, models.CrowdMedium, snapshot.CrowdLevel)
	assert.Equal(t, "W-1234AB", snapshot.ServingToken)
	assert.Equal(t, 4.3, snapshot.AverageRating)
	assert.Equal(t, time.Unix(lastUpdated, 0).UTC(), snapshot.LastUpdated)

	// The turn estimate anchors at the snapshot's own timestamp.
	require.NotNil(t, snapshot.EstimatedTurnTime)
	assert.Equal(t, snapshot.LastUpdated.Add(40*time.Minute), *snapshot.EstimatedTurnTime)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVenueService_GetVenueLiveState_NoHistoryUsesDefault(t *testing.T) {
	service, mock := setupVenueService(nil)
	defer mock.ClearExpect()

	mock.ExpectHGetAll("venue:live:v1").SetVal(map[string]string{
		"queue_length": "2",
		"wait_sum":     "0",
		"wait_count":   "0",
		"rating_sum":   "0",
		"rating_count": "0",
		"last_updated": strconv.FormatInt(time.Now().Unix(), 10),
	})

	snapshot, err := service.GetVenueLiveState(context.Background(), "v1")

	require.NoError(t, err)
	assert.Equal(t, 5.0, snapshot.AverageServiceTime)
	assert.Equal(t, 10, snapshot.LiveWaitMinutes)
	assert.Equal(t, models.CrowdLow, snapshot.CrowdLevel)
	assert.Zero(t, snapshot.AverageRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVenueService_GetVenueLiveState_Unknown(t *testing.T) {
	service, mock := setupVenueService(nil)
	defer mock.ClearExpect()

	mock.ExpectHGetAll("venue:live:missing").SetVal(map[string]string{})

	_, err := service.GetVenueLiveState(context.Background(), "missing")

	assert.ErrorIs(t, err, status.ErrVenueNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVenueService_Approve(t *testing.T) {
	store := &stubStore{venue: &models.Venue{ID: "v1", IsApproved: false}}
	service, mock := setupVenueService(store)
	defer mock.ClearExpect()

	mock.ExpectSAdd("active_venues", "v1").SetVal(1)
	mock.ExpectExists("venue:live:v1").SetVal(1)

	err := service.Approve(context.Background(), "v1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVenueService_Reject(t *testing.T) {
	store := &stubStore{venue: &models.Venue{ID: "v1", IsApproved: true}}
	service, mock := setupVenueService(store)
	defer mock.ClearExpect()

	mock.ExpectSRem("active_venues", "v1").SetVal(1)

	err := service.Reject(context.Background(), "v1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

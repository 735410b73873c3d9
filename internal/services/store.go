package services

import (
	"context"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"waitly/internal/status"
	"waitly/models"
)

// Store is the durable persistence boundary. Redis owns the hot queue
// state; the store keeps the entity records and the completed-ticket
// history behind it.
type Store interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	GetCounter(ctx context.Context, id string) (*models.Counter, error)
	CreateTicket(ctx context.Context, t *models.Ticket) (string, error)
	UpdateTicket(ctx context.Context, id string, fields map[string]any) error
	SetVenueApproval(ctx context.Context, id string, approved bool) error
}

// PBStore backs Store with PocketBase collections.
type PBStore struct {
	app core.App
}

func NewPBStore(app core.App) *PBStore {
	return &PBStore{app: app}
}

func (s *PBStore) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	record, err := s.app.FindRecordById("venues", id)
	if err != nil {
		return nil, status.ErrVenueNotFound
	}

	return &models.Venue{
		ID:         record.Id,
		OwnerID:    record.GetString("owner"),
		Name:       record.GetString("name"),
		Category:   record.GetString("category"),
		Address:    record.GetString("address"),
		Latitude:   record.GetFloat("latitude"),
		Longitude:  record.GetFloat("longitude"),
		IsApproved: record.GetBool("is_approved"),
		Paused:     record.GetBool("paused"),
	}, nil
}

func (s *PBStore) GetCounter(ctx context.Context, id string) (*models.Counter, error) {
	record, err := s.app.FindRecordById("counters", id)
	if err != nil {
		return nil, status.ErrCounterNotFound
	}

	return &models.Counter{
		ID:      record.Id,
		VenueID: record.GetString("venue"),
		Label:   record.GetString("label"),
		Open:    record.GetBool("open"),
	}, nil
}

func (s *PBStore) CreateTicket(ctx context.Context, t *models.Ticket) (string, error) {
	collection, err := s.app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return "", err
	}

	record := core.NewRecord(collection)
	record.Set("venue", t.VenueID)
	record.Set("user", t.UserID)
	record.Set("token", t.Token)
	record.Set("status", t.Status)
	record.Set("joined_at", t.JoinedAt.UTC().Format(time.RFC3339))

	if err := s.app.Save(record); err != nil {
		return "", err
	}
	return record.Id, nil
}

func (s *PBStore) UpdateTicket(ctx context.Context, id string, fields map[string]any) error {
	record, err := s.app.FindRecordById("tickets", id)
	if err != nil {
		return status.ErrTicketNotFound
	}

	for k, v := range fields {
		record.Set(k, v)
	}
	return s.app.Save(record)
}

func (s *PBStore) SetVenueApproval(ctx context.Context, id string, approved bool) error {
	record, err := s.app.FindRecordById("venues", id)
	if err != nil {
		return status.ErrVenueNotFound
	}

	record.Set("is_approved", approved)
	return s.app.Save(record)
}

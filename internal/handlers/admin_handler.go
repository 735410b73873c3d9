package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"

	"waitly/internal/services"
	"waitly/internal/status"
)

type AdminHandler struct {
	app     *pocketbase.PocketBase
	venues  *services.VenueService
	tickets *services.TicketService
	redis   *redis.Client
}

func NewAdminHandler(app *pocketbase.PocketBase, venues *services.VenueService, tickets *services.TicketService, redis *redis.Client) *AdminHandler {
	return &AdminHandler{
		app:     app,
		venues:  venues,
		tickets: tickets,
		redis:   redis,
	}
}

func requireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil || e.Auth.Collection().Name != "admins" {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}
	return nil
}

// GetQueueDashboard - Get dashboard data for all active venues
func (h *AdminHandler) GetQueueDashboard(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}
	ctx := e.Request.Context()

	venueIDs, err := h.redis.SMembers(ctx, "active_venues").Result()
	if err != nil {
		return apis.NewBadRequestError("Failed to get active venues", err)
	}

	dashboardData := []map[string]any{}
	for _, venueID := range venueIDs {
		venue, err := h.app.FindRecordById("venues", venueID)
		if err != nil {
			continue
		}

		venueData := map[string]any{
			"venue_id":     venueID,
			"venue_name":   venue.GetString("name"),
			"category":     venue.GetString("category"),
			"queue_length": 0,
			"crowd_level":  "",
			"live_wait":    0,
		}
		if snapshot, err := h.venues.GetVenueLiveState(ctx, venueID); err == nil {
			venueData["queue_length"] = snapshot.QueueLength
			venueData["crowd_level"] = snapshot.CrowdLevel
			venueData["live_wait"] = snapshot.LiveWaitMinutes
			venueData["serving_token"] = snapshot.ServingToken
			venueData["avg_service_minutes"] = snapshot.AverageServiceTime
		}
		dashboardData = append(dashboardData, venueData)
	}
	return e.JSON(http.StatusOK, dashboardData)
}

// GetQueueDetails - Get the ordered waiting queue for a venue
func (h *AdminHandler) GetQueueDetails(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	venueID := e.Request.URL.Query().Get("venue_id")
	if venueID == "" {
		return apis.NewBadRequestError("Venue ID required", nil)
	}
	ctx := e.Request.Context()

	ticketIDs, err := h.redis.ZRange(ctx, fmt.Sprintf("queue:waiting:%s", venueID), 0, -1).Result()
	if err != nil {
		return apis.NewBadRequestError("Failed to get queue details", err)
	}

	details := []map[string]any{}
	for i, ticketID := range ticketIDs {
		fields, err := h.redis.HGetAll(ctx, fmt.Sprintf("ticket:%s", ticketID)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		entry := map[string]any{
			"position":  i + 1,
			"ticket_id": ticketID,
			"token":     fields["token"],
			"user_id":   fields["user_id"],
			"joined_at": fields["joined_at"],
		}
		if joined, err := strconv.ParseInt(fields["joined_at"], 10, 64); err == nil {
			entry["wait_seconds"] = int(time.Since(time.Unix(joined, 0)).Seconds())
		}
		if user, err := h.app.FindRecordById("users", fields["user_id"]); err == nil {
			entry["user_email"] = user.GetString("email")
		}
		details = append(details, entry)
	}
	return e.JSON(http.StatusOK, details)
}

// ApproveVenue - Approve a venue listing and activate its live state
func (h *AdminHandler) ApproveVenue(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	venueID := e.Request.PathValue("venueId")
	if err := h.venues.Approve(e.Request.Context(), venueID); err != nil {
		if errors.Is(err, status.ErrVenueNotFound) {
			return apis.NewNotFoundError("Venue not found", err)
		}
		return apis.NewBadRequestError("Failed to approve venue", err)
	}

	slog.Info("venue approved", "venue_id", venueID, "admin_id", e.Auth.Id)
	return e.JSON(http.StatusOK, map[string]any{"message": "Venue approved"})
}

// RejectVenue - Reject a venue listing and retire its live state
func (h *AdminHandler) RejectVenue(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	venueID := e.Request.PathValue("venueId")
	if err := h.venues.Reject(e.Request.Context(), venueID); err != nil {
		if errors.Is(err, status.ErrVenueNotFound) {
			return apis.NewNotFoundError("Venue not found", err)
		}
		return apis.NewBadRequestError("Failed to reject venue", err)
	}

	slog.Info("venue rejected", "venue_id", venueID, "admin_id", e.Auth.Id)
	return e.JSON(http.StatusOK, map[string]any{"message": "Venue rejected"})
}

// RemoveFromQueue - Cancel a ticket on the holder's behalf (admin action)
func (h *AdminHandler) RemoveFromQueue(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		TicketID string `json:"ticket_id"`
		Reason   string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil || req.TicketID == "" {
		return apis.NewBadRequestError("Invalid request", err)
	}

	slog.Info("admin removing ticket from queue",
		"admin_id", e.Auth.Id, "ticket_id", req.TicketID, "reason", req.Reason)

	if err := h.tickets.CancelTicket(e.Request.Context(), req.TicketID, "system"); err != nil {
		switch {
		case errors.Is(err, status.ErrTicketNotFound):
			return apis.NewNotFoundError("Ticket not found", err)
		case errors.Is(err, status.ErrInvalidState):
			return apis.NewBadRequestError("Ticket is being served and cannot be removed", err)
		default:
			return apis.NewBadRequestError("Failed to remove ticket", err)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Ticket removed from queue"})
}

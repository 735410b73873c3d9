package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"waitly/internal/realtime"
	"waitly/internal/services"
	"waitly/internal/status"
	"waitly/models"
)

type TicketHandler struct {
	app     *pocketbase.PocketBase
	tickets *services.TicketService
	bridge  *realtime.Bridge
}

func NewTicketHandler(app *pocketbase.PocketBase, tickets *services.TicketService, bridge *realtime.Bridge) *TicketHandler {
	return &TicketHandler{
		app:     app,
		tickets: tickets,
		bridge:  bridge,
	}
}

// CreateTicket - join a venue's queue
func (h *TicketHandler) CreateTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		VenueID string `json:"venue_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.VenueID == "" {
		return apis.NewBadRequestError("venue_id required", nil)
	}

	ticket, err := h.tickets.CreateTicket(e.Request.Context(), req.VenueID, e.Auth.Id)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrVenueNotFound):
			return apis.NewNotFoundError("Venue not found", err)
		case errors.Is(err, status.ErrVenueNotApproved):
			return apis.NewForbiddenError("Venue is not approved for queueing", err)
		case errors.Is(err, status.ErrVenueClosed):
			return apis.NewForbiddenError("Venue is not accepting new tickets", err)
		}
		return apis.NewBadRequestError("Failed to join queue", err)
	}

	// Mirror this ticket's change feed to its realtime channel.
	h.bridge.Watch(models.TicketTopic(ticket.ID))

	return e.JSON(http.StatusOK, ticket)
}

// GetTicket - current ticket state with live position
func (h *TicketHandler) GetTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")

	ticket, err := h.tickets.GetTicket(e.Request.Context(), ticketID)
	if err != nil {
		return apis.NewNotFoundError("Ticket not found", err)
	}
	if ticket.UserID != e.Auth.Id {
		return apis.NewForbiddenError("Not your ticket", nil)
	}

	return e.JSON(http.StatusOK, ticket)
}

// CancelTicket - leave the queue
func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")

	err := h.tickets.CancelTicket(e.Request.Context(), ticketID, e.Auth.Id)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTicketNotFound):
			return apis.NewNotFoundError("Ticket not found", err)
		case errors.Is(err, status.ErrNotOwner):
			return apis.NewForbiddenError("Not your ticket", err)
		case errors.Is(err, status.ErrInvalidState):
			return apis.NewBadRequestError("Ticket is being served and cannot be cancelled", err)
		}
		return apis.NewBadRequestError("Failed to cancel ticket", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Ticket cancelled"})
}

// CompleteTicket - finish a visit, optionally with a review
func (h *TicketHandler) CompleteTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticketID := e.Request.PathValue("ticketId")

	var review models.Review
	if err := e.BindBody(&review); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	err := h.tickets.CompleteTicket(e.Request.Context(), ticketID, h.completionActor(e, ticketID), &review)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTicketNotFound):
			return apis.NewNotFoundError("Ticket not found", err)
		case errors.Is(err, status.ErrNotOwner):
			return apis.NewForbiddenError("Not your ticket", err)
		case errors.Is(err, status.ErrInvalidRating):
			return apis.NewBadRequestError("Rating must be between 1 and 5", err)
		case errors.Is(err, status.ErrAlreadyTerminal):
			return apis.NewBadRequestError("Ticket was already cancelled", err)
		}
		return apis.NewBadRequestError("Failed to complete ticket", err)
	}

	return e.JSON(http.StatusOK, map[string]any{"message": "Ticket completed"})
}

// completionActor maps the caller to the actor id the lifecycle engine
// authorizes against. Admins and the owner of the ticket's venue act as
// the system; everyone else acts as themselves and must own the ticket.
func (h *TicketHandler) completionActor(e *core.RequestEvent, ticketID string) string {
	if e.Auth.Collection().Name == "admins" {
		return "system"
	}
	record, err := h.app.FindRecordById("tickets", ticketID)
	if err != nil {
		return e.Auth.Id
	}
	venue, err := h.app.FindRecordById("venues", record.GetString("venue"))
	if err != nil {
		return e.Auth.Id
	}
	if venue.GetString("owner") == e.Auth.Id {
		return "system"
	}
	return e.Auth.Id
}

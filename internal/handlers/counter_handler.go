package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"waitly/internal/services"
	"waitly/internal/status"
)

type CounterHandler struct {
	app     *pocketbase.PocketBase
	tickets *services.TicketService
}

func NewCounterHandler(app *pocketbase.PocketBase, tickets *services.TicketService) *CounterHandler {
	return &CounterHandler{
		app:     app,
		tickets: tickets,
	}
}

// requireCounterOperator checks that the caller owns the venue this
// counter belongs to. Admins pass as well.
func (h *CounterHandler) requireCounterOperator(e *core.RequestEvent, counterID string) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if e.Auth.Collection().Name == "admins" {
		return nil
	}

	counter, err := h.app.FindRecordById("counters", counterID)
	if err != nil {
		return apis.NewNotFoundError("Counter not found", err)
	}
	venue, err := h.app.FindRecordById("venues", counter.GetString("venue"))
	if err != nil {
		return apis.NewNotFoundError("Venue not found", err)
	}
	if venue.GetString("owner") != e.Auth.Id {
		return apis.NewForbiddenError("Not the venue owner", nil)
	}
	return nil
}

// AdvanceCounter - promote the next waiting ticket to this counter
func (h *CounterHandler) AdvanceCounter(e *core.RequestEvent) error {
	counterID := e.Request.PathValue("counterId")

	if err := h.requireCounterOperator(e, counterID); err != nil {
		return err
	}

	ticket, err := h.tickets.AdvanceCounter(e.Request.Context(), counterID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrCounterNotFound):
			return apis.NewNotFoundError("Counter not found", err)
		case errors.Is(err, status.ErrNoWaitingTickets):
			return apis.NewNotFoundError("No waiting tickets", err)
		case errors.Is(err, status.ErrCounterBusy):
			return apis.NewBadRequestError("Counter is already serving a ticket", err)
		case errors.Is(err, status.ErrCounterClosed):
			return apis.NewBadRequestError("Counter is closed", err)
		}
		return apis.NewBadRequestError("Failed to advance counter", err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// StartServing - operator confirms serving the called ticket
func (h *CounterHandler) StartServing(e *core.RequestEvent) error {
	counterID := e.Request.PathValue("counterId")

	if err := h.requireCounterOperator(e, counterID); err != nil {
		return err
	}

	ticket, err := h.tickets.StartServing(e.Request.Context(), counterID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrCounterNotFound):
			return apis.NewNotFoundError("Counter not found", err)
		case errors.Is(err, status.ErrNoWaitingTickets):
			return apis.NewNotFoundError("No called ticket at this counter", err)
		case errors.Is(err, status.ErrCounterClosed):
			return apis.NewBadRequestError("Counter is closed", err)
		case errors.Is(err, status.ErrInvalidState):
			return apis.NewBadRequestError("Ticket is not in a callable state", err)
		}
		return apis.NewBadRequestError("Failed to start serving", err)
	}

	return e.JSON(http.StatusOK, ticket)
}

package models

import (
	"time"
)

const (
	TicketWaiting   = "waiting"
	TicketCalled    = "called"
	TicketServing   = "serving"
	TicketCompleted = "completed"
	TicketCancelled = "cancelled"
)

type Ticket struct {
	ID          string     `json:"id"`
	VenueID     string     `json:"venue_id"`
	UserID      string     `json:"user_id"`
	Token       string     `json:"token"`
	Status      string     `json:"status"` // waiting, called, serving, completed, cancelled
	Position    int        `json:"position,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	ServingAt   *time.Time `json:"serving_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CounterUsed string     `json:"counter_used,omitempty"`
	WaitMinutes int        `json:"wait_minutes,omitempty"`
	Rating      int        `json:"rating,omitempty"`
	Review      string     `json:"review,omitempty"`
}

// Review is the optional post-visit submission attached to a completion.
// A user-supplied WaitMinutes takes precedence over the system-measured
// elapsed time: it captures perceived experience.
type Review struct {
	WaitMinutes *int   `json:"wait_minutes,omitempty"`
	Rating      *int   `json:"rating,omitempty"`
	Text        string `json:"text,omitempty"`
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == TicketCompleted || status == TicketCancelled
}

// CanTransition enforces the forward-only ticket state machine.
func CanTransition(from, to string) bool {
	switch from {
	case TicketWaiting:
		return to == TicketCalled || to == TicketCancelled || to == TicketCompleted
	case TicketCalled:
		return to == TicketServing || to == TicketCancelled || to == TicketCompleted
	case TicketServing:
		return to == TicketCompleted
	}
	return false
}

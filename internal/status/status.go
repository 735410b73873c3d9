package status

import "errors"

var (
	// Validation
	ErrInvalidInput  = errors.New("validation: malformed input")
	ErrInvalidRating = errors.New("validation: rating must be between 1 and 5")

	// Not found
	ErrVenueNotFound   = errors.New("venue: venue not found")
	ErrTicketNotFound  = errors.New("ticket: ticket not found")
	ErrCounterNotFound = errors.New("counter: counter not found")

	// Admission
	ErrVenueNotApproved = errors.New("venue: venue not approved for queueing")
	ErrVenueClosed      = errors.New("venue: venue not accepting new tickets")

	// State conflicts
	ErrAlreadyTerminal  = errors.New("ticket: ticket already in a terminal state")
	ErrInvalidState     = errors.New("ticket: illegal state transition")
	ErrNotOwner         = errors.New("ticket: actor does not own this ticket")
	ErrNoWaitingTickets = errors.New("queue: no waiting tickets")
	ErrCounterBusy      = errors.New("counter: counter already serving a ticket")
	ErrCounterClosed    = errors.New("counter: counter is closed")

	// Infrastructure
	ErrDependency = errors.New("dependency: storage or notification sink unavailable")
)

package models

import (
	"time"
)

const (
	EventVenueUpdated      = "venue_updated"
	EventTicketTransition  = "ticket_transitioned"
	EventQueuePosition     = "queue_position"
	EventCrowdLevelChanged = "crowd_level_changed"
)

// ChangeEvent is the typed change feed record fanned out to subscribers.
// Consumers apply it as an incremental patch; a later event for the same
// subject supersedes earlier ones.
type ChangeEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// venue_updated / crowd_level_changed
	Venue *VenueSnapshot `json:"venue,omitempty"`

	// ticket_transitioned / queue_position
	TicketID   string `json:"ticket_id,omitempty"`
	VenueID    string `json:"venue_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Position   int    `json:"position,omitempty"`
}

func VenueTopic(venueID string) string   { return "venue:" + venueID }
func TicketTopic(ticketID string) string { return "ticket:" + ticketID }

package models

import (
	"time"
)

type CrowdLevel string

const (
	CrowdLow    CrowdLevel = "low"
	CrowdMedium CrowdLevel = "medium"
	CrowdHigh   CrowdLevel = "high"
)

type Venue struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"owner_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Address    string  `json:"address"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	IsApproved bool    `json:"is_approved"`
	Paused     bool    `json:"paused"`
}

// VenueSnapshot is the live state of a venue's queue as of LastUpdated.
// Snapshots are derived, never hand-edited; readers must treat a later
// snapshot as authoritative over any earlier one.
type VenueSnapshot struct {
	VenueID            string     `json:"venue_id"`
	CrowdLevel         CrowdLevel `json:"crowd_level"`
	LiveWaitMinutes    int        `json:"live_wait_minutes"`
	QueueLength        int        `json:"queue_length"`
	ServingToken       string     `json:"serving_token,omitempty"`
	AverageServiceTime float64    `json:"average_service_time"`
	AverageRating      float64    `json:"average_rating,omitempty"`
	RatingCount        int64      `json:"rating_count"`
	EstimatedTurnTime  *time.Time `json:"estimated_turn_time,omitempty"`
	LastUpdated        time.Time  `json:"last_updated"`
}

// VenueSummary is a geo search result. Ambient entries come from venues
// that are not yet approved: they expose crowd fields only and cannot be
// queued against.
type VenueSummary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Address        string     `json:"address"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	DistanceMeters float64    `json:"distance_meters"`
	Relevance      float64    `json:"relevance"`
	Ambient        bool       `json:"ambient"`
	CrowdLevel     CrowdLevel `json:"crowd_level,omitempty"`
	LiveWaitMin    int        `json:"live_wait_minutes,omitempty"`
}

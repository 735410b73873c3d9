package models

// Counter is a serving point inside a venue. Which ticket a counter is
// currently serving lives in Redis (the venue's serving map), not here.
type Counter struct {
	ID      string `json:"id"`
	VenueID string `json:"venue_id"`
	Label   string `json:"label"`
	Open    bool   `json:"open"`
}

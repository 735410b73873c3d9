package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"waitly/internal/realtime"
	"waitly/internal/services"
	"waitly/internal/status"
	"waitly/models"
)

type VenueHandler struct {
	app    *pocketbase.PocketBase
	venues *services.VenueService
	geo    services.GeoIndex
	bridge *realtime.Bridge
}

func NewVenueHandler(app *pocketbase.PocketBase, venues *services.VenueService, geo services.GeoIndex, bridge *realtime.Bridge) *VenueHandler {
	return &VenueHandler{
		app:    app,
		venues: venues,
		geo:    geo,
		bridge: bridge,
	}
}

// Nearby - venues within a radius, optionally filtered by a search term
func (h *VenueHandler) Nearby(e *core.RequestEvent) error {
	query := e.Request.URL.Query()

	lat, latErr := strconv.ParseFloat(query.Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(query.Get("lng"), 64)
	if latErr != nil || lngErr != nil {
		return apis.NewBadRequestError("lat and lng are required coordinates", nil)
	}

	radiusKm := 5.0
	if raw := query.Get("radius_km"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			radiusKm = parsed
		}
	}

	includeAmbient := query.Get("include_ambient") == "true"

	results, err := h.geo.Nearby(e.Request.Context(), lat, lng, radiusKm, query.Get("q"), includeAmbient)
	if err != nil {
		if errors.Is(err, status.ErrInvalidInput) {
			return apis.NewBadRequestError("Invalid coordinates or radius", err)
		}
		return apis.NewBadRequestError("Search failed", err)
	}

	return e.JSON(http.StatusOK, results)
}

// LiveState - current queue snapshot for a venue
func (h *VenueHandler) LiveState(e *core.RequestEvent) error {
	venueID := e.Request.PathValue("venueId")

	snapshot, err := h.venues.GetVenueLiveState(e.Request.Context(), venueID)
	if err != nil {
		if errors.Is(err, status.ErrVenueNotFound) {
			return apis.NewNotFoundError("Venue not found", err)
		}
		return apis.NewBadRequestError("Failed to read live state", err)
	}

	return e.JSON(http.StatusOK, snapshot)
}

// Watch - mirror the venue's change feed to its realtime channel
func (h *VenueHandler) Watch(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	venueID := e.Request.PathValue("venueId")
	topic := models.VenueTopic(venueID)
	h.bridge.Watch(topic)

	return e.JSON(http.StatusOK, map[string]any{"channel": topic})
}

// Unwatch - stop mirroring the venue's change feed
func (h *VenueHandler) Unwatch(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	venueID := e.Request.PathValue("venueId")
	h.bridge.Unwatch(models.VenueTopic(venueID))

	return e.JSON(http.StatusOK, map[string]any{"message": "Unsubscribed"})
}

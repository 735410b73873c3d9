package services

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"waitly/internal/status"
	"waitly/models"
)

// GeoIndex answers "which venues lie within radiusKm of (lat, lng)",
// each annotated with distance and a search-term relevance score,
// ordered by relevance descending then distance ascending. No match is
// an empty slice, not an error.
type GeoIndex interface {
	Nearby(ctx context.Context, lat, lng, radiusKm float64, term string, includeAmbient bool) ([]models.VenueSummary, error)
}

// DBGeoIndex implements GeoIndex over the venues collection: a cheap
// bounding-box prefilter in SQL, exact great-circle distance in Go. Live
// crowd fields for approved venues are read from the venue live-state
// hashes.
type DBGeoIndex struct {
	app    core.App
	venues *VenueService
}

func NewDBGeoIndex(app core.App, venues *VenueService) *DBGeoIndex {
	return &DBGeoIndex{app: app, venues: venues}
}

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// relevanceScore grades how well a venue matches the search term. Zero
// when no term was given.
func relevanceScore(term, name, category string) float64 {
	if term == "" {
		return 0
	}
	term = strings.ToLower(term)
	name = strings.ToLower(name)
	category = strings.ToLower(category)

	score := 0.0
	switch {
	case name == term:
		score = 3
	case strings.HasPrefix(name, term):
		score = 2
	case strings.Contains(name, term):
		score = 1
	}
	if strings.Contains(category, term) {
		score += 0.5
	}
	return score
}

func (g *DBGeoIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64, term string, includeAmbient bool) ([]models.VenueSummary, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || radiusKm <= 0 {
		return nil, status.ErrInvalidInput
	}

	// Bounding box: generous prefilter, exact distance cut below.
	latDelta := radiusKm / 111.0
	lngDelta := radiusKm / (111.0 * math.Max(math.Cos(lat*math.Pi/180), 0.01))

	query := g.app.DB().
		NewQuery(`SELECT id, name, category, address, latitude, longitude, is_approved
			FROM venues
			WHERE latitude BETWEEN {:latMin} AND {:latMax}
			  AND longitude BETWEEN {:lngMin} AND {:lngMax}`).
		Bind(dbx.Params{
			"latMin": lat - latDelta,
			"latMax": lat + latDelta,
			"lngMin": lng - lngDelta,
			"lngMax": lng + lngDelta,
		})

	var rows []dbx.NullStringMap
	if err := query.All(&rows); err != nil {
		return nil, err
	}

	results := make([]models.VenueSummary, 0, len(rows))
	for _, row := range rows {
		approved := row["is_approved"].String == "1" || strings.EqualFold(row["is_approved"].String, "true")
		if !approved && !includeAmbient {
			continue
		}

		vLat := parseFloat(row["latitude"].String)
		vLng := parseFloat(row["longitude"].String)

		distance := haversineMeters(lat, lng, vLat, vLng)
		if distance > radiusKm*1000 {
			continue
		}

		res := models.VenueSummary{
			ID:             row["id"].String,
			Name:           row["name"].String,
			Category:       row["category"].String,
			Address:        row["address"].String,
			Latitude:       vLat,
			Longitude:      vLng,
			DistanceMeters: distance,
			Relevance:      relevanceScore(term, row["name"].String, row["category"].String),
			Ambient:        !approved,
		}

		if term != "" && res.Relevance == 0 {
			continue
		}

		if approved {
			if snapshot, err := g.venues.GetVenueLiveState(ctx, res.ID); err == nil {
				res.CrowdLevel = snapshot.CrowdLevel
				res.LiveWaitMin = snapshot.LiveWaitMinutes
			}
		}

		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].DistanceMeters < results[j].DistanceMeters
	})

	return results, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

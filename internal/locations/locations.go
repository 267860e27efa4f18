// Package locations lists fulfilment locations and picks the closest one to
// a customer.
package locations

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/apperr"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const earthRadiusKm = 6371

// Distance is the great-circle distance in kilometres between two points
// given in degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Nearest returns the closest location with Distance filled in, or false
// when there are none.
func Nearest(lat, lng float64, locations []models.Location) (models.Location, bool) {
	var nearest models.Location
	found := false
	minDistance := math.Inf(1)
	for _, loc := range locations {
		d := Distance(lat, lng, loc.Lat, loc.Lng)
		if d < minDistance {
			minDistance = d
			nearest = loc
			nearest.Distance = d
			found = true
		}
	}
	return nearest, found
}

type Store interface {
	ListLocations(ctx context.Context) ([]models.Location, error)
}

type Service struct {
	store  Store
	logger *logrus.Logger
}

func NewService(st Store, logger *logrus.Logger) *Service {
	return &Service{store: st, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]models.Location, error) {
	locations, err := s.store.ListLocations(ctx)
	if err != nil {
		return nil, apperr.Storage("locations.list", err)
	}
	if locations == nil {
		locations = []models.Location{}
	}
	return locations, nil
}

func (s *Service) Nearest(ctx context.Context, lat, lng float64) (models.Location, error) {
	const op = "locations.nearest"
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Location{}, apperr.Validation(op, "lat must be within [-90, 90] and lng within [-180, 180]")
	}
	locations, err := s.List(ctx)
	if err != nil {
		return models.Location{}, err
	}
	nearest, ok := Nearest(lat, lng, locations)
	if !ok {
		return models.Location{}, apperr.NotFound(op, "no locations available")
	}
	return nearest, nil
}

package capture

import (
	"context"
	"errors"
)

// ErrLocationUnavailable is returned when no position can be determined.
var ErrLocationUnavailable = errors.New("capture: location unavailable")

// Location is a captured position fix.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// GeoProvider yields the current position, or ErrLocationUnavailable.
type GeoProvider interface {
	Current(ctx context.Context) (*Location, error)
}

// StaticGeoProvider reports a fixed position from configuration.
type StaticGeoProvider struct {
	Location Location
}

func (p *StaticGeoProvider) Current(ctx context.Context) (*Location, error) {
	loc := p.Location
	return &loc, nil
}

// NoGeoProvider always reports the position as unavailable.
type NoGeoProvider struct{}

func (NoGeoProvider) Current(ctx context.Context) (*Location, error) {
	return nil, ErrLocationUnavailable
}

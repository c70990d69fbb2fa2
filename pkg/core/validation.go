package core

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ValidateCoords checks that latitude and longitude are within WGS84 ranges
func ValidateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return NewError(ErrInvalidParameter, fmt.Sprintf("latitude must be between -90 and 90, got %f", lat)).
			WithGuidance("Ensure latitude is in decimal degrees")
	}
	if lon < -180 || lon > 180 {
		return NewError(ErrInvalidParameter, fmt.Sprintf("longitude must be between -180 and 180, got %f", lon)).
			WithGuidance("Ensure longitude is in decimal degrees")
	}
	return nil
}

// ParseOptionalCoords reads a latitude/longitude pair from a tool request.
// ok is false when neither key is present; supplying only one is an error.
func ParseOptionalCoords(req mcp.CallToolRequest, latKey, lonKey string) (lat, lon float64, ok bool, err error) {
	args := req.GetArguments()
	_, hasLat := args[latKey]
	_, hasLon := args[lonKey]
	if !hasLat && !hasLon {
		return 0, 0, false, nil
	}
	if hasLat != hasLon {
		return 0, 0, false, NewValidationError(ErrMissingParameter,
			fmt.Sprintf("%s and %s must be given together", latKey, lonKey))
	}

	lat = mcp.ParseFloat64(req, latKey, 0)
	lon = mcp.ParseFloat64(req, lonKey, 0)
	if err := ValidateCoords(lat, lon); err != nil {
		return 0, 0, false, err
	}
	return lat, lon, true, nil
}

package dto

import (
	"strconv"
	"strings"

	"github.com/noah-isme/ruralfund-api/internal/models"
	appErrors "github.com/noah-isme/ruralfund-api/pkg/errors"
)

// SubmitClaimRequest captures POST /projects/:id/claims payload. Location
// coordinates may be sent as an object or as a "lat, lng" string.
type SubmitClaimRequest struct {
	Amount          MoneyInput          `json:"amount"`
	Description     string              `json:"description" validate:"required,max=5000"`
	Location        string              `json:"location" validate:"required,max=200"`
	Coordinates     *models.Coordinates `json:"coordinates,omitempty"`
	CoordinatesText string              `json:"coordinatesText,omitempty" validate:"max=64"`
	EvidenceRefs    []string            `json:"evidenceRefs,omitempty" validate:"max=20,dive,required,max=500"`
	Notes           string              `json:"notes,omitempty" validate:"max=2000"`
}

// ResolveCoordinates returns the structured coordinates, parsing the text
// form when no object was given.
func (r SubmitClaimRequest) ResolveCoordinates() (*models.Coordinates, error) {
	if r.Coordinates != nil {
		return r.Coordinates, nil
	}
	text := strings.TrimSpace(r.CoordinatesText)
	if text == "" {
		return nil, nil
	}
	return ParseCoordinates(text)
}

// ParseCoordinates parses "lat, lng".
func ParseCoordinates(text string) (*models.Coordinates, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "coordinates must look like \"lat, lng\"")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "latitude is not a number")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "longitude is not a number")
	}
	coords := &models.Coordinates{Latitude: lat, Longitude: lng}
	if !coords.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "coordinates are out of range")
	}
	return coords, nil
}

// DecisionRequest captures POST /claims/:id/decision payload.
type DecisionRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=APPROVED REJECTED WITHDRAWN"`
	Reason  string `json:"reason,omitempty" validate:"max=1000"`
}

// ReasonRequest carries an optional or required free-text reason.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

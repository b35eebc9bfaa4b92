package models

import (
	"time"

	"github.com/noah-isme/ruralfund-api/pkg/money"
)

// ClaimStatus enumerates work claim workflow states.
type ClaimStatus string

const (
	ClaimStatusSubmitted ClaimStatus = "SUBMITTED"
	ClaimStatusCommitted ClaimStatus = "COMMITTED"
	ClaimStatusApproved  ClaimStatus = "APPROVED"
	ClaimStatusRejected  ClaimStatus = "REJECTED"
	ClaimStatusWithdrawn ClaimStatus = "WITHDRAWN"
)

// Terminal reports whether the claim can no longer change.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusApproved || s == ClaimStatusRejected || s == ClaimStatusWithdrawn
}

// Coordinates is an optional geolocation captured with a claim.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Valid checks WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// WorkClaim is a contractor's request to draw funds for completed work.
type WorkClaim struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"projectId"`
	ContractorID    string       `json:"contractorId"`
	Amount          money.Money  `json:"amount"`
	Description     string       `json:"description"`
	Location        string       `json:"location"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
	EvidenceRefs    []string     `json:"evidenceRefs"`
	Notes           string       `json:"notes,omitempty"`
	Status          ClaimStatus  `json:"status"`
	ReservationID   string       `json:"reservationId,omitempty"`
	SubmittedAt     time.Time    `json:"submittedAt"`
	AcknowledgedBy  *string      `json:"acknowledgedBy,omitempty"`
	DecidedAt       *time.Time   `json:"decidedAt,omitempty"`
	DecidedBy       *string      `json:"decidedBy,omitempty"`
	RejectionReason *string      `json:"rejectionReason,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (c WorkClaim) Clone() WorkClaim {
	out := c
	out.EvidenceRefs = append([]string(nil), c.EvidenceRefs...)
	if c.Coordinates != nil {
		coords := *c.Coordinates
		out.Coordinates = &coords
	}
	out.AcknowledgedBy = cloneString(c.AcknowledgedBy)
	out.DecidedBy = cloneString(c.DecidedBy)
	out.RejectionReason = cloneString(c.RejectionReason)
	out.DecidedAt = cloneTime(c.DecidedAt)
	return out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

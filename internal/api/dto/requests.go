package dto

import (
	"time"

	"github.com/google/uuid"
)

// Actor is the trusted identity supplied by the external token-validation
// layer, consumed verbatim from request headers
type Actor struct {
	UserID   string
	Email    string
	RoleHint string
}

// MeetingPointRequest is the gathering point of a ride proposal
type MeetingPointRequest struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

// CreateRideRequest represents a ride proposal. Required-field validation
// happens in the lifecycle manager so every missing field is named at once.
type CreateRideRequest struct {
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	RideType           string              `json:"ride_type"`
	Difficulty         string              `json:"difficulty"`
	StartDateTime      time.Time           `json:"start_date_time"`
	EstimatedDuration  int                 `json:"estimated_duration"`
	MeetingPoint       MeetingPointRequest `json:"meeting_point"`
	Route              *string             `json:"route,omitempty"`
	MaxParticipants    *int64              `json:"max_participants,omitempty"`
	PublishImmediately bool                `json:"publish_immediately,omitempty"`
}

// CancelRideRequest carries an optional cancellation reason
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// JoinResponse reports the outcome of a join
type JoinResponse struct {
	RideID   uuid.UUID `json:"ride_id"`
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"` // active or waitlisted
	JoinedAt time.Time `json:"joined_at"`
}

// Pagination echoes the page shape of list endpoints
type Pagination struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListResponse is the envelope of list endpoints
type ListResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// ErrorResponse is the stable user-visible error shape
type ErrorResponse struct {
	ErrorType string   `json:"errorType"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

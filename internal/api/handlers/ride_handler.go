package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/club-rides/internal/api/dto"
	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/service/lifecycle"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
	"github.com/gocomet/club-rides/pkg/logger"
)

// CreateRide handles POST /v1/clubs/:clubId/rides
func (h *Handlers) CreateRide(c *gin.Context) {
	actor := actorFrom(c)
	clubID := c.Param("clubId")

	var req dto.CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("Invalid request payload"))
		return
	}

	created, err := h.Lifecycle.CreateRide(c.Request.Context(), lifecycle.CreateRideInput{
		Title:                    req.Title,
		Description:              req.Description,
		RideType:                 req.RideType,
		Difficulty:               req.Difficulty,
		StartDateTime:            req.StartDateTime,
		EstimatedDurationMinutes: req.EstimatedDuration,
		MeetingPoint: ride.MeetingPoint{
			Name:         req.MeetingPoint.Name,
			Address:      req.MeetingPoint.Address,
			Instructions: req.MeetingPoint.Instructions,
		},
		Route:              req.Route,
		MaxParticipants:    req.MaxParticipants,
		PublishImmediately: req.PublishImmediately,
	}, actor.UserID, clubID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.Logger.Info("Ride proposal accepted",
		logger.String("ride_id", created.ID.String()),
		logger.String("club_id", clubID),
	)
	c.JSON(http.StatusCreated, created)
}

// GetRide handles GET /v1/rides/:id
func (h *Handlers) GetRide(c *gin.Context) {
	rideID, err := rideIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	r, err := h.Lifecycle.GetRide(c.Request.Context(), rideID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// PublishRide handles POST /v1/rides/:id/publish
func (h *Handlers) PublishRide(c *gin.Context) {
	actor := actorFrom(c)
	rideID, err := rideIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	r, err := h.Lifecycle.PublishRide(c.Request.Context(), rideID, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *Handlers) CancelRide(c *gin.Context) {
	actor := actorFrom(c)
	rideID, err := rideIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req dto.CancelRideRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.Validation("Invalid request payload"))
			return
		}
	}

	r, err := h.Lifecycle.CancelRide(c.Request.Context(), rideID, actor.UserID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

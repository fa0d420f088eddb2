package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/club-rides/internal/api/dto"
	domain "github.com/gocomet/club-rides/internal/domain/participation"
	"github.com/gocomet/club-rides/internal/domain/ride"
	"github.com/gocomet/club-rides/internal/service/participation"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
)

// JoinRide handles POST /v1/rides/:id/join
func (h *Handlers) JoinRide(c *gin.Context) {
	actor := actorFrom(c)
	rideID, err := rideIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	p, err := h.Participation.JoinRide(c.Request.Context(), rideID, actor.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := "active"
	if p.Role == domain.RoleWaitlisted {
		status = "waitlisted"
	}
	c.JSON(http.StatusOK, dto.JoinResponse{
		RideID:   p.RideID,
		UserID:   p.UserID,
		Status:   status,
		JoinedAt: p.JoinedAt,
	})
}

// LeaveRide handles POST /v1/rides/:id/leave
func (h *Handlers) LeaveRide(c *gin.Context) {
	actor := actorFrom(c)
	rideID, err := rideIDParam(c)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.Participation.LeaveRide(c.Request.Context(), rideID, actor.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left the ride"})
}

// GetMyRides handles GET /v1/users/me/rides
func (h *Handlers) GetMyRides(c *gin.Context) {
	actor := actorFrom(c)

	// limit 0 means "absent"; an explicit limit=0 is out of range
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperrors.Validation("limit must be an integer", "limit"))
			return
		}
		if n == 0 {
			respondError(c, apperrors.Validation("limit must be between 1 and 100", "limit"))
			return
		}
		limit = n
	}

	page, err := h.Participation.GetUserRides(c.Request.Context(), actor.UserID,
		participation.RideFilter{
			Status: ride.Status(c.Query("status")),
			Role:   domain.Role(c.Query("role")),
		},
		participation.Page{Limit: limit, Cursor: c.Query("cursor")},
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListResponse{
		Data: page.Rides,
		Pagination: dto.Pagination{
			Limit:      page.Limit,
			NextCursor: page.NextCursor,
		},
	})
}

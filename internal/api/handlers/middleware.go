package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gocomet/club-rides/internal/api/dto"
	apperrors "github.com/gocomet/club-rides/pkg/errors"
)

const actorContextKey = "actor"

// RequireActor reads the trusted identity headers set by the external
// token-validation layer. Requests without an identity are rejected before
// any handler runs.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			respondError(c, apperrors.Authentication("Missing or expired identity"))
			c.Abort()
			return
		}
		c.Set(actorContextKey, dto.Actor{
			UserID:   userID,
			Email:    c.GetHeader("X-User-Email"),
			RoleHint: c.GetHeader("X-User-Role"),
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) dto.Actor {
	actor, _ := c.Get(actorContextKey)
	a, _ := actor.(dto.Actor)
	return a
}

func rideIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.Validation("Invalid ride id", "rideId")
	}
	return id, nil
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	c.JSON(appErr.Status, dto.ErrorResponse{
		ErrorType: appErr.Code,
		Message:   appErr.Message,
		Fields:    appErr.Fields,
	})
}

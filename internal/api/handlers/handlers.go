package handlers

import (
	"github.com/gocomet/club-rides/internal/service/lifecycle"
	"github.com/gocomet/club-rides/internal/service/participation"
	"github.com/gocomet/club-rides/pkg/logger"
)

// Handlers holds all handler dependencies
type Handlers struct {
	Lifecycle     *lifecycle.Manager
	Participation *participation.Coordinator
	Logger        *logger.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(lc *lifecycle.Manager, pc *participation.Coordinator, log *logger.Logger) *Handlers {
	return &Handlers{
		Lifecycle:     lc,
		Participation: pc,
		Logger:        log,
	}
}

package monitoring

import (
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Config holds New Relic configuration
type Config struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

// NewRelicApp wraps the New Relic application. All methods are safe on a
// disabled or nil receiver.
type NewRelicApp struct {
	*newrelic.Application
	enabled bool
}

// New creates a new New Relic application
func New(cfg Config) (*NewRelicApp, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		// Return disabled app
		return &NewRelicApp{nil, false}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigDistributedTracerEnabled(true),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create New Relic application: %w", err)
	}

	return &NewRelicApp{app, true}, nil
}

// IsEnabled returns whether New Relic is enabled
func (nr *NewRelicApp) IsEnabled() bool {
	return nr != nil && nr.enabled
}

// RecordCustomEvent records a custom event
func (nr *NewRelicApp) RecordCustomEvent(eventType string, params map[string]interface{}) {
	if !nr.IsEnabled() || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomEvent(eventType, params)
}

// RecordCustomMetric records a custom metric
func (nr *NewRelicApp) RecordCustomMetric(name string, value float64) {
	if !nr.IsEnabled() || nr.Application == nil {
		return
	}
	nr.Application.RecordCustomMetric(name, value)
}

// Shutdown gracefully shuts down the New Relic application
func (nr *NewRelicApp) Shutdown(timeout time.Duration) {
	if !nr.IsEnabled() || nr.Application == nil {
		return
	}
	nr.Application.Shutdown(timeout)
}

// Domain event helpers

// RecordRideCreated records ride creation
func (nr *NewRelicApp) RecordRideCreated(clubID, status string) {
	nr.RecordCustomEvent("RideCreated", map[string]interface{}{
		"club_id":   clubID,
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

// RecordRidePublished records a draft moving to published
func (nr *NewRelicApp) RecordRidePublished(clubID string) {
	nr.RecordCustomEvent("RidePublished", map[string]interface{}{
		"club_id": clubID,
	})
}

// RecordRideCancelled records ride cancellation
func (nr *NewRelicApp) RecordRideCancelled(clubID, reason string) {
	nr.RecordCustomEvent("RideCancelled", map[string]interface{}{
		"club_id": clubID,
		"reason":  reason,
	})
}

// RecordParticipantJoined records a join, active or waitlisted
func (nr *NewRelicApp) RecordParticipantJoined(clubID, role string) {
	nr.RecordCustomEvent("ParticipantJoined", map[string]interface{}{
		"club_id": clubID,
		"role":    role,
	})
}

// RecordParticipantLeft records a leave
func (nr *NewRelicApp) RecordParticipantLeft(clubID string) {
	nr.RecordCustomEvent("ParticipantLeft", map[string]interface{}{
		"club_id": clubID,
	})
}

// RecordWaitlistPromoted records a waitlist promotion into a freed seat
func (nr *NewRelicApp) RecordWaitlistPromoted(clubID string) {
	nr.RecordCustomEvent("WaitlistPromoted", map[string]interface{}{
		"club_id": clubID,
	})
	nr.RecordCustomMetric("custom/ride/waitlist_promotions", 1)
}

// RecordRedisPoolStats records Redis pool statistics
func (nr *NewRelicApp) RecordRedisPoolStats(stats map[string]interface{}) {
	if hits, ok := stats["hits"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_hits", float64(hits))
	}
	if misses, ok := stats["misses"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/cache_misses", float64(misses))
	}
	if timeouts, ok := stats["timeouts"].(uint32); ok {
		nr.RecordCustomMetric("custom/redis/timeouts", float64(timeouts))
	}
}

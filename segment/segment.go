// Package segment forwards product analytics events to Segment. All calls
// degrade to no-ops when analytics is disabled or no write key is
// configured, callers never have to check first.
package segment

import (
	"log/slog"

	"github.com/segmentio/analytics-go/v3"

	"github.com/kontorhq/kontor-backend/config"
	"github.com/kontorhq/kontor-backend/models"
)

var client analytics.Client

// getClient lazily builds the shared client from the loaded configuration.
func getClient() analytics.Client {
	if client != nil {
		return client
	}

	cfg := config.BackendConfig
	if cfg == nil || !cfg.Analytics.Segment.Enabled || cfg.Analytics.Segment.WriteKey == "" {
		return nil
	}

	client = analytics.New(cfg.Analytics.Segment.WriteKey)
	return client
}

// CloseClient flushes buffered events on shutdown.
func CloseClient() {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		slog.Warn("failed to close segment client", "error", err)
	}
}

// IdentifyClient associates a user with their company traits.
func IdentifyClient(userId string, username string, email string, companyName string, companyId string) {
	c := getClient()
	if c == nil {
		return
	}

	slog.Debug("identifying segment user", "userId", userId)
	c.Enqueue(analytics.Identify{
		UserId: userId,
		Traits: analytics.NewTraits().
			SetUsername(username).
			SetEmail(email).
			Set("companyName", companyName).
			Set("companyId", companyId),
	})
}

// Track records an action performed by a user of a company. extraProps may
// be nil.
func Track(company models.Company, userId string, action string, extraProps map[string]string) {
	c := getClient()
	if c == nil {
		return
	}

	if userId == "" {
		userId = "UNKNOWN"
	}

	props := analytics.NewProperties().
		Set("company_id", company.ExternalId).
		Set("company_name", company.Name)
	for k, v := range extraProps {
		props.Set(k, v)
	}

	slog.Debug("tracking segment event", "userId", userId, "action", action)
	c.Enqueue(analytics.Track{
		Event:      action,
		UserId:     userId,
		Properties: props,
	})
}

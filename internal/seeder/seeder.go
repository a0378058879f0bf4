package seeder

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/vnmchuo/content-bot/internal/auth"
	"github.com/vnmchuo/content-bot/internal/tenant"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

// SeedTestAPIKey creates a development API key bound to a fixed tenant.
// Intended for local runs only, behind the RUN_SEED flag.
func SeedTestAPIKey(ctx context.Context, store auth.Store) {
	apiKey := &auth.APIKey{
		TenantID:  TestTenantID,
		KeyHash:   auth.HashKey(TestAPIKey),
		RateLimit: 1000000,
		Admin:     true,
		Active:    true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		log.Info().Err(err).Msg("seeder: api key may already exist, skipping")
		return
	}
	log.Info().Str("key", TestAPIKey).Str("tenant_id", TestTenantID).Msg("seeder: test api key created")
}

// SeedTestChannel registers a sample publishing channel for the test
// tenant so image and post flows have somewhere to point at.
func SeedTestChannel(ctx context.Context, store tenant.Store) {
	c := &tenant.Channel{
		TenantID:       TestTenantID,
		TelegramChatID: -1001234567890,
		Title:          "dev-channel",
	}
	if err := store.AddChannel(ctx, c); err != nil {
		log.Info().Err(err).Msg("seeder: channel may already exist, skipping")
		return
	}
	log.Info().Str("channel_id", c.ID).Msg("seeder: test channel created")
}

// Package settings serves the mutable platform settings row as an explicit
// value object, with a short-lived Redis cache in front of the database.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"linescout/internal/cache"
	"linescout/internal/config"
	"linescout/internal/repo"
)

const (
	cacheKey = "linescout:settings"
	cacheTTL = 60 * time.Second
)

// Service loads and updates platform settings.
type Service struct {
	repo     repo.Repository
	cache    *cache.Redis
	fallback config.Settings
	logger   *slog.Logger
}

// NewService builds the settings service. cache may be nil; reads then always
// hit the database.
func NewService(r repo.Repository, c *cache.Redis, fallback config.Settings, logger *slog.Logger) *Service {
	return &Service{
		repo:     r,
		cache:    c,
		fallback: fallback,
		logger:   logger.With("component", "settings"),
	}
}

// Get returns the current settings. A missing settings row falls back to the
// environment defaults rather than failing callers mid-payment.
func (s *Service) Get(ctx context.Context) (config.Settings, error) {
	if s.cache != nil {
		var cached config.Settings
		hit, err := s.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			s.logger.Warn("settings cache read failed", "error", err)
		} else if hit {
			return cached, nil
		}
	}

	row, err := s.repo.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return s.fallback, nil
		}
		return config.Settings{}, err
	}

	out := config.Settings{
		AgentPercent:      row.AgentPercent,
		ServiceFeePercent: row.ServiceFeePercent,
		Currency:          row.Currency,
	}
	if out.AgentPercent <= 0 {
		out.AgentPercent = s.fallback.AgentPercent
	}
	if out.Currency == "" {
		out.Currency = s.fallback.Currency
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, out, cacheTTL); err != nil {
			s.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return out, nil
}

// Update replaces the settings row and drops the cache entry.
func (s *Service) Update(ctx context.Context, in config.Settings) error {
	err := s.repo.UpdateSettings(ctx, repo.Settings{
		AgentPercent:      in.AgentPercent,
		ServiceFeePercent: in.ServiceFeePercent,
		Currency:          in.Currency,
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			s.logger.Warn("settings cache invalidation failed", "error", err)
		}
	}
	s.logger.Info("settings updated", "agent_percent", in.AgentPercent, "currency", in.Currency)
	return nil
}

package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/devicelock/internal/localstore"
	"github.com/BradenHooton/devicelock/internal/models"
)

// Settings returns the cached security settings, or the defaults when none
// have been saved
func (s *Service) Settings(ctx context.Context) (models.SecuritySettings, error) {
	blob, ok, err := s.kv.Get(ctx, localstore.KeySecuritySettings)
	if err != nil {
		return models.SecuritySettings{}, fmt.Errorf("failed to read security settings: %w", err)
	}
	if !ok {
		return models.DefaultSecuritySettings(), nil
	}

	var settings models.SecuritySettings
	if err := json.Unmarshal([]byte(blob), &settings); err != nil {
		s.logger.WarnContext(ctx, "stored security settings are unreadable, using defaults", slog.Any("error", err))
		return models.DefaultSecuritySettings(), nil
	}
	return settings, nil
}

// UpdateSettings validates and stores settings locally and remotely
func (s *Service) UpdateSettings(ctx context.Context, settings models.SecuritySettings) (models.SecuritySettings, error) {
	if err := settings.Validate(); err != nil {
		return models.SecuritySettings{}, err
	}
	settings.LastChecked = s.now().UTC()

	blob, err := encodeSettings(settings)
	if err != nil {
		return models.SecuritySettings{}, err
	}
	if err := s.kv.Set(ctx, localstore.KeySecuritySettings, blob); err != nil {
		return models.SecuritySettings{}, fmt.Errorf("failed to store security settings: %w", err)
	}

	if user, err := s.identity.CurrentUser(ctx); err == nil {
		s.mirror.PushSettings(ctx, user.ID, settings)
	}
	return settings, nil
}

// IncrementSuspicious adds one to the suspicious activity counter
func (s *Service) IncrementSuspicious(ctx context.Context) (int, error) {
	n, err := s.kv.Increment(ctx, localstore.KeySuspiciousCount, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to increment suspicious activity count: %w", err)
	}
	return n, nil
}

// SuspiciousCount returns the suspicious activity counter
func (s *Service) SuspiciousCount(ctx context.Context) (int, error) {
	n, err := localstore.GetInt(ctx, s.kv, localstore.KeySuspiciousCount)
	if err != nil {
		return 0, fmt.Errorf("failed to read suspicious activity count: %w", err)
	}
	return n, nil
}

// ResetSuspicious zeroes the suspicious activity counter
func (s *Service) ResetSuspicious(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := localstore.GetInt(ctx, s.kv, localstore.KeySuspiciousCount)
	if err != nil {
		return fmt.Errorf("failed to read suspicious activity count: %w", err)
	}
	if err := s.kv.Set(ctx, localstore.KeySuspiciousCount, "0"); err != nil {
		return fmt.Errorf("failed to reset suspicious activity count: %w", err)
	}

	s.events.Record(ctx, models.EventSystemAlert, models.SeverityLow,
		"Suspicious activity counter reset", models.EventDetails{"previous_count": previous})
	return nil
}

// CheckBlockThreshold blocks with suspicious_activity when the counter has
// reached the configured threshold and auto-block is on. It reports whether
// a block happened; an already locked device is left alone.
func (s *Service) CheckBlockThreshold(ctx context.Context) (bool, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return false, err
	}
	if !settings.AutoBlockEnabled {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blocked, err := localstore.GetBool(ctx, s.kv, localstore.KeyDeviceBlocked)
	if err != nil {
		return false, fmt.Errorf("failed to read lock state: %w", err)
	}
	if blocked {
		return false, nil
	}

	count, err := localstore.GetInt(ctx, s.kv, localstore.KeySuspiciousCount)
	if err != nil {
		return false, fmt.Errorf("failed to read suspicious activity count: %w", err)
	}
	if count < settings.SuspiciousAttemptsThreshold {
		return false, nil
	}

	err = s.blockLocked(ctx, models.BlockReasonSuspiciousActivity, models.EventDetails{
		"suspicious_count": count,
		"threshold":        settings.SuspiciousAttemptsThreshold,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) notificationsEnabled(ctx context.Context) bool {
	settings, err := s.Settings(ctx)
	if err != nil {
		return false
	}
	return settings.NotificationsEnabled
}

func encodeSettings(settings models.SecuritySettings) (string, error) {
	blob, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to encode security settings: %w", err)
	}
	return string(blob), nil
}

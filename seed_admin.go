package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"field-service-server/config"
	"field-service-server/services"
)

// seedAdmin creates the bootstrap admin account from ADMIN_USERNAME and
// ADMIN_PASSWORD. Nothing happens when either is unset.
func seedAdmin(ctx context.Context, users *services.UserService, cfg config.AuthConfig, log *zap.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		log.Debug("admin seeding skipped; ADMIN_USERNAME or ADMIN_PASSWORD not set")
		return nil
	}

	created, err := users.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword, cfg.AdminEmail)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Info("admin user created", zap.String("username", cfg.AdminUsername))
	} else {
		log.Info("admin user already exists", zap.String("username", cfg.AdminUsername))
	}
	return nil
}

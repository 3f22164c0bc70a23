package main

import (
	"context"
	"fmt"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/authnest/internal/auth"
	"github.com/yourusername/authnest/internal/config"
)

// setupAuth は認証マネージャーを組み立てます。返却する cleanup は Redis 接続を閉じます。
func setupAuth(cfg *config.Config, users auth.UserStore, logger *log.Logger) (*auth.Manager, func(), error) {
	manager, err := auth.NewManager(cfg, users, auth.NewBcryptHasher(cfg.BcryptCost), logger)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	provider := auth.NewGoogleProvider(cfg)
	if provider == nil {
		logger.Printf("Google login disabled (GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET not set)")
		return manager, cleanup, nil
	}

	var states auth.StateStore
	if cfg.RedisURL != "" {
		redisClient, err := setupRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		states = auth.NewRedisStateStore(redisClient, cfg.OAuthStateTTL)
		cleanup = func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("failed to close redis: %v", err)
			}
		}
	}
	manager.EnableGoogle(provider, states)
	return manager, cleanup, nil
}

func setupRedis(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

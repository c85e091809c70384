package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cipherchat/config"
	"cipherchat/internal/devserver"
	"cipherchat/internal/domain"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.New(cfg.Environment)
	logger.SetGlobalLogger(zl)

	var presence devserver.Presence
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			zl.Warnf("redis unreachable (%v), falling back to in-memory presence", err)
			presence = devserver.NewMemoryPresence()
		} else {
			presence = devserver.NewRedisPresence(rdb, 5*time.Minute)
		}
		cancel()
	} else {
		presence = devserver.NewMemoryPresence()
	}

	store := devserver.NewStore()
	seed(store, zl)

	auth := devserver.NewAuth(cfg.Server.JWTSecret, time.Duration(cfg.Server.JWTExpiryHours)*time.Hour)
	server := devserver.New(auth, store, presence, zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl.Infof("dev server listening on :%s", cfg.Server.Port)
	if err := server.Run(ctx, ":"+cfg.Server.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// seed provisions two demo accounts and a chat between them so a
// fresh checkout can exchange encrypted messages immediately.
func seed(store *devserver.Store, zl *logger.Logger) {
	aliceHash, err := devserver.HashPassword("alice-dev")
	if err != nil {
		zl.Errorf("seed: %v", err)
		return
	}
	bobHash, err := devserver.HashPassword("bob-dev")
	if err != nil {
		zl.Errorf("seed: %v", err)
		return
	}

	alice := domain.Identity{UserID: uuid.New().String(), DisplayName: "alice"}
	bob := domain.Identity{UserID: uuid.New().String(), DisplayName: "bob"}
	_ = store.AddUser(&devserver.User{Identity: alice, PasswordHash: aliceHash})
	_ = store.AddUser(&devserver.User{Identity: bob, PasswordHash: bobHash})

	store.AddChat(domain.Chat{
		ID:                 uuid.New().String(),
		IsGroup:            false,
		Members:            []domain.Identity{alice, bob},
		AllowMembersToSend: true,
		CreatorID:          alice.UserID,
	})
	zl.Infof("seeded demo users alice/bob")
}

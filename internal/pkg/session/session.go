package session

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/CreatorGate/internal/pkg/cache"
	"github.com/ManuelReschke/CreatorGate/internal/pkg/env"
)

var sessionStore *session.Store

// NewSessionStore opens the session store shared with the sign-in service.
// Sessions are only read here; the sign-in service writes them.
func NewSessionStore() *session.Store {
	// Get Redis client configuration from existing cache setup
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// Sessions live in database 1, the cache uses DB 0
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	return SetSessionStore(session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   env.IsProd(),
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:" + env.GetEnv("SESSION_COOKIE", "session_id"),
	}))
}

// SetSessionStore installs a store, used by tests with in-memory storage.
func SetSessionStore(store *session.Store) *session.Store {
	sessionStore = store
	return sessionStore
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// GetUserID reads the signed-in user id written by the sign-in service.
// Returns 0 for anonymous sessions.
func GetUserID(c *fiber.Ctx, key string) uint {
	if sessionStore == nil {
		return 0
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return 0
	}

	switch v := sess.Get(key).(type) {
	case uint:
		return v
	case int:
		if v > 0 {
			return uint(v)
		}
	case int64:
		if v > 0 {
			return uint(v)
		}
	case uint64:
		return uint(v)
	case string:
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(id)
		}
	}
	return 0
}

package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"construction_chat/pkg/logger"
)

type Repositories struct {
	Conversation ConversationRepository
	Message      MessageRepository
	Audit        AuditRepository
	RateLimit    RateLimitRepository
}

// NewRepositories wires the Postgres stores. redis may be nil when rate
// limiting is disabled.
func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Conversation: NewConversationRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Audit:        NewAuditRepository(db, log),
		RateLimit:    NewRateLimitRepository(redis, log),
	}

	log.Info("Postgres repositories initialized")

	return repos
}

// NewMemoryRepositories wires the in-process stores used for local runs and tests.
func NewMemoryRepositories(redis *redis.Client, log logger.Logger) *Repositories {
	store := NewMemoryStore()
	repos := &Repositories{
		Conversation: store.Conversations(),
		Message:      store.Messages(),
		Audit:        store.Audit(),
		RateLimit:    NewRateLimitRepository(redis, log),
	}

	log.Warn("Using in-memory repositories, data is not persisted")

	return repos
}

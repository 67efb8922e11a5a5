package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"construction_chat/internal/repository"
	apperrors "construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error)
	Increment(ctx context.Context, key string, windowSeconds int) (int64, error)
	// AllowSend counts one message send for userID and fails with ErrRateLimited over the limit.
	AllowSend(ctx context.Context, userID uuid.UUID) error
	Enabled() bool
}

type rateLimitService struct {
	rateLimitRepo  repository.RateLimitRepository
	enabled        bool
	sendsPerMinute int
	log            logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, enabled bool, sendsPerMinute int, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo:  rateLimitRepo,
		enabled:        enabled && sendsPerMinute > 0,
		sendsPerMinute: sendsPerMinute,
		log:            log,
	}
}

func (s *rateLimitService) Enabled() bool { return s.enabled }

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, windowSeconds int) (bool, error) {
	if !s.enabled {
		return true, nil
	}
	return s.rateLimitRepo.CheckLimit(ctx, key, limit)
}

func (s *rateLimitService) Increment(ctx context.Context, key string, windowSeconds int) (int64, error) {
	if !s.enabled {
		return 0, nil
	}
	return s.rateLimitRepo.Increment(ctx, key, time.Duration(windowSeconds)*time.Second)
}

func (s *rateLimitService) AllowSend(ctx context.Context, userID uuid.UUID) error {
	if !s.enabled {
		return nil
	}

	allowed, err := s.rateLimitRepo.Allow(ctx, "ratelimit:send:"+userID.String(), s.sendsPerMinute, time.Minute)
	if err != nil {
		// Sends stay available when Redis is unreachable.
		s.log.Error("Send rate limit unavailable", "user_id", userID, "error", err)
		return nil
	}
	if !allowed {
		return fmt.Errorf("%w: at most %d messages per minute", apperrors.ErrRateLimited, s.sendsPerMinute)
	}
	return nil
}

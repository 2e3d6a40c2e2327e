//go:build integration

package counter

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"imgconvert/internal/admission/models"
	"imgconvert/pkg/testutil/containers"
)

// Runs the admission script against a real Redis to catch differences from
// miniredis in number formatting and reply conversion.
type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = New(s.redis.Client)
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreIntegrationSuite) input(client string, at time.Time, units, bytes int64) models.CheckInput {
	return models.CheckInput{
		Keys: models.KeysFor(client, at),
		Now:  at,
		Cost: models.Cost{Units: units, Bytes: bytes},
		Limits: models.Limits{
			Capacity:        5,
			RefillPerMs:     0.005,
			DailyBytesLimit: 1000,
			TTLSeconds:      90000,
		},
	}
}

func (s *RedisStoreIntegrationSuite) TestFractionalTokensSurviveReply() {
	ctx := context.Background()
	now := time.Now().UTC()
	for range 5 {
		_, err := s.store.Check(ctx, s.input("frac", now, 1, 1))
		s.Require().NoError(err)
	}

	result, err := s.store.Check(ctx, s.input("frac", now.Add(50*time.Millisecond), 1, 1))
	s.Require().NoError(err)
	s.Equal(models.StatusRateLimitExceeded, result.Status)
	s.InDelta(0.25, result.Tokens, 1e-9)
}

func (s *RedisStoreIntegrationSuite) TestQuotaRejectionChargesTokens() {
	ctx := context.Background()
	now := time.Now().UTC()
	keys := models.KeysFor("charge", now)

	_, err := s.store.Check(ctx, s.input("charge", now, 1, 900))
	s.Require().NoError(err)
	result, err := s.store.Check(ctx, s.input("charge", now, 1, 200))
	s.Require().NoError(err)
	s.Equal(models.StatusDailyLimitExceeded, result.Status)
	s.Equal(int64(1100), result.Quota)

	raw, err := s.redis.Client.HGet(ctx, keys.Tokens, "tokens").Result()
	s.Require().NoError(err)
	tokens, err := strconv.ParseFloat(raw, 64)
	s.Require().NoError(err)
	s.InDelta(3.0, tokens, 1e-9)

	ttl, err := s.redis.Client.TTL(ctx, keys.Quota).Result()
	s.Require().NoError(err)
	s.InDelta(float64(90000), ttl.Seconds(), 2)
}

func (s *RedisStoreIntegrationSuite) TestConcurrentChecksNeverOverGrant() {
	ctx := context.Background()
	now := time.Now().UTC()
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			result, err := s.store.Check(ctx, s.input("burst", now, 1, 1))
			if err == nil && result.Allowed() {
				allowed.Add(1)
			}
		})
	}
	wg.Wait()
	s.Equal(int64(5), allowed.Load())
}

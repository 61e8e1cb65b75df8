//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	redisclient "keeper/internal/platform/redis"
	"keeper/internal/ratelimit"
	"keeper/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *redisclient.Client
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.client = s.redis.Connect(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Reset(context.Background()))
}

func (s *RedisStoreSuite) TestHealth() {
	s.NoError(s.client.Health(context.Background()))
}

func (s *RedisStoreSuite) TestConcurrentCallersNeverExceedTheLimit() {
	store := ratelimit.NewRedisStore(s.client.Client)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Allow(context.Background(), "caller:alice", 10, time.Minute)
			s.NoError(err)
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(10, allowed.Load())
}

package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
}

// redisStore implements Store on top of a Redis client. Every call goes
// through a circuit breaker: after a run of consecutive failures the
// breaker opens and calls fail fast with ErrUnavailable until a half-open
// probe succeeds, at which point full function is restored automatically.
type redisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  logrus.FieldLogger
}

func NewRedisStore(config RedisConfig, logger logrus.FieldLogger) (Store, error) {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLS {
		options.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithFields(logrus.Fields{
			"host":  config.Host,
			"port":  config.Port,
			"error": err.Error(),
		}).Error("failed to connect to redis")
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": config.Host,
		"port": config.Port,
	}).Info("redis connected successfully")

	return newRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests with
// redismock.
func NewRedisStoreWithClient(client *redis.Client, logger logrus.FieldLogger) Store {
	return newRedisStoreWithClient(client, logger)
}

func newRedisStoreWithClient(client *redis.Client, logger logrus.FieldLogger) *redisStore {
	s := &redisStore{
		client: client,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-store",
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: s.onStateChange,
	})
	return s
}

func (s *redisStore) onStateChange(name string, from, to gobreaker.State) {
	entry := s.logger.WithFields(logrus.Fields{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	})
	switch to {
	case gobreaker.StateOpen:
		entry.Error("store degraded, operating fail-open until backend recovers")
	case gobreaker.StateClosed:
		entry.Info("store connection restored")
	default:
		entry.Debug("store breaker state changed")
	}
}

func (s *redisStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return res, nil
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Incr(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected incr result type %T", res)
	}
	return count, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Expire(ctx, key, ttl).Result()
	})
	if err != nil {
		return false, err
	}
	set, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected expire result type %T", res)
	}
	return set, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	res, err := s.execute(func() (interface{}, error) {
		value, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Absence is not a backend failure; keep it out of the
			// breaker's failure counts.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", ErrNotFound
	}
	value, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected get result type %T", res)
	}
	return value, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Del(ctx, keys...).Result()
	})
	if err != nil {
		return 0, err
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected del result type %T", res)
	}
	return count, nil
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Exists(ctx, key).Result()
	})
	if err != nil {
		return false, err
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected exists result type %T", res)
	}
	return count > 0, nil
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	res, err := s.execute(func() (interface{}, error) {
		var keys []string
		var cursor uint64
		for {
			batch, nextCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return nil, fmt.Errorf("error scanning keys: %w", err)
			}
			keys = append(keys, batch...)
			cursor = nextCursor
			if cursor == 0 {
				break
			}
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	keys, ok := res.([]string)
	if !ok {
		return nil, fmt.Errorf("unexpected keys result type %T", res)
	}
	return keys, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

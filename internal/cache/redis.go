// Package cache publishes dashboard states to Redis for other local
// consumers.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"github.com/go-redis/redis/v8"
)

const (
	DefaultRecent  = 600
	latestTTL      = time.Minute
	publishTimeout = 500 * time.Millisecond
	dialTimeout    = 2 * time.Second
)

// Publisher keeps the latest state, a capped list of recent states and a
// pub/sub channel under one key prefix.
type Publisher struct {
	client *redis.Client
	prefix string
	recent int64
}

// NewPublisher connects to addr and verifies the connection.
func NewPublisher(ctx context.Context, addr, prefix string, recent int) (*Publisher, error) {
	if recent < 1 {
		recent = DefaultRecent
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
		MaxRetries:  1,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}

	return &Publisher{client: client, prefix: prefix, recent: int64(recent)}, nil
}

func (p *Publisher) LatestKey() string  { return LatestKey(p.prefix) }
func (p *Publisher) RecentKey() string  { return RecentKey(p.prefix) }
func (p *Publisher) ChannelKey() string { return ChannelKey(p.prefix) }

func LatestKey(prefix string) string  { return prefix + ":latest" }
func RecentKey(prefix string) string  { return prefix + ":recent" }
func ChannelKey(prefix string) string { return prefix + ":states" }

// Publish writes st in a single pipeline.
func (p *Publisher) Publish(ctx context.Context, st dashboard.State) error {
	errFactory := errors.New()

	data, err := json.Marshal(st)
	if err != nil {
		return errFactory.Wrap(errors.ErrEncode, err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.LatestKey(), data, latestTTL)
		pipe.LPush(ctx, p.RecentKey(), data)
		pipe.LTrim(ctx, p.RecentKey(), 0, p.recent-1)
		pipe.Publish(ctx, p.ChannelKey(), data)
		return nil
	})
	if err != nil {
		return errFactory.Wrap(errors.ErrPublish, err)
	}

	return nil
}

// Recent returns up to n states, newest first. Entries that no longer
// decode are skipped.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]dashboard.State, error) {
	raw, err := p.client.LRange(ctx, p.RecentKey(), 0, n-1).Result()
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrUnavailable, err)
	}

	states := make([]dashboard.State, 0, len(raw))
	for _, item := range raw {
		var st dashboard.State
		if err := json.Unmarshal([]byte(item), &st); err != nil {
			continue
		}
		states = append(states, st)
	}

	return states, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Sink publishes each state with a short deadline so a slow Redis never
// stalls sampling. Failures are logged at debug.
func Sink(ctx context.Context, p *Publisher, log logger.Logger) dashboard.Sink {
	return func(st dashboard.State) {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := p.Publish(pubCtx, st); err != nil {
			log.Debug().Err(err).Msg("Failed to publish state to Redis")
		}
	}
}

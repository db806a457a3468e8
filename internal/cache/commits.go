// Package cache keeps commit log entries in redis. Commits never change once
// written, so entries are only dropped by their TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"draftline/internal/domain"
	"draftline/internal/draftupgrade"
)

const (
	DefaultTTL   = 60 * time.Minute
	commitPrefix = "commit:"
)

// Commits is a read-through draftupgrade.CommitStore. Redis failures are
// logged and served from the wrapped store.
type Commits struct {
	client redis.Cmdable
	next   draftupgrade.CommitStore
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCommits wraps next. A ttl <= 0 uses DefaultTTL.
func NewCommits(client redis.Cmdable, next draftupgrade.CommitStore, ttl time.Duration, log zerolog.Logger) *Commits {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Commits{client: client, next: next, ttl: ttl, log: log}
}

// Connect parses a redis URL and checks the connection.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Key returns the redis key of one commit.
func Key(explorationID string, version int) string {
	return fmt.Sprintf("%s%s:%d", commitPrefix, explorationID, version)
}

func (c *Commits) GetCommits(ctx context.Context, explorationID string, versions []int) ([]domain.CommitLogEntry, error) {
	if len(versions) == 0 {
		return c.next.GetCommits(ctx, explorationID, versions)
	}
	keys := make([]string, len(versions))
	for i, v := range versions {
		keys[i] = Key(explorationID, v)
	}
	res := make([]domain.CommitLogEntry, len(versions))
	var missing []int
	var missingAt []int

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("exploration_id", explorationID).Msg("commit cache read failed")
		values = make([]any, len(versions))
	}
	for i, v := range values {
		s, ok := v.(string)
		if ok && json.Unmarshal([]byte(s), &res[i]) == nil {
			continue
		}
		missing = append(missing, versions[i])
		missingAt = append(missingAt, i)
	}
	if len(missing) == 0 {
		return res, nil
	}

	loaded, err := c.next.GetCommits(ctx, explorationID, missing)
	if err != nil {
		return nil, err
	}
	if len(loaded) != len(missing) {
		return nil, fmt.Errorf("commit store returned %d commits for %d versions", len(loaded), len(missing))
	}
	_, err = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, entry := range loaded {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			p.Set(ctx, keys[missingAt[i]], data, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("exploration_id", explorationID).Msg("commit cache write failed")
	}
	for i, entry := range loaded {
		res[missingAt[i]] = entry
	}
	return res, nil
}

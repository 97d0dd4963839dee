package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepscout/internal/agent/core"
)

// ErrNotFound is returned when an operation targets a conversation that has
// no stored turns.
var ErrNotFound = errors.New("conversation not found")

const conversationKeyPrefix = "conversation:"

// Conversations stores per-user research conversations in Redis so that a
// clarification question asked in one request can be answered in the next.
type Conversations struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewConversations(rdb *redis.Client, ttl time.Duration) *Conversations {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Conversations{rdb: rdb, ttl: ttl}
}

// Conn dials Redis and verifies the connection with a ping.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Conversations) key(userID, sessionID string) string {
	return conversationKeyPrefix + userID + ":" + sessionID
}

// Append adds turns to the end of a conversation and refreshes its TTL.
func (c *Conversations) Append(ctx context.Context, userID, sessionID string, turns ...core.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := c.key(userID, sessionID)
	vals := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// History returns the full conversation in insertion order.
// Missing conversations yield an empty history, not an error.
func (c *Conversations) History(ctx context.Context, userID, sessionID string) ([]core.Turn, error) {
	raw, err := c.rdb.LRange(ctx, c.key(userID, sessionID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	turns := make([]core.Turn, 0, len(raw))
	for _, item := range raw {
		var t core.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear removes a conversation. Clearing a conversation that has no stored
// turns returns ErrNotFound.
func (c *Conversations) Clear(ctx context.Context, userID, sessionID string) error {
	n, err := c.rdb.Del(ctx, c.key(userID, sessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Package results keeps the live analysis result sets of open documents in
// Redis and announces replacements on a per-document channel.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"lexanchor/internal/anchor"
)

// ResultSet is the current output of one analysis for one document.
type ResultSet struct {
	DocumentID string           `json:"documentId"`
	Kind       anchor.Kind      `json:"kind"`
	Requests   []anchor.Request `json:"requests"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Update announces that a result set was replaced.
type Update struct {
	DocumentID string      `json:"documentId"`
	Kind       anchor.Kind `json:"kind"`
}

// RedisStore implements result set storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed result store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "lexanchor:results:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(documentID string, kind anchor.Kind) string {
	return s.prefix + documentID + ":" + string(kind)
}

func (s *RedisStore) channel(documentID string) string {
	return s.prefix + "updates:" + documentID
}

// Replace stores requests as the document's result set for kind, dropping
// the previous set wholesale, and publishes an Update. Requests without an
// id get a positional one like "fact-3".
func (s *RedisStore) Replace(ctx context.Context, documentID string, kind anchor.Kind, requests []anchor.Request) (ResultSet, error) {
	set := ResultSet{
		DocumentID: documentID,
		Kind:       kind,
		Requests:   make([]anchor.Request, len(requests)),
		UpdatedAt:  time.Now().UTC(),
	}
	for i, request := range requests {
		if request.ID == "" {
			request.ID = fmt.Sprintf("%s-%d", kind, i)
		}
		request.Kind = kind
		set.Requests[i] = request
	}

	data, err := json.Marshal(set)
	if err != nil {
		return ResultSet{}, fmt.Errorf("marshal result set: %w", err)
	}
	if err := s.client.Set(ctx, s.key(documentID, kind), data, s.ttl).Err(); err != nil {
		return ResultSet{}, fmt.Errorf("save result set: %w", err)
	}

	update, _ := json.Marshal(Update{DocumentID: documentID, Kind: kind})
	if err := s.client.Publish(ctx, s.channel(documentID), update).Err(); err != nil {
		return set, fmt.Errorf("publish result update: %w", err)
	}
	return set, nil
}

// Load returns the stored result set, or an empty one when none exists.
func (s *RedisStore) Load(ctx context.Context, documentID string, kind anchor.Kind) (ResultSet, error) {
	data, err := s.client.Get(ctx, s.key(documentID, kind)).Bytes()
	if err == redis.Nil {
		return ResultSet{DocumentID: documentID, Kind: kind}, nil
	}
	if err != nil {
		return ResultSet{}, fmt.Errorf("load result set: %w", err)
	}

	var set ResultSet
	if err := json.Unmarshal(data, &set); err != nil {
		return ResultSet{}, fmt.Errorf("unmarshal result set: %w", err)
	}
	return set, nil
}

// LoadAll returns the non-empty result sets of every kind.
func (s *RedisStore) LoadAll(ctx context.Context, documentID string) ([]ResultSet, error) {
	var sets []ResultSet
	for _, kind := range anchor.Kinds {
		set, err := s.Load(ctx, documentID, kind)
		if err != nil {
			return nil, err
		}
		if len(set.Requests) > 0 {
			sets = append(sets, set)
		}
	}
	return sets, nil
}

// Subscribe delivers the document's result updates until ctx ends or the
// returned cancel func is called.
func (s *RedisStore) Subscribe(ctx context.Context, documentID string) (<-chan Update, func() error, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(documentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe result updates: %w", err)
	}

	updates := make(chan Update, 8)
	go func() {
		defer close(updates)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					log.Printf("results: bad update on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return updates, pubsub.Close, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

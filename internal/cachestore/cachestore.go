// Package cachestore wraps the Redis client with the JSON get/set-with-TTL
// surface the orchestrator needs. Reads distinguish a missing key from a
// store failure so callers can tell a cold cache apart from a dead store.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Namespace prefixes every key written by this service.
const Namespace = "hornet:"

// ErrNotFound reports that a key is absent (as opposed to the store failing).
var ErrNotFound = errors.New("cachestore: key not found")

// Options configures the store connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a thin wrapper around a Redis client. The connection is process-wide
// shared state; only the orchestrator writes through it.
type Store struct {
	client    *redis.Client
	connected atomic.Bool
}

// New creates a Store. Connect must be called before any other method.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	return &Store{client: client}
}

// NewFromClient wraps an existing client. Used by tests to point the store at
// an in-process Redis.
func NewFromClient(client *redis.Client) *Store {
	s := &Store{client: client}
	s.connected.Store(true)
	return s
}

// Connect verifies the store is reachable. The HTTP server must not bind
// before this succeeds.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.connected.Store(true)
	logrus.Info("Redis client connected")
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close() error {
	s.connected.Store(false)
	err := s.client.Close()
	if err == nil {
		logrus.Info("Redis client disconnected")
	}
	return err
}

// Connected reports the last observed connection state.
func (s *Store) Connected() bool {
	return s.connected.Load()
}

// Get reads and JSON-decodes a key into dest. It returns ErrNotFound on a
// miss and the underlying error on a store failure; callers on data-read
// paths may degrade both to "not available".
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to get key")
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	s.connected.Store(true)
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode cached value for %s: %w", key, err)
	}
	return nil
}

// Set JSON-encodes value and stores it under key with the given TTL.
// It returns false on failure; writes are never retried here.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to encode value")
		return false
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to set key")
		return false
	}
	s.connected.Store(true)
	return true
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) bool {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to delete key")
		return false
	}
	return true
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to check key")
		return false
	}
	return n == 1
}

// TTL returns the remaining lifetime of a key in seconds, or -1 on error.
func (s *Store) TTL(ctx context.Context, key string) int64 {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Error("Failed to get TTL")
		return -1
	}
	return int64(d.Seconds())
}

// Keys returns all keys matching the pattern.
func (s *Store) Keys(ctx context.Context, pattern string) []string {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		s.noteFailure(err)
		logrus.WithFields(logrus.Fields{"pattern": pattern, "error": err.Error()}).Error("Failed to list keys")
		return []string{}
	}
	return keys
}

// Stats describes the store connection and the service's key footprint.
type Stats struct {
	Connected bool   `json:"connected"`
	TotalKeys int    `json:"totalKeys"`
	Error     string `json:"error,omitempty"`
}

// GetStats pings the store and counts keys under the service namespace.
func (s *Store) GetStats(ctx context.Context) Stats {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.noteFailure(err)
		return Stats{Connected: false, Error: err.Error()}
	}
	s.connected.Store(true)
	return Stats{
		Connected: true,
		TotalKeys: len(s.Keys(ctx, Namespace+"*")),
	}
}

// noteFailure flips the connected flag on network-level errors. A lost
// connection must not crash the process; reads and writes simply fail.
func (s *Store) noteFailure(err error) {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.connected.Store(false)
}

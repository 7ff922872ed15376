// Package cache keeps the live session registry and last-known device
// state in Redis so other services can see which node holds a tracker's
// connection and where the tracker last reported from.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"tracklink/decoder/internal/protocol"
)

const (
	sessionKeyPrefix = "trk:sess:"
	shadowKeyPrefix  = "trk:shadow:"

	sessionTTL = 300 * time.Second
	shadowTTL  = 24 * time.Hour
)

// Store wraps the Redis client. A nil Store (no REDIS_URL configured) is
// valid and turns every method into a no-op: the decoding pipeline must
// keep working when the registry is absent.
type Store struct {
	client *redis.Client
	nodeID string
}

// New parses the Redis URL and returns a Store, or nil when url is empty.
func New(url, nodeID string) (*Store, error) {
	if url == "" {
		log.Println("[redis] no url configured, session registry disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &Store{client: redis.NewClient(opt), nodeID: nodeID}, nil
}

// Ping verifies the connection; called once at startup.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// RegisterSession records which node and connection own a device.
func (s *Store) RegisterSession(ctx context.Context, deviceID, connID, clientIP string) {
	if s == nil {
		return
	}
	key := sessionKeyPrefix + deviceID
	value := fmt.Sprintf("%s:%s:%s", s.nodeID, connID, clientIP)
	if err := s.client.Set(ctx, key, value, sessionTTL).Err(); err != nil {
		log.Printf("[redis] failed to register session for %s: %v", deviceID, err)
	}
}

// TouchSession refreshes the registry TTL on device activity.
func (s *Store) TouchSession(ctx context.Context, deviceID string) {
	if s == nil || deviceID == "" {
		return
	}
	s.client.Expire(ctx, sessionKeyPrefix+deviceID, sessionTTL)
}

// RemoveSession drops the registry entry when the connection closes.
func (s *Store) RemoveSession(ctx context.Context, deviceID string) {
	if s == nil || deviceID == "" {
		return
	}
	s.client.Del(ctx, sessionKeyPrefix+deviceID)
}

// StoreShadow keeps the most recent event per device and type in a hash,
// so readers get the last location without replaying the event stream.
func (s *Store) StoreShadow(ctx context.Context, ev protocol.Event) {
	if s == nil || ev.DeviceID == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	key := shadowKeyPrefix + ev.DeviceID
	if err := s.client.HSet(ctx, key, string(ev.Type), body, "ts", ev.Timestamp.Unix()).Err(); err != nil {
		log.Printf("[redis] failed to update shadow for %s: %v", ev.DeviceID, err)
		return
	}
	s.client.Expire(ctx, key, shadowTTL)
}

// Close releases the Redis connection.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}

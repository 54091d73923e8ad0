// Package redis stores the session snapshot under a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mikoworkspace/mikoproxy/storage"
)

// DefaultKey is the key holding the snapshot when none is configured.
const DefaultKey = "mikoproxy:sessions"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	Key      string
}

// Backend is a storage.Backend over one Redis string value.
type Backend struct {
	client *redis.Client
	key    string
	addr   string
}

var _ storage.Backend = (*Backend)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.Key), nil
}

// NewWithClient wraps an existing client. An empty key selects DefaultKey.
func NewWithClient(client *redis.Client, key string) *Backend {
	if key == "" {
		key = DefaultKey
	}
	return &Backend{client: client, key: key, addr: client.Options().Addr}
}

func (b *Backend) Location() string {
	return fmt.Sprintf("redis://%s/%d#%s", b.addr, b.client.Options().DB, b.key)
}

func (b *Backend) Load(ctx context.Context) (storage.Snapshot, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return storage.NewSnapshot(), nil
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("reading %s: %w", b.key, err)
	}
	return storage.Decode(data)
}

func (b *Backend) Save(ctx context.Context, s storage.Snapshot) error {
	data, err := storage.Encode(s)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", b.key, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

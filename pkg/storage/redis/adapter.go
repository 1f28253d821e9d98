package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
)

var (
	ErrEmptyKey  = errors.New("redis storage: key is required")
	ErrNilClient = errors.New("redis storage: client is nil")
)

const scanBatchSize int64 = 256

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	// TTL expires every written key after the given duration. Zero keeps keys forever.
	TTL time.Duration
}

// Adapter stores values in Redis so device storage survives restarts and
// is shared by every client process on the same device or host.
type Adapter struct {
	client    goredis.UniversalClient
	namespace string
	ttl       time.Duration
	owned     bool
}

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	adapter := NewAdapterWithClient(client, config.Namespace, config.TTL)
	adapter.owned = true
	return adapter
}

// NewAdapterWithClient wraps an existing client. Close does not close it.
func NewAdapterWithClient(client goredis.UniversalClient, namespace string, ttl time.Duration) *Adapter {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &Adapter{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (a *Adapter) Ping(ctx context.Context) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	if a == nil || a.client == nil || !a.owned {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if a == nil || a.client == nil {
		return "", false, ErrNilClient
	}

	value, err := a.client.Get(ctx, a.namespace+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis storage: get %q: %w", key, err)
	}
	return value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}
	if key == "" {
		return ErrEmptyKey
	}

	if err := a.client.Set(ctx, a.namespace+key, value, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis storage: set %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}

	if err := a.client.Del(ctx, a.namespace+key).Err(); err != nil {
		return fmt.Errorf("redis storage: delete %q: %w", key, err)
	}
	return nil
}

func (a *Adapter) DeletePrefix(ctx context.Context, prefix string) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}

	pattern := escapeGlob(a.namespace+prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis storage: scan %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := a.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis storage: delete prefix %q: %w", prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(value string) string {
	return globReplacer.Replace(value)
}

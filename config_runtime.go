package nexus

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage"
	memorystore "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage/memory"
	"github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage/postgres"
	redisstore "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003/pkg/storage/redis"
)

type StorageBackend string

const (
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendRedis    StorageBackend = "redis"
	StorageBackendPostgres StorageBackend = "postgres"
)

const envPrefix = "NEXUS_"

type RuntimeConfig struct {
	Platform PlatformConfig `envPrefix:"PLATFORM_"`
	// Device storage is shared by every tab of a device and survives restarts.
	Device StorageConfig `envPrefix:"DEVICE_"`
	// Tab storage is private to one client instance.
	Tab   StorageConfig `envPrefix:"TAB_"`
	TabID string        `env:"TAB_ID"`
	// PersistTabID keeps one tab id per device store so restarts resume the
	// same tab namespace. Otherwise a fresh id is minted and its namespace
	// is cleared on Close.
	PersistTabID bool `env:"PERSIST_TAB_ID"`
	Fetch   FetchConfig   `envPrefix:"FETCH_"`
	Retry   RetryConfig   `envPrefix:"RETRY_"`
	Session SessionConfig `envPrefix:"SESSION_"`
}

type PlatformConfig struct {
	URL    string `env:"URL"`
	APIKey string `env:"API_KEY"`
}

type StorageConfig struct {
	Backend  StorageBackend `env:"BACKEND" envDefault:"memory"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
}

type RedisConfig struct {
	Address     string        `env:"ADDRESS"`
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	Database    int           `env:"DATABASE"`
	Namespace   string        `env:"NAMESPACE" envDefault:"nexus"`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	TTL         time.Duration `env:"TTL"`
}

type PostgresConfig struct {
	DriverName      string        `env:"DRIVER" envDefault:"pgx"`
	DSN             string        `env:"DSN"`
	Scope           string        `env:"SCOPE"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME"`
	PingTimeout     time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type FetchConfig struct {
	// MaxRetries of zero selects the default; negative disables retries.
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`
	AttemptTimeout time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"30s"`
	RetryDelay     time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `env:"RATE_LIMIT"`
	Burst     int     `env:"BURST" envDefault:"1"`
}

type RetryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"1s"`
	Backoff     bool          `env:"BACKOFF" envDefault:"true"`
}

type SessionConfig struct {
	Cooldown    time.Duration `env:"COOLDOWN" envDefault:"10s"`
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"10s"`
	// IdleTimeout signs the user out after inactivity; zero disables it.
	IdleTimeout time.Duration `env:"IDLE_TIMEOUT" envDefault:"12h"`
	// RefreshInterval paces the background expiry check; negative disables
	// it and zero selects the default.
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"30s"`
	RefreshMargin   time.Duration `env:"REFRESH_MARGIN" envDefault:"90s"`
}

// LoadRuntimeConfig reads NEXUS_* variables, loading a .env file first
// when one is present.
func LoadRuntimeConfig() (RuntimeConfig, error) {
	_ = godotenv.Load()

	var config RuntimeConfig
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return RuntimeConfig{}, fmt.Errorf("nexus config: %w", err)
	}
	return config, nil
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	closeDevice := noopCloser
	if config.Device == nil {
		store, closer, err := initializeStorage(ctx, config, "device", config.Runtime.Device)
		if err != nil {
			return nil, Config{}, err
		}
		config.Device, closeDevice = store, closer
	}

	closeTab := noopCloser
	if config.Tab == nil {
		store, closer, err := initializeStorage(ctx, config, "tab", config.Runtime.Tab)
		if err != nil {
			_ = closeDevice()
			return nil, Config{}, err
		}

		ephemeral := false
		if config.Runtime.TabID == "" && config.Runtime.PersistTabID {
			tabID, err := storage.ResolveTabID(ctx, config.Device)
			if err != nil {
				_ = joinClosers(closeDevice, closer)()
				return nil, Config{}, fmt.Errorf("nexus config: failed to resolve tab id: %w", err)
			}
			config.Runtime.TabID = tabID
		}
		if config.Runtime.TabID == "" {
			config.Runtime.TabID = storage.NewTabID()
			ephemeral = true
		}

		tab := storage.Tab(store, config.Runtime.TabID)
		config.Tab, closeTab = tab, closer
		if ephemeral {
			closeTab = joinClosers(closer, clearTab(tab))
		}
	}

	return joinClosers(closeDevice, closeTab), config, nil
}

func initializeStorage(ctx context.Context, config Config, role string, storageConfig StorageConfig) (storage.Store, func() error, error) {
	backend := storageConfig.Backend
	if backend == "" {
		backend = StorageBackendMemory
	}

	switch backend {
	case StorageBackendMemory:
		config.Logger.V(1).Info("initialized memory storage backend", "role", role)
		return memorystore.NewAdapter(), noopCloser, nil
	case StorageBackendRedis:
		return initializeRedis(ctx, config, role, storageConfig.Redis)
	case StorageBackendPostgres:
		return initializePostgres(ctx, config, role, storageConfig.Postgres)
	default:
		return nil, nil, fmt.Errorf("nexus config: unsupported runtime.%s.backend %q", role, backend)
	}
}

func initializeRedis(ctx context.Context, config Config, role string, redisConfig RedisConfig) (storage.Store, func() error, error) {
	if redisConfig.Address == "" {
		return nil, nil, fmt.Errorf("nexus config: runtime.%s.redis.address is required", role)
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter := redisstore.NewAdapter(redisstore.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
		TTL:         redisConfig.TTL,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, nil, fmt.Errorf("nexus config: failed to ping %s redis: %w", role, err)
	}

	config.Logger.V(1).Info("initialized redis storage backend", "role", role, "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter, adapter.Close, nil
}

func initializePostgres(ctx context.Context, config Config, role string, pgConfig PostgresConfig) (storage.Store, func() error, error) {
	if pgConfig.DSN == "" {
		return nil, nil, fmt.Errorf("nexus config: runtime.%s.postgres.dsn is required", role)
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.Scope == "" {
		pgConfig.Scope = role
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("nexus config: failed to open %s postgres database: %w", role, err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("nexus config: failed to ping %s postgres database: %w", role, err)
	}

	adapter, err := postgres.NewAdapter(db, pgConfig.Scope)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("nexus config: failed to initialize %s postgres adapter: %w", role, err)
	}

	config.Logger.V(1).Info("initialized postgres storage backend", "role", role, "driver", pgConfig.DriverName, "scope", pgConfig.Scope, "max_open_conns", pgConfig.MaxOpenConns)
	return adapter, joinClosers(db.Close, adapter.Close), nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

// clearTab drops a minted tab's namespace so shared backends do not
// accumulate orphaned tabs.
func clearTab(tab *storage.Prefixed) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tab.Clear(ctx)
	}
}

func noopCloser() error {
	return nil
}

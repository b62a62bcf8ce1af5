package app

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"tuthub/cmd/internal/auth/session"
	"tuthub/cmd/internal/realtime"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Store backends selectable with TUTHUB_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"TUTHUB_HTTP_ADDR,default=0.0.0.0:8080"`
	LogLevel  string `env:"TUTHUB_LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// Only header/idle timeouts: read/write deadlines would also hit upgraded chat connections.
	ReadHeaderTimeout time.Duration `env:"TUTHUB_HTTP_READ_HEADER_TIMEOUT,default=5s"`
	IdleTimeout       time.Duration `env:"TUTHUB_HTTP_IDLE_TIMEOUT,default=60s"`
	MaxHeaderBytes    int           `env:"TUTHUB_HTTP_MAX_HEADER_BYTES,default=1048576"`
	ShutdownTimeout   time.Duration `env:"TUTHUB_SHUTDOWN_TIMEOUT,default=10s"`

	DatabaseURL string `env:"TUTHUB_DATABASE_URL"`
	DBSchema    string `env:"TUTHUB_DB_SCHEMA,default=tuthub"`
	DBMaxConns  int    `env:"TUTHUB_DB_MAX_CONNS,default=10"`
	DBMinConns  int    `env:"TUTHUB_DB_MIN_CONNS,default=0"`
	DBMigrate   bool   `env:"TUTHUB_DB_MIGRATE,default=true"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"TUTHUB_READINESS_REQUIRE_DB,default=false"`

	// Store is memory|postgres|badger; empty picks postgres when a DB is configured.
	Store      string `env:"TUTHUB_STORE"`
	BadgerPath string `env:"TUTHUB_BADGER_PATH,default=./data/messages"`

	// Usernames served by the in-memory resolver when no DB is configured.
	// Lists accept commas or whitespace; tag defaults cannot contain commas.
	DevUsers string `env:"TUTHUB_DEV_USERS,default=alice bob"`

	TokenIssuer        string        `env:"TUTHUB_TOKEN_ISSUER,default=tuthub"`
	TokenTTL           time.Duration `env:"TUTHUB_TOKEN_TTL,default=15m"`
	TokenClockSkew     time.Duration `env:"TUTHUB_TOKEN_CLOCK_SKEW,default=30s"`
	PasetoPublicKeyHex string        `env:"TUTHUB_PASETO_PUBLIC_KEY_HEX"`
	PasetoSecretKeyHex string        `env:"TUTHUB_PASETO_SECRET_KEY_HEX"`

	WSOriginRequired    bool          `env:"TUTHUB_WS_ORIGIN_REQUIRED,default=false"`
	WSAllowedOrigins    string        `env:"TUTHUB_WS_ALLOWED_ORIGINS,default=http://localhost http://127.0.0.1"`
	WSDevInsecure       bool          `env:"TUTHUB_WS_DEV_INSECURE,default=false"`
	WSSendQueue         int           `env:"TUTHUB_WS_SEND_QUEUE,default=256"`
	WSWriteTimeout      time.Duration `env:"TUTHUB_WS_WRITE_TIMEOUT,default=5s"`
	WSReadIdleTimeout   time.Duration `env:"TUTHUB_WS_READ_IDLE_TIMEOUT,default=0s"`
	WSHeartbeatInterval time.Duration `env:"TUTHUB_WS_HEARTBEAT_INTERVAL,default=25s"`
	WSHeartbeatTimeout  time.Duration `env:"TUTHUB_WS_HEARTBEAT_TIMEOUT,default=5s"`
	WSRateEvents        int           `env:"TUTHUB_WS_RATE_EVENTS,default=120"`
	WSRateWindow        time.Duration `env:"TUTHUB_WS_RATE_WINDOW,default=10s"`
}

// LoadConfig loads an optional .env file, then Config from the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c Config) Validate() error {
	switch c.StoreKind() {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: TUTHUB_STORE=postgres requires TUTHUB_DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown TUTHUB_STORE %q", c.Store)
	}
	if c.StoreKind() == StoreBadger && strings.TrimSpace(c.BadgerPath) == "" {
		return fmt.Errorf("config: TUTHUB_STORE=badger requires TUTHUB_BADGER_PATH")
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 {
		return fmt.Errorf("config: negative DB pool size")
	}
	return nil
}

// StoreKind resolves the effective message store backend.
func (c Config) StoreKind() string {
	s := strings.ToLower(strings.TrimSpace(c.Store))
	if s != "" {
		return s
	}
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return StorePostgres
	}
	return StoreMemory
}

// DevUsernames returns the seeded dev usernames.
func (c Config) DevUsernames() []string { return splitList(c.DevUsers) }

// AllowedOrigins returns the WebSocket origin allowlist.
func (c Config) AllowedOrigins() []string { return splitList(c.WSAllowedOrigins) }

// SessionConfig maps token settings onto session.Config.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Issuer:         c.TokenIssuer,
		AccessTokenTTL: c.TokenTTL,
		ClockSkew:      c.TokenClockSkew,
		SecretKeyHex:   c.PasetoSecretKeyHex,
		PublicKeyHex:   c.PasetoPublicKeyHex,
	}
}

// HandlerConfig maps WebSocket settings onto realtime.HandlerConfig.
func (c Config) HandlerConfig() realtime.HandlerConfig {
	return realtime.HandlerConfig{
		OriginRequired:    c.WSOriginRequired,
		AllowedOrigins:    c.AllowedOrigins(),
		DevInsecure:       c.WSDevInsecure,
		SendQueueSize:     c.WSSendQueue,
		WriteTimeout:      c.WSWriteTimeout,
		ReadIdleTimeout:   c.WSReadIdleTimeout,
		HeartbeatInterval: c.WSHeartbeatInterval,
		HeartbeatTimeout:  c.WSHeartbeatTimeout,
		RateEvents:        c.WSRateEvents,
		RateWindow:        c.WSRateWindow,
	}
}

func splitList(s string) []string {
	return lo.Uniq(strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}))
}

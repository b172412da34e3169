package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Session   SessionSettings   `mapstructure:"session"`
	CSRF      CSRFSettings      `mapstructure:"csrf"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	CORS      CORSSettings      `mapstructure:"cors"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the volatile session store connection and key prefixes.
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	SessionPrefix   string `mapstructure:"session_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the lifecycle-event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// SessionSettings configures session lifetimes and the session cookie.
type SessionSettings struct {
	Lifetime       time.Duration `mapstructure:"lifetime"`
	RenewalWindow  time.Duration `mapstructure:"renewal_window"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
	CookieName     string        `mapstructure:"cookie_name"`
	CSRFCookieName string        `mapstructure:"csrf_cookie_name"`
	CookieDomain   string        `mapstructure:"cookie_domain"`
	CookieSecure   bool          `mapstructure:"cookie_secure"`
}

// CSRFSettings configures the token derivation secret.
type CSRFSettings struct {
	Secret string `mapstructure:"secret"`
}

// BucketSettings is one token-bucket shape plus its behavior when the store is
// unreachable.
type BucketSettings struct {
	MaxTokens      int64         `mapstructure:"max_tokens"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
	FailOpen       bool          `mapstructure:"fail_open"`
}

// RateLimitSettings configures the three limiter tiers.
type RateLimitSettings struct {
	Auth    BucketSettings `mapstructure:"auth"`
	Objects BucketSettings `mapstructure:"objects"`
	API     BucketSettings `mapstructure:"api"`
}

type TelemetrySettings struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	ServiceName string `mapstructure:"service_name"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PIPEHUB")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"session.lifetime",
		"session.renewal_window",
		"session.audit_retention",
		"session.cookie_name",
		"session.csrf_cookie_name",
		"session.cookie_domain",
		"session.cookie_secure",
		"csrf.secret",
		"rate_limit.auth.max_tokens",
		"rate_limit.auth.refill_interval",
		"rate_limit.auth.fail_open",
		"rate_limit.objects.max_tokens",
		"rate_limit.objects.refill_interval",
		"rate_limit.objects.fail_open",
		"rate_limit.api.max_tokens",
		"rate_limit.api.refill_interval",
		"rate_limit.api.fail_open",
		"telemetry.metrics_port",
		"telemetry.service_name",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pipehub-identity")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "identity")
	v.SetDefault("postgres.password", "identity_password")
	v.SetDefault("postgres.database", "identity")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_prefix", "identity:session")
	v.SetDefault("redis.rate_limit_prefix", "identity:bucket")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "identity")

	v.SetDefault("session.lifetime", "720h")
	v.SetDefault("session.renewal_window", "360h")
	v.SetDefault("session.audit_retention", "24h")
	v.SetDefault("session.cookie_name", "pipehub_session")
	v.SetDefault("session.csrf_cookie_name", "pipehub_csrf")
	v.SetDefault("session.cookie_domain", "")
	v.SetDefault("session.cookie_secure", true)

	v.SetDefault("csrf.secret", "")

	// Auth endpoints fail closed: a broken limiter must not open a brute-force
	// window. The wider API tiers fail open.
	v.SetDefault("rate_limit.auth.max_tokens", 10)
	v.SetDefault("rate_limit.auth.refill_interval", "6s")
	v.SetDefault("rate_limit.auth.fail_open", false)
	v.SetDefault("rate_limit.objects.max_tokens", 60)
	v.SetDefault("rate_limit.objects.refill_interval", "1s")
	v.SetDefault("rate_limit.objects.fail_open", true)
	v.SetDefault("rate_limit.api.max_tokens", 120)
	v.SetDefault("rate_limit.api.refill_interval", "500ms")
	v.SetDefault("rate_limit.api.fail_open", true)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.service_name", "pipehub-identity")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "PIPEHUB_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

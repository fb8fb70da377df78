// Package config loads the service configuration from the environment, an
// optional .env file and an optional event-board.yaml.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BlobHTTP  = "http"
	BlobMinio = "minio"
	BlobNone  = "none"
)

// Development fallbacks. Production refuses to start without real values.
const (
	devLoginUser     = "admin"
	devLoginPass     = "admin123"
	devSessionSecret = "dev-session-secret-change-me"
)

// Config is the fully resolved service configuration.
type Config struct {
	Env  string
	Port int

	// DatabaseURL is DATABASE_URL when set, otherwise built from the DB_* parts.
	DatabaseURL string
	// DBHost is the host DatabaseURL points at; empty is a startup error.
	DBHost string

	Auth    AuthConfig
	Blob    BlobConfig
	Log     LogConfig
	Tracing TracingConfig

	UploadsDir string
	PublicDir  string
	LogDir     string

	// RequireImage rejects inserts without an image file.
	RequireImage bool
	// RequireBlob fails uploads the blob store rejected instead of keeping
	// them on local disk.
	RequireBlob bool

	Version string
}

// AuthConfig holds the shared login credential and session settings.
type AuthConfig struct {
	Username      string
	Password      string
	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool

	// LoginRateLimit is login attempts per IP per minute; 0 disables it.
	LoginRateLimit int

	// TrustProxy keys the login limit on X-Forwarded-For / X-Real-IP.
	// Only safe behind a proxy that overwrites those headers.
	TrustProxy bool
}

// BlobConfig selects and configures the image store.
type BlobConfig struct {
	Backend string

	Token   string
	APIBase string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3PublicURL string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// TracingConfig configures OpenTelemetry export. An empty Exporter disables it.
type TracingConfig struct {
	Exporter   string
	Endpoint   string
	SampleRate float64
}

// Addr is the listen address for Port.
func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

// Production reports whether the service runs in the hosted configuration.
func (c Config) Production() bool { return c.Env == EnvProduction }

// Load reads .env (if present), event-board.yaml (if present) and the
// environment, in increasing order of precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("event-board")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper resolves a Config from v, binding environment variables.
func FromViper(v *viper.Viper) (Config, error) {
	v.AutomaticEnv()

	v.SetDefault("app_env", EnvDevelopment)
	env := strings.ToLower(strings.TrimSpace(v.GetString("app_env")))
	dev := env != EnvProduction
	setDefaults(v, dev)

	cfg := Config{
		Env:  env,
		Port: v.GetInt("port"),
		Auth: AuthConfig{
			Username:       v.GetString("login_user"),
			Password:       v.GetString("login_pass"),
			SessionSecret:  v.GetString("session_secret"),
			SessionTTL:     v.GetDuration("session_ttl"),
			CookieSecure:   v.GetBool("cookie_secure"),
			LoginRateLimit: v.GetInt("login_rate_limit"),
			TrustProxy:     v.GetBool("trust_proxy"),
		},
		Blob: BlobConfig{
			Backend:     strings.ToLower(v.GetString("blob_backend")),
			Token:       v.GetString("blob_read_write_token"),
			APIBase:     v.GetString("blob_api_base"),
			S3Endpoint:  v.GetString("s3_endpoint"),
			S3AccessKey: v.GetString("s3_access_key"),
			S3SecretKey: v.GetString("s3_secret_key"),
			S3Bucket:    v.GetString("s3_bucket"),
			S3PublicURL: v.GetString("s3_public_url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
		Tracing: TracingConfig{
			Exporter:   strings.ToLower(v.GetString("otel_exporter")),
			Endpoint:   v.GetString("otel_endpoint"),
			SampleRate: v.GetFloat64("otel_sample_rate"),
		},
		UploadsDir:   v.GetString("uploads_dir"),
		PublicDir:    v.GetString("public_dir"),
		LogDir:       v.GetString("log_dir"),
		RequireImage: v.GetBool("require_image"),
		RequireBlob:  v.GetBool("require_blob"),
		Version:      v.GetString("version"),
	}

	dbURL, host, err := databaseURL(v)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL, cfg.DBHost = dbURL, host

	return cfg, nil
}

func setDefaults(v *viper.Viper, dev bool) {
	v.SetDefault("port", 3000)
	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("cookie_secure", !dev)
	v.SetDefault("login_rate_limit", 10)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("blob_backend", BlobHTTP)
	v.SetDefault("blob_api_base", "https://api.vercel.com/v1/blob")
	v.SetDefault("uploads_dir", "uploads/images")
	v.SetDefault("public_dir", "public")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("require_image", false)
	v.SetDefault("require_blob", !dev)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_sample_rate", 1.0)
	v.SetDefault("version", "dev")
	v.SetDefault("db_port", 5432)

	if dev {
		v.SetDefault("log_format", "text")
		v.SetDefault("login_user", devLoginUser)
		v.SetDefault("login_pass", devLoginPass)
		v.SetDefault("session_secret", devSessionSecret)
		v.SetDefault("db_host", "localhost")
		v.SetDefault("db_username", "postgres")
		v.SetDefault("db_name", "webdevsite")
		v.SetDefault("db_sslmode", "disable")
	} else {
		v.SetDefault("log_format", "json")
		v.SetDefault("db_sslmode", "require")
	}
}

// databaseURL prefers DATABASE_URL and otherwise assembles a postgres URL
// from the DB_* settings. It returns the URL and the host it points at.
func databaseURL(v *viper.Viper) (string, string, error) {
	if raw := strings.TrimSpace(v.GetString("database_url")); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		return raw, u.Hostname(), nil
	}

	host := strings.TrimSpace(v.GetString("db_host"))
	if host == "" {
		return "", "", nil
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(v.GetInt("db_port"))),
		Path:     "/" + v.GetString("db_name"),
		RawQuery: url.Values{"sslmode": {v.GetString("db_sslmode")}}.Encode(),
	}
	user := v.GetString("db_username")
	if pass := v.GetString("db_password"); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else if user != "" {
		u.User = url.User(user)
	}
	return u.String(), host, nil
}

// Validate reports every setting that would make the service misbehave.
func (c Config) Validate() error {
	var v Validator

	v.Enum("APP_ENV", c.Env, []string{EnvDevelopment, EnvProduction})
	v.Port("PORT", c.Port)
	v.Required("DB_HOST", c.DBHost)
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
	}

	v.Required("LOGIN_USER", c.Auth.Username)
	v.Required("LOGIN_PASS", c.Auth.Password)
	v.Required("SESSION_SECRET", c.Auth.SessionSecret)
	if c.Production() {
		v.MinLength("SESSION_SECRET", c.Auth.SessionSecret, 32)
	}
	if c.Auth.SessionTTL <= 0 {
		v.AddError("SESSION_TTL", "must be a positive duration")
	}
	if c.Auth.LoginRateLimit < 0 {
		v.AddError("LOGIN_RATE_LIMIT", "must not be negative")
	}

	v.Enum("BLOB_BACKEND", c.Blob.Backend, []string{BlobHTTP, BlobMinio, BlobNone})
	switch c.Blob.Backend {
	case BlobHTTP:
		v.URL("BLOB_API_BASE", c.Blob.APIBase)
		if c.RequireBlob {
			v.Required("BLOB_READ_WRITE_TOKEN", c.Blob.Token)
		}
	case BlobMinio:
		v.Required("S3_ENDPOINT", c.Blob.S3Endpoint)
		v.Required("S3_ACCESS_KEY", c.Blob.S3AccessKey)
		v.Required("S3_SECRET_KEY", c.Blob.S3SecretKey)
		v.Required("S3_BUCKET", c.Blob.S3Bucket)
		v.URL("S3_PUBLIC_URL", c.Blob.S3PublicURL)
	case BlobNone:
		if c.RequireBlob {
			v.AddError("BLOB_BACKEND", "blob storage is required but disabled")
		}
	}

	v.Enum("LOG_FORMAT", c.Log.Format, []string{"text", "json"})
	v.Enum("LOG_LEVEL", c.Log.Level, []string{"debug", "info", "warn", "error"})
	v.Enum("OTEL_EXPORTER", c.Tracing.Exporter, []string{"", "otlp", "zipkin"})

	return v.Err()
}

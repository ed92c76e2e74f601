package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "KEEPSAKE_DB_DSN"
	EnvDBHost = "KEEPSAKE_DB_HOST"
	EnvDBUser = "KEEPSAKE_DB_USER"
	EnvDBName = "KEEPSAKE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	OrderToken   OrderTokenConfig
	Admin        AdminConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Uploads      UploadsConfig
	PubSub       PubSubConfig
	Square       SquareConfig
	Transformer  TransformerConfig
	Mailer       MailerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEEPSAKE_APP_ENV" required:"true"`
	Port         string `envconfig:"KEEPSAKE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEEPSAKE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEEPSAKE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"KEEPSAKE_DB_DSN"`
	Driver string `envconfig:"KEEPSAKE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEEPSAKE_DB_HOST"`
	LegacyPort     int    `envconfig:"KEEPSAKE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEEPSAKE_DB_USER"`
	LegacyPassword string `envconfig:"KEEPSAKE_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEEPSAKE_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEEPSAKE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEEPSAKE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEEPSAKE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEEPSAKE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEEPSAKE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEEPSAKE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEEPSAKE_REDIS_ADDR"`
	Password     string        `envconfig:"KEEPSAKE_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEEPSAKE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEEPSAKE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEEPSAKE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEEPSAKE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEEPSAKE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEEPSAKE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// OrderTokenConfig drives the signed tokens that scope callers to one order.
type OrderTokenConfig struct {
	Secret     string `envconfig:"KEEPSAKE_ORDER_TOKEN_SECRET" required:"true"`
	Issuer     string `envconfig:"KEEPSAKE_ORDER_TOKEN_ISSUER" default:"keepsake"`
	TTLMinutes int    `envconfig:"KEEPSAKE_ORDER_TOKEN_TTL_MINUTES" default:"10080"`
}

// TTL returns the order token lifetime.
func (o OrderTokenConfig) TTL() time.Duration {
	if o.TTLMinutes <= 0 {
		return 0
	}
	return time.Duration(o.TTLMinutes) * time.Minute
}

type AdminConfig struct {
	APIKey string `envconfig:"KEEPSAKE_ADMIN_API_KEY" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KEEPSAKE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEEPSAKE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"KEEPSAKE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEEPSAKE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"KEEPSAKE_GCS_BUCKET_NAME" required:"true"`
}

type UploadsConfig struct {
	MaxUploadMB  int `envconfig:"KEEPSAKE_MAX_UPLOAD_MB" default:"25"`
	MaxFileCount int `envconfig:"KEEPSAKE_MAX_FILE_COUNT" default:"30"`
}

type PubSubConfig struct {
	TransformTopic        string `envconfig:"KEEPSAKE_PUBSUB_TRANSFORM_TOPIC" required:"true"`
	TransformSubscription string `envconfig:"KEEPSAKE_PUBSUB_TRANSFORM_SUBSCRIPTION" required:"true"`
}

type SquareConfig struct {
	AccessToken   string        `envconfig:"KEEPSAKE_SQUARE_ACCESS_TOKEN" required:"true"`
	Env           string        `envconfig:"KEEPSAKE_SQUARE_ENV" default:"sandbox"`
	WebhookSecret string        `envconfig:"KEEPSAKE_SQUARE_WEBHOOK_SECRET" required:"true"`
	EventDedupTTL time.Duration `envconfig:"KEEPSAKE_SQUARE_EVENT_DEDUP_TTL" default:"720h"`
}

// Environment returns the normalized Square environment.
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type TransformerConfig struct {
	BaseURL     string        `envconfig:"KEEPSAKE_TRANSFORMER_BASE_URL" required:"true"`
	APIKey      string        `envconfig:"KEEPSAKE_TRANSFORMER_API_KEY"`
	CallTimeout time.Duration `envconfig:"KEEPSAKE_TRANSFORMER_CALL_TIMEOUT" default:"120s"`
}

type MailerConfig struct {
	BaseURL     string `envconfig:"KEEPSAKE_MAILER_BASE_URL"`
	APIKey      string `envconfig:"KEEPSAKE_MAILER_API_KEY"`
	DefaultFrom string `envconfig:"KEEPSAKE_MAILER_FROM_EMAIL" default:"orders@keepsake.app"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

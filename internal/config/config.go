package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// S3Config describes the S3 compatible bucket for attachments.
type S3Config struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	PathStyle     bool
}

// Config holds runtime configuration shared across the application.
type Config struct {
	Addr           string
	Timeout        time.Duration
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	Timezone       string
	AllowedOrigins []string
	PublicBaseURL  string

	LogLevel  string
	LogFormat string

	StoreDriver                  string
	MongoURI                     string
	MongoDatabase                string
	ApplicationCollection        string
	FailedNotificationCollection string
	RunMigrations                bool

	StorageDriver    string
	StorageKeyPrefix string
	S3               S3Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HintTTL       time.Duration

	SessionCookieSecret []byte
	SessionCookieSecure bool
	ResolverWait        time.Duration
	ResolverPoll        time.Duration

	ReceiptSigningSecret []byte
	ReceiptIssuer        string
	ReceiptFetchTimeout  time.Duration

	UploadMaxFileBytes int64
	UploadMaxDocuments int

	SESRegion            string
	SESFrom              string
	MessengerEndpoint    string
	MessengerDestination string
	MessengerTimeout     time.Duration
	AdminBaseURL         string
}

// Load reads .env, an optional config.yaml and the environment, and returns a validated Config.
func Load() (Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Config{
		Addr:           v.GetString("HTTP_ADDR"),
		Timeout:        v.GetDuration("MONGO_CONNECT_TIMEOUT"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
		UploadTimeout:  v.GetDuration("UPLOAD_TIMEOUT"),
		Timezone:       v.GetString("TIMEZONE"),
		AllowedOrigins: parseList(v.GetString("API_ALLOWED_ORIGINS"), []string{"*"}),
		PublicBaseURL:  strings.TrimRight(strings.TrimSpace(v.GetString("PUBLIC_BASE_URL")), "/"),

		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),

		StoreDriver:                  strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		MongoURI:                     v.GetString("MONGO_URI"),
		MongoDatabase:                v.GetString("MONGO_DB"),
		ApplicationCollection:        v.GetString("APPLICATION_COLLECTION"),
		FailedNotificationCollection: v.GetString("FAILED_NOTIFICATION_COLLECTION"),
		RunMigrations:                v.GetBool("RUN_MIGRATIONS"),

		StorageDriver:    strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
		StorageKeyPrefix: v.GetString("STORAGE_KEY_PREFIX"),
		S3: S3Config{
			Region:        v.GetString("S3_REGION"),
			Endpoint:      strings.TrimSpace(v.GetString("S3_ENDPOINT")),
			AccessKey:     v.GetString("S3_ACCESS_KEY"),
			SecretKey:     v.GetString("S3_SECRET_KEY"),
			Bucket:        strings.TrimSpace(v.GetString("S3_BUCKET")),
			PublicBaseURL: strings.TrimSpace(v.GetString("S3_PUBLIC_BASE_URL")),
			PathStyle:     v.GetBool("S3_PATH_STYLE"),
		},

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		HintTTL:       v.GetDuration("HINT_TTL"),

		SessionCookieSecret: []byte(strings.TrimSpace(v.GetString("SESSION_COOKIE_SECRET"))),
		SessionCookieSecure: v.GetBool("SESSION_COOKIE_SECURE"),
		ResolverWait:        v.GetDuration("RESOLVER_WAIT"),
		ResolverPoll:        v.GetDuration("RESOLVER_POLL"),

		ReceiptSigningSecret: []byte(strings.TrimSpace(v.GetString("RECEIPT_SIGNING_SECRET"))),
		ReceiptIssuer:        v.GetString("RECEIPT_ISSUER"),
		ReceiptFetchTimeout:  v.GetDuration("RECEIPT_FETCH_TIMEOUT"),

		UploadMaxFileBytes: v.GetInt64("UPLOAD_MAX_FILE_BYTES"),
		UploadMaxDocuments: v.GetInt("UPLOAD_MAX_DOCUMENTS"),

		SESRegion:            strings.TrimSpace(v.GetString("SES_REGION")),
		SESFrom:              strings.TrimSpace(v.GetString("SES_FROM")),
		MessengerEndpoint:    strings.TrimSpace(v.GetString("MESSENGER_GATEWAY_URL")),
		MessengerDestination: strings.TrimSpace(v.GetString("MESSENGER_GATEWAY_DESTINATION")),
		MessengerTimeout:     v.GetDuration("MESSENGER_GATEWAY_TIMEOUT"),
		AdminBaseURL:         strings.TrimSpace(v.GetString("ADMIN_BASE_URL")),
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("MONGO_CONNECT_TIMEOUT", 10*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 5*time.Second)
	v.SetDefault("UPLOAD_TIMEOUT", 60*time.Second)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORE_DRIVER", DriverMongo)
	v.SetDefault("MONGO_URI", "mongodb://mongo:27017")
	v.SetDefault("MONGO_DB", "admissions")
	v.SetDefault("APPLICATION_COLLECTION", "applications")
	v.SetDefault("FAILED_NOTIFICATION_COLLECTION", "failed_notifications")
	v.SetDefault("RUN_MIGRATIONS", true)

	v.SetDefault("STORAGE_DRIVER", DriverS3)
	v.SetDefault("STORAGE_KEY_PREFIX", "ftu")
	v.SetDefault("S3_REGION", "auto")

	v.SetDefault("HINT_TTL", 24*time.Hour)
	v.SetDefault("RESOLVER_WAIT", 2*time.Second)
	v.SetDefault("RESOLVER_POLL", 200*time.Millisecond)

	v.SetDefault("RECEIPT_ISSUER", "ftu-admissions")
	v.SetDefault("RECEIPT_FETCH_TIMEOUT", 10*time.Second)

	v.SetDefault("UPLOAD_MAX_FILE_BYTES", 12<<20)
	v.SetDefault("UPLOAD_MAX_DOCUMENTS", 5)

	v.SetDefault("MESSENGER_GATEWAY_TIMEOUT", 3*time.Second)
}

func validate(cfg Config) error {
	switch cfg.StoreDriver {
	case DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMongo, DriverMemory, cfg.StoreDriver)
	}
	switch cfg.StorageDriver {
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
		if cfg.S3.PublicBaseURL == "" && cfg.S3.Endpoint == "" {
			return errors.New("S3_PUBLIC_BASE_URL or S3_ENDPOINT is required when STORAGE_DRIVER=s3")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverS3, DriverMemory, cfg.StorageDriver)
	}
	if len(cfg.SessionCookieSecret) == 0 {
		return errors.New("SESSION_COOKIE_SECRET must be configured")
	}
	if len(cfg.ReceiptSigningSecret) == 0 {
		return errors.New("RECEIPT_SIGNING_SECRET must be configured")
	}
	if cfg.UploadMaxFileBytes <= 0 || cfg.UploadMaxDocuments <= 0 {
		return errors.New("upload limits must be positive")
	}
	if cfg.ResolverPoll <= 0 {
		return errors.New("RESOLVER_POLL must be positive")
	}
	return nil
}

// loadEnvFile は最初に見つかった .env を読み込む。既存の環境変数は上書きしない。
func loadEnvFile() {
	paths := []string{".env", "../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func parseList(raw string, fallback []string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}

	if len(values) == 0 {
		return fallback
	}
	return values
}

// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	JWTAccessTTLMinutes      int    `mapstructure:"JWT_ACCESS_TTL_MINUTES"`
	RefreshTokenTTLHours     int    `mapstructure:"REFRESH_TOKEN_TTL_HOURS"`
	Port                     string `mapstructure:"PORT"`
	DBHost                   string `mapstructure:"DB_HOST"`
	DBPort                   string `mapstructure:"DB_PORT"`
	DBUser                   string `mapstructure:"DB_USER"`
	DBPassword               string `mapstructure:"DB_PASSWORD"`
	DBName                   string `mapstructure:"DB_NAME"`
	DBSSLMode                string `mapstructure:"DB_SSLMODE"`
	DBReadHost               string `mapstructure:"DB_READ_HOST"`
	DBReadPort               string `mapstructure:"DB_READ_PORT"`
	DBReadUser               string `mapstructure:"DB_READ_USER"`
	DBReadPassword           string `mapstructure:"DB_READ_PASSWORD"`
	DBMaxOpenConns           int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode             string `mapstructure:"DB_SCHEMA_MODE"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	AllowedOrigins           string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags             string `mapstructure:"FEATURE_FLAGS"`
	Env                      string `mapstructure:"APP_ENV"`

	StorageProvider       string `mapstructure:"STORAGE_PROVIDER"`
	StorageLocalDir       string `mapstructure:"STORAGE_LOCAL_DIR"`
	StoragePublicBaseURL  string `mapstructure:"STORAGE_PUBLIC_BASE_URL"`
	S3Endpoint            string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey           string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey           string `mapstructure:"S3_SECRET_KEY"`
	S3Bucket              string `mapstructure:"S3_BUCKET"`
	S3Region              string `mapstructure:"S3_REGION"`
	S3UseSSL              bool   `mapstructure:"S3_USE_SSL"`
	AzureStorageAccount   string `mapstructure:"AZURE_STORAGE_ACCOUNT"`
	AzureStorageKey       string `mapstructure:"AZURE_STORAGE_KEY"`
	AzureStorageContainer string `mapstructure:"AZURE_STORAGE_CONTAINER"`
	AzureStorageURL       string `mapstructure:"AZURE_STORAGE_URL"`
	MediaMaxUploadSizeMB  int    `mapstructure:"MEDIA_MAX_UPLOAD_SIZE_MB"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	MailQueue    string `mapstructure:"MAIL_QUEUE"`
	MailFrom     string `mapstructure:"MAIL_FROM"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	OAuthGoogleClientID     string `mapstructure:"OAUTH_GOOGLE_CLIENT_ID"`
	OAuthGoogleClientSecret string `mapstructure:"OAUTH_GOOGLE_CLIENT_SECRET"`
	OAuthGitHubClientID     string `mapstructure:"OAUTH_GITHUB_CLIENT_ID"`
	OAuthGitHubClientSecret string `mapstructure:"OAUTH_GITHUB_CLIENT_SECRET"`
	OAuthRedirectBaseURL    string `mapstructure:"OAUTH_REDIRECT_BASE_URL"`
	OAuthSuccessRedirect    string `mapstructure:"OAUTH_SUCCESS_REDIRECT"`

	RateLimitPolicyFile string `mapstructure:"RATE_LIMIT_POLICY_FILE"`
	RateLimitForce      bool   `mapstructure:"RATE_LIMIT_FORCE"`

	StoryTTLHours             int `mapstructure:"STORY_TTL_HOURS"`
	StorySweepIntervalMinutes int `mapstructure:"STORY_SWEEP_INTERVAL_MINUTES"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`

	// DevSeedDemo seeds demo data on startup when the database has no users.
	// Only honored in development.
	DevSeedDemo bool `mapstructure:"DEV_SEED_DEMO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_ACCESS_TTL_MINUTES", 15)
	viper.SetDefault("REFRESH_TOKEN_TTL_HOURS", 24*30)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "chatterbox")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_READ_HOST", "")
	viper.SetDefault("DB_READ_PORT", "5432")
	viper.SetDefault("DB_READ_USER", "user")
	viper.SetDefault("DB_READ_PASSWORD", "password")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("FEATURE_FLAGS", "stories=on,polls=on,oauth=on")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("STORAGE_PROVIDER", "local")
	viper.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	viper.SetDefault("STORAGE_PUBLIC_BASE_URL", "/media")
	viper.SetDefault("S3_ENDPOINT", "")
	viper.SetDefault("S3_ACCESS_KEY", "")
	viper.SetDefault("S3_SECRET_KEY", "")
	viper.SetDefault("S3_BUCKET", "chatterbox")
	viper.SetDefault("S3_REGION", "")
	viper.SetDefault("S3_USE_SSL", true)
	viper.SetDefault("AZURE_STORAGE_ACCOUNT", "")
	viper.SetDefault("AZURE_STORAGE_KEY", "")
	viper.SetDefault("AZURE_STORAGE_CONTAINER", "chatterbox")
	viper.SetDefault("AZURE_STORAGE_URL", "")
	viper.SetDefault("MEDIA_MAX_UPLOAD_SIZE_MB", 25)

	viper.SetDefault("AMQP_URL", "")
	viper.SetDefault("MAIL_QUEUE", "mail.otp")
	viper.SetDefault("MAIL_FROM", "Chatterbox <no-reply@chatterbox.local>")
	viper.SetDefault("SMTP_HOST", "")
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("SMTP_USERNAME", "")
	viper.SetDefault("SMTP_PASSWORD", "")

	viper.SetDefault("OAUTH_GOOGLE_CLIENT_ID", "")
	viper.SetDefault("OAUTH_GOOGLE_CLIENT_SECRET", "")
	viper.SetDefault("OAUTH_GITHUB_CLIENT_ID", "")
	viper.SetDefault("OAUTH_GITHUB_CLIENT_SECRET", "")
	viper.SetDefault("OAUTH_REDIRECT_BASE_URL", "http://localhost:8080")
	viper.SetDefault("OAUTH_SUCCESS_REDIRECT", "http://localhost:5173/oauth/callback")

	viper.SetDefault("RATE_LIMIT_POLICY_FILE", "")
	viper.SetDefault("RATE_LIMIT_FORCE", false)

	viper.SetDefault("STORY_TTL_HOURS", 24)
	viper.SetDefault("STORY_SWEEP_INTERVAL_MINUTES", 5)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	viper.SetDefault("DEV_SEED_DEMO", false)
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.StorageProvider = strings.ToLower(strings.TrimSpace(c.StorageProvider))
	c.DBSchemaMode = strings.ToLower(strings.TrimSpace(c.DBSchemaMode))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
}

// IsProduction reports whether the app runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	if c.JWTAccessTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

// RefreshTokenTTL is the lifetime of issued refresh tokens.
func (c *Config) RefreshTokenTTL() time.Duration {
	if c.RefreshTokenTTLHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.RefreshTokenTTLHours) * time.Hour
}

// StoryTTL is how long a story stays visible.
func (c *Config) StoryTTL() time.Duration {
	if c.StoryTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.StoryTTLHours) * time.Hour
}

// StorySweepInterval is how often expired stories are removed.
func (c *Config) StorySweepInterval() time.Duration {
	if c.StorySweepIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StorySweepIntervalMinutes) * time.Minute
}

// MediaMaxUploadBytes is the upload size limit in bytes.
func (c *Config) MediaMaxUploadBytes() int64 {
	return int64(c.MediaMaxUploadSizeMB) << 20
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.MediaMaxUploadSizeMB <= 0 {
		return errors.New("MEDIA_MAX_UPLOAD_SIZE_MB must be positive")
	}
	if c.DBConnMaxLifetimeMinutes <= 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES must be positive")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}

	switch c.StorageProvider {
	case "", "local":
	case "s3", "backblaze", "minio":
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" || c.S3Bucket == "" {
			return errors.New("S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY and S3_BUCKET are required for the s3 storage provider")
		}
	case "azure":
		if c.AzureStorageAccount == "" || c.AzureStorageKey == "" || c.AzureStorageContainer == "" {
			return errors.New("AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY and AZURE_STORAGE_CONTAINER are required for the azure storage provider")
		}
	default:
		return fmt.Errorf("unknown STORAGE_PROVIDER %q", c.StorageProvider)
	}

	switch c.DBSchemaMode {
	case "", "hybrid", "sql", "auto":
	default:
		return fmt.Errorf("unknown DB_SCHEMA_MODE %q", c.DBSchemaMode)
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.AMQPURL == "" {
			return errors.New("AMQP_URL is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

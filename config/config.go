package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Media      MediaConfig
	Cloudinary CloudinaryConfig
	Log        LogConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	GinMode        string   `env:"GIN_MODE" envDefault:"debug"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type DatabaseConfig struct {
	URL             string        `env:"DB_URL"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
}

type JWTConfig struct {
	Secret     string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"60m"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`
	Issuer     string        `env:"JWT_ISSUER" envDefault:"field-service-server"`
}

// Media backends.
const (
	MediaBackendLocal      = "local"
	MediaBackendCloudinary = "cloudinary"
)

// MediaConfig controls where task proofs end up.
type MediaConfig struct {
	Backend        string `env:"MEDIA_BACKEND" envDefault:"local"`
	Root           string `env:"MEDIA_ROOT" envDefault:"./media"`
	URL            string `env:"MEDIA_URL" envDefault:"/media/"`
	MaxUploadBytes int64  `env:"MEDIA_MAX_UPLOAD_BYTES" envDefault:"10485760"`
}

type CloudinaryConfig struct {
	URL       string `env:"CLOUDINARY_URL"`
	CloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	APIKey    string `env:"CLOUDINARY_API_KEY"`
	APISecret string `env:"CLOUDINARY_API_SECRET"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type AuthConfig struct {
	AllowAdminRegistration bool   `env:"ALLOW_ADMIN_REGISTRATION" envDefault:"false"`
	AdminUsername          string `env:"ADMIN_USERNAME"`
	AdminPassword          string `env:"ADMIN_PASSWORD"`
	AdminEmail             string `env:"ADMIN_EMAIL"`
	BcryptCost             int    `env:"BCRYPT_COST" envDefault:"12"`
}

type RateLimitConfig struct {
	PerMinute     int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	AuthPerMinute int `env:"AUTH_RATE_LIMIT_PER_MINUTE" envDefault:"20"`
}

var AppConfig *Config

// Load parses the process environment into AppConfig.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	AppConfig = &cfg
	return AppConfig, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsRelease() && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in release mode")
	}
	switch c.Media.Backend {
	case MediaBackendLocal:
	case MediaBackendCloudinary:
		if c.Cloudinary.URL == "" && (c.Cloudinary.CloudName == "" || c.Cloudinary.APIKey == "" || c.Cloudinary.APISecret == "") {
			return fmt.Errorf("cloudinary media backend needs CLOUDINARY_URL or cloud name, key and secret")
		}
	default:
		return fmt.Errorf("unknown MEDIA_BACKEND %q", c.Media.Backend)
	}
	if c.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func (c *Config) IsRelease() bool {
	return c.Server.GinMode == "release"
}

// CloudinaryURL builds the cloudinary:// URL from the split credentials when
// CLOUDINARY_URL is not set.
func (c CloudinaryConfig) CloudinaryURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("cloudinary://%s:%s@%s", c.APIKey, c.APISecret, c.CloudName)
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BIONOTE_DATABASE_HOST.
const EnvPrefix = "BIONOTE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `mapstructure:"database" envconfig:"DATABASE"`
	JWT       JWTConfig       `mapstructure:"jwt" envconfig:"JWT"`
	Storage   StorageConfig   `mapstructure:"storage" envconfig:"STORAGE"`
	Clinics   ClinicsConfig   `mapstructure:"clinics" envconfig:"CLINICS"`
	Security  SecurityConfig  `mapstructure:"security" envconfig:"SECURITY"`
	Throttle  ThrottleConfig  `mapstructure:"throttle" envconfig:"THROTTLE"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" envconfig:"RATE_LIMIT"`
	Mail      MailConfig      `mapstructure:"mail" envconfig:"MAIL"`
	Admin     AdminConfig     `mapstructure:"admin" envconfig:"ADMIN"`
	Log       LogConfig       `mapstructure:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" envconfig:"PORT"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	CORSOrigins    []string      `mapstructure:"cors_origins" envconfig:"CORS_ORIGINS"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver       string `mapstructure:"driver" envconfig:"DRIVER"`
	Host         string `mapstructure:"host" envconfig:"HOST"`
	Port         int    `mapstructure:"port" envconfig:"PORT"`
	User         string `mapstructure:"user" envconfig:"USER"`
	Password     string `mapstructure:"password" envconfig:"PASSWORD"`
	Name         string `mapstructure:"name" envconfig:"NAME"`
	SSLMode      string `mapstructure:"sslmode" envconfig:"SSLMODE"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	AutoMigrate  bool   `mapstructure:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret" envconfig:"SECRET"`
	Issuer      string `mapstructure:"issuer" envconfig:"ISSUER"`
	ExpiryHours int    `mapstructure:"expiry_hours" envconfig:"EXPIRY_HOURS"`
}

type StorageConfig struct {
	Root           string `mapstructure:"root" envconfig:"ROOT"`
	PublicURL      string `mapstructure:"public_url" envconfig:"PUBLIC_URL"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
	MaxURLLength   int    `mapstructure:"max_url_length" envconfig:"MAX_URL_LENGTH"`
}

type ClinicsConfig struct {
	Countries    []string `mapstructure:"countries" envconfig:"COUNTRIES"`
	PhonePattern string   `mapstructure:"phone_pattern" envconfig:"PHONE_PATTERN"`
	PerPage      int      `mapstructure:"per_page" envconfig:"PER_PAGE"`
}

type SecurityConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost" envconfig:"BCRYPT_COST"`
}

type ThrottleConfig struct {
	// Driver is "memory" or "redis".
	Driver      string        `mapstructure:"driver" envconfig:"DRIVER"`
	RedisURL    string        `mapstructure:"redis_url" envconfig:"REDIS_URL"`
	LoginMax    int           `mapstructure:"login_max" envconfig:"LOGIN_MAX"`
	LoginWindow time.Duration `mapstructure:"login_window" envconfig:"LOGIN_WINDOW"`
	ForgotMax   int           `mapstructure:"forgot_max" envconfig:"FORGOT_MAX"`
	ForgotWin   time.Duration `mapstructure:"forgot_window" envconfig:"FORGOT_WINDOW"`
	ResetMax    int           `mapstructure:"reset_max" envconfig:"RESET_MAX"`
	ResetWin    time.Duration `mapstructure:"reset_window" envconfig:"RESET_WINDOW"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" envconfig:"ENABLED"`
	RPS     float64 `mapstructure:"rps" envconfig:"RPS"`
	Burst   int     `mapstructure:"burst" envconfig:"BURST"`
}

type MailConfig struct {
	Host     string `mapstructure:"host" envconfig:"HOST"`
	Port     int    `mapstructure:"port" envconfig:"PORT"`
	Username string `mapstructure:"username" envconfig:"USERNAME"`
	Password string `mapstructure:"password" envconfig:"PASSWORD"`
	From     string `mapstructure:"from" envconfig:"FROM"`
	// ResetURL is the frontend base the reset link points at.
	ResetURL string `mapstructure:"reset_url" envconfig:"RESET_URL"`
	// BreakerFailures consecutive send errors pause delivery for BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures" envconfig:"BREAKER_FAILURES"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" envconfig:"BREAKER_COOLDOWN"`
}

type AdminConfig struct {
	Name     string `mapstructure:"name" envconfig:"NAME"`
	Email    string `mapstructure:"email" envconfig:"EMAIL"`
	Password string `mapstructure:"password" envconfig:"PASSWORD"`
}

type LogConfig struct {
	Level string `mapstructure:"level" envconfig:"LEVEL"`
	JSON  bool   `mapstructure:"json" envconfig:"JSON"`
}

// DefaultCountries is the set of countries a clinic may register in.
var DefaultCountries = []string{
	"GUATEMALA", "EL SALVADOR", "HONDURAS", "NICARAGUA", "COSTA RICA", "PANAMA", "BELICE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", 64<<20)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "bionote")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("jwt.issuer", "bionote")
	v.SetDefault("jwt.expiry_hours", 24*7)

	v.SetDefault("storage.root", "storage/app/public")
	v.SetDefault("storage.public_url", "http://localhost:8000/storage")
	v.SetDefault("storage.max_upload_bytes", 5120*1024)
	v.SetDefault("storage.max_url_length", 500)

	v.SetDefault("clinics.countries", DefaultCountries)
	v.SetDefault("clinics.per_page", 15)

	v.SetDefault("security.bcrypt_cost", 10)

	v.SetDefault("throttle.driver", "memory")
	v.SetDefault("throttle.login_max", 10)
	v.SetDefault("throttle.login_window", time.Minute)
	v.SetDefault("throttle.forgot_max", 5)
	v.SetDefault("throttle.forgot_window", time.Hour)
	v.SetDefault("throttle.reset_max", 10)
	v.SetDefault("throttle.reset_window", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "no-reply@bionote.local")
	v.SetDefault("mail.reset_url", "http://localhost:3000")
	v.SetDefault("mail.breaker_failures", 5)
	v.SetDefault("mail.breaker_cooldown", time.Minute)

	v.SetDefault("admin.name", "Administrator")

	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from the working directory or ./config when present,
// then applies BIONOTE_* environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Throttle.Driver {
	case "memory":
	case "redis":
		if c.Throttle.RedisURL == "" {
			return errors.New("throttle.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported throttle driver %q", c.Throttle.Driver)
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("jwt.secret is required")
	}
	if len(c.Clinics.Countries) == 0 {
		return errors.New("clinics.countries must not be empty")
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// TokenTTL returns the bearer token lifetime.
func (j JWTConfig) TokenTTL() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

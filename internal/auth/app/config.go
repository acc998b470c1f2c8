package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string `yaml:"env" env:"ENV" env-default:"dev"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`

	HTTP         HTTPConfig         `yaml:"http"`
	Database     DatabaseConfig     `yaml:"database"`
	Keys         KeysConfig         `yaml:"keys"`
	Tokens       TokensConfig       `yaml:"tokens"`
	Passwords    PasswordsConfig    `yaml:"passwords"`
	Lockout      LockoutConfig      `yaml:"lockout"`
	MFA          MFAConfig          `yaml:"mfa"`
	Roles        RolesConfig        `yaml:"roles"`
	Bootstrap    BootstrapConfig    `yaml:"bootstrap"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

type HTTPConfig struct {
	Port                int           `yaml:"port" env:"PORT" env-default:"8080"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD" env-default:"10s"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"3s"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"AUTH_DATABASE_DRIVER" env-default:"sqlite"`
	File   string `yaml:"file" env:"AUTH_DATABASE_FILE" env-default:"auth.db"`
	URL    string `yaml:"url" env:"AUTH_DATABASE_URL"`
}

type KeysConfig struct {
	Issuer        string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"stockroom-auth"`
	Algorithm     string        `yaml:"algorithm" env:"AUTH_ALGORITHM" env-default:"EdDSA"`
	NumKeys       int           `yaml:"num_keys" env:"AUTH_NUM_KEYS" env-default:"3"`
	StorageMode   string        `yaml:"storage_mode" env:"AUTH_KEY_STORAGE_MODE" env-default:"ephemeral"`
	GracePeriod   time.Duration `yaml:"grace_period" env:"AUTH_KEY_GRACE_PERIOD" env-default:"720h"`
	MasterKeyPath string        `yaml:"master_key_path" env:"AUTH_MASTER_KEY_PATH"`
}

type TokensConfig struct {
	AccessTTL     time.Duration `yaml:"access_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"AUTH_REFRESH_TOKEN_TTL" env-default:"168h"`
	RotateRefresh bool          `yaml:"rotate_refresh" env:"AUTH_ROTATE_REFRESH_TOKENS" env-default:"false"`
}

type PasswordsConfig struct {
	PepperFile       string        `yaml:"pepper_file" env:"AUTH_PEPPER_FILE" env-default:"pepper"`
	Hasher           string        `yaml:"hasher" env:"AUTH_PASSWORD_HASHER" env-default:"argon2id"`
	BcryptCost       int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`
	MaxAge           time.Duration `yaml:"max_age" env:"AUTH_PASSWORD_MAX_AGE" env-default:"2160h"`
	MinLength        int           `yaml:"min_length" env:"AUTH_PASSWORD_MIN_LENGTH" env-default:"12"`
	RequireUppercase bool          `yaml:"require_uppercase" env:"AUTH_PASSWORD_REQUIRE_UPPERCASE" env-default:"true"`
	RequireLowercase bool          `yaml:"require_lowercase" env:"AUTH_PASSWORD_REQUIRE_LOWERCASE" env-default:"true"`
	RequireNumbers   bool          `yaml:"require_numbers" env:"AUTH_PASSWORD_REQUIRE_NUMBERS" env-default:"true"`
	RequireSpecial   bool          `yaml:"require_special" env:"AUTH_PASSWORD_REQUIRE_SPECIAL" env-default:"true"`
	SpecialChars     string        `yaml:"special_chars" env:"AUTH_PASSWORD_SPECIAL_CHARS" env-default:"@$!%*?&"`
	History          int           `yaml:"history" env:"AUTH_PASSWORD_HISTORY" env-default:"6"`
}

type LockoutConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"AUTH_MAX_LOGIN_ATTEMPTS" env-default:"5"`
	LockDuration time.Duration `yaml:"lock_duration" env:"AUTH_LOCK_DURATION" env-default:"15m"`
}

type MFAConfig struct {
	Issuer     string `yaml:"issuer" env:"AUTH_MFA_ISSUER" env-default:"Stockroom"`
	SecretSize uint   `yaml:"secret_size" env:"AUTH_MFA_SECRET_SIZE" env-default:"20"`
}

type RolesConfig struct {
	BypassRole  string `yaml:"bypass_role" env:"AUTH_BYPASS_ROLE" env-default:"super_admin"`
	DefaultRole string `yaml:"default_role" env:"AUTH_DEFAULT_ROLE" env-default:"vendedor"`
}

type BootstrapConfig struct {
	// Token enables POST /v1/bootstrap.
	Token         string `yaml:"token" env:"BOOTSTRAP_TOKEN"`
	AdminUsername string `yaml:"admin_username" env:"BOOTSTRAP_ADMIN_USERNAME"`
	AdminEmail    string `yaml:"admin_email" env:"BOOTSTRAP_ADMIN_EMAIL"`
	AdminPassword string `yaml:"admin_password" env:"BOOTSTRAP_ADMIN_PASSWORD"`
}

// FromEnv is true when an administrator is configured for startup seeding.
func (b BootstrapConfig) FromEnv() bool {
	return b.AdminUsername != "" && b.AdminEmail != "" && b.AdminPassword != ""
}

type HousekeepingConfig struct {
	Interval              time.Duration `yaml:"interval" env:"HOUSEKEEPING_INTERVAL" env-default:"1h"`
	LoginAttemptRetention time.Duration `yaml:"login_attempt_retention" env:"AUTH_LOGIN_ATTEMPT_RETENTION" env-default:"0s"`
}

// LoadConfig reads AUTH_CONFIG_FILE when set, then lets the environment
// override it.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("AUTH_CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.File == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_FILE is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	switch c.Keys.Algorithm {
	case "EdDSA", "ES256":
	default:
		errs = append(errs, fmt.Errorf("unsupported algorithm %q", c.Keys.Algorithm))
	}
	switch c.Keys.StorageMode {
	case keyModeEphemeral:
	case keyModePersistent:
		if c.Keys.MasterKeyPath == "" {
			errs = append(errs, errors.New("AUTH_MASTER_KEY_PATH is required for persistent keys"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown key storage mode %q", c.Keys.StorageMode))
	}
	if c.Keys.Issuer == "" {
		errs = append(errs, errors.New("AUTH_ISSUER must not be empty"))
	}

	switch c.Passwords.Hasher {
	case "argon2id", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("unknown password hasher %q", c.Passwords.Hasher))
	}
	if c.Passwords.MaxAge < 0 {
		errs = append(errs, errors.New("AUTH_PASSWORD_MAX_AGE must not be negative"))
	}

	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.MFA.SecretSize < 20 {
		errs = append(errs, fmt.Errorf("AUTH_MFA_SECRET_SIZE %d is below 20 bytes", c.MFA.SecretSize))
	}
	if c.Lockout.MaxAttempts <= 0 || c.Lockout.LockDuration <= 0 {
		errs = append(errs, errors.New("lockout threshold and duration must be positive"))
	}
	if c.Roles.BypassRole == "" {
		errs = append(errs, errors.New("AUTH_BYPASS_ROLE must not be empty"))
	}

	return errors.Join(errs...)
}

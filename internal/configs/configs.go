/*
Package configs is responsible for loading and parsing the application's configuration settings.

Settings come from environment variables. A .env file in the working
directory, when present, is loaded first and never overrides variables that
are already set.
*/
package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"medimart/internal/app/user"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

const (
	EnvDevelopment = "development"

	defaultPort          = 8080
	defaultMongoDatabase = "medimart"
	devJWTSecret         = "your_default_insecure_secret_key_change_me"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string
	JWTSecret      string

	// Store Settings
	StoreDriver   string
	DatabaseDSN   string
	MongoURI      string
	MongoDatabase string

	// NATSURL enables the cross-process push relay when set.
	NATSURL string

	// PresenceRoles are the roles whose online lists are broadcast over websockets.
	PresenceRoles []user.Role

	// S3 Storage Settings. Avatar uploads are disabled when S3BucketName is empty.
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicBaseURL   string
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// StorageEnabled reports whether S3 settings were provided.
func (c *AppConfig) StorageEnabled() bool {
	return c.S3BucketName != ""
}

// LoadConfig reads .env (if any) and then the process environment.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return load(os.Getenv)
}

func load(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}

	cfg.Port = defaultPort
	if portStr := getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
		}
		cfg.Port = port
	}
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = splitList(getenv("ALLOWED_ORIGINS"))

	cfg.JWTSecret = getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in %s environment for security", cfg.Environment)
		}
		cfg.JWTSecret = devJWTSecret
	}

	// --- Store Settings ---
	cfg.DatabaseDSN = getenv("DATABASE_URL")
	cfg.MongoURI = getenv("MONGO_URI")
	cfg.MongoDatabase = getenv("MONGO_DATABASE")
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = defaultMongoDatabase
	}

	cfg.StoreDriver = strings.ToLower(getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		switch {
		case cfg.DatabaseDSN != "":
			cfg.StoreDriver = StoreDriverPostgres
		case cfg.MongoURI != "":
			cfg.StoreDriver = StoreDriverMongo
		case cfg.IsDevelopment():
			cfg.StoreDriver = StoreDriverMemory
		default:
			return nil, fmt.Errorf("STORE_DRIVER or DATABASE_URL is required in %s environment", cfg.Environment)
		}
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("DATABASE_URL environment variable is required for the postgres store")
		}
	case StoreDriverMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGO_URI environment variable is required for the mongo store")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q (want postgres, mongo or memory)", cfg.StoreDriver)
	}

	cfg.NATSURL = getenv("NATS_URL")

	// --- Presence Settings ---
	rawRoles := splitList(getenv("PRESENCE_ROLES"))
	if len(rawRoles) == 0 {
		rawRoles = []string{string(user.RoleDoctor)}
	}
	for _, raw := range rawRoles {
		role, err := user.ParseRole(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid PRESENCE_ROLES entry %q: %w", raw, err)
		}
		cfg.PresenceRoles = append(cfg.PresenceRoles, role)
	}

	// --- S3 Storage Settings ---
	cfg.S3BucketName = getenv("S3_BUCKET_NAME")
	cfg.S3Endpoint = getenv("S3_ENDPOINT")
	cfg.S3AccessKeyID = getenv("S3_ACCESS_KEY_ID")
	cfg.S3SecretAccessKey = getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3PublicBaseURL = getenv("S3_PUBLIC_BASE_URL")

	if cfg.StorageEnabled() {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET_NAME is set")
		}
		if cfg.S3Endpoint == "" && cfg.S3PublicBaseURL == "" {
			return nil, errors.New("S3_ENDPOINT or S3_PUBLIC_BASE_URL is required when S3_BUCKET_NAME is set")
		}
	}

	return cfg, nil
}

func splitList(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

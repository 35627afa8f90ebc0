package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	GCS       GCSConfig       `yaml:"gcs"`
	Minio     MinioConfig     `yaml:"minio"`
	Gotenberg GotenbergConfig `yaml:"gotenberg"`
	Redis     RedisConfig     `yaml:"redis"`
	Letter    LetterConfig    `yaml:"letter"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port         string   `yaml:"port"`
	Environment  string   `yaml:"environment"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
}

// StorageConfig selects where templates and generated letters live.
// Backend is one of local, gcs or minio.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	LocalDir   string `yaml:"local_dir"`
	ScratchDir string `yaml:"scratch_dir"`
	UploadsDir string `yaml:"uploads_dir"`
}

type GCSConfig struct {
	BucketName      string `yaml:"bucket_name"`
	ProjectID       string `yaml:"project_id"`
	CredentialsPath string `yaml:"credentials_path"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type GotenbergConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	Prefix       string `yaml:"prefix"`
	VerifyLimit  int    `yaml:"verify_limit"`
	VerifyWindow string `yaml:"verify_window"`
}

type LetterConfig struct {
	OrgCode           string `yaml:"org_code"`
	LetterType        string `yaml:"letter_type"`
	FrontendBaseURL   string `yaml:"frontend_base_url"`
	DefaultTemplateID string `yaml:"default_template_id"`
	FieldAliasesFile  string `yaml:"field_aliases_file"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (d *DatabaseConfig) DSN() string {
	// Cloud SQL Unix socket support
	if len(d.Host) > 0 && d.Host[0] == '/' {
		return fmt.Sprintf("%s:%s@unix(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

func (g GotenbergConfig) TimeoutDuration() time.Duration {
	return parseDuration(g.Timeout, 60*time.Second)
}

func (r RedisConfig) Window() time.Duration {
	return parseDuration(r.VerifyWindow, time.Minute)
}

// Load reads .env (optional), the process environment, and finally the YAML
// file named by CONFIG_FILE. Keys present in the YAML file win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			AllowOrigins: parseAllowOrigins(),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "srl_gen"),
		},
		Storage: StorageConfig{
			Backend:    getEnv("STORAGE_BACKEND", "local"),
			LocalDir:   getEnv("STORAGE_LOCAL_DIR", "data"),
			ScratchDir: getEnv("SCRATCH_DIR", "tmp"),
			UploadsDir: getEnv("UPLOADS_DIR", "uploads"),
		},
		GCS: GCSConfig{
			BucketName:      getEnv("GCS_BUCKET_NAME", ""),
			ProjectID:       getEnv("GOOGLE_CLOUD_PROJECT", ""),
			CredentialsPath: getEnv("GCS_CREDENTIALS_PATH", ""),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "letters"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Gotenberg: GotenbergConfig{
			URL:     getEnv("GOTENBERG_URL", "http://localhost:3000"),
			Timeout: getEnv("GOTENBERG_TIMEOUT", "60s"),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			Prefix:       getEnv("REDIS_PREFIX", "srl:verify"),
			VerifyLimit:  getEnvInt("VERIFY_RATE_LIMIT", 30),
			VerifyWindow: getEnv("VERIFY_RATE_WINDOW", "1m"),
		},
		Letter: LetterConfig{
			OrgCode:           getEnv("LETTER_ORG_CODE", "ORG"),
			LetterType:        getEnv("LETTER_TYPE", "rekomendasi_beasiswa"),
			FrontendBaseURL:   strings.TrimRight(getEnv("FRONTEND_BASE_URL", "http://localhost:3000"), "/"),
			DefaultTemplateID: getEnv("DEFAULT_TEMPLATE_ID", "rekomendasi"),
			FieldAliasesFile:  getEnv("FIELD_ALIASES_FILE", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Letter.FrontendBaseURL = strings.TrimRight(c.Letter.FrontendBaseURL, "/")
	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local", "gcs", "minio":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Letter.OrgCode == "" || strings.Contains(c.Letter.OrgCode, "/") {
		return errors.New("letter org code must be non-empty and must not contain '/'")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// parseAllowOrigins returns nil when ALLOW_ORIGINS is unset, which the
// router treats as allowing every origin.
func parseAllowOrigins() []string {
	var allowOrigins []string
	for _, origin := range strings.Split(os.Getenv("ALLOW_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowOrigins = append(allowOrigins, trimmed)
		}
	}
	return allowOrigins
}

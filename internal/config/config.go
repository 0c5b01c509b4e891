package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQL  = "sql"
	BackendREST = "rest"
)

type Config struct {
	Port string `yaml:"port"`

	// Backend picks the remote adapter: the self-hosted SQL database or the
	// hosted REST service.
	Backend      string        `yaml:"backend"`
	DBDriver     string        `yaml:"db_driver"`
	DBDSN        string        `yaml:"db_dsn"`
	MediaDir     string        `yaml:"media_dir"`
	MediaBaseURL string        `yaml:"media_base_url"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	RemoteURL    string        `yaml:"remote_url"`
	AnonKey      string        `yaml:"anon_key"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`

	LocalStore string `yaml:"local_store"`
	RedisAddr  string `yaml:"redis_addr"`

	StaleTime       time.Duration `yaml:"stale_time"`
	GCTime          time.Duration `yaml:"gc_time"`
	// Retry is the number of extra attempts for failed reads; -1 disables.
	Retry           int           `yaml:"retry"`
	RefetchInterval time.Duration `yaml:"refetch_interval"`
	PageSize        int           `yaml:"page_size"`
	SearchDebounce  time.Duration `yaml:"search_debounce"`
	DefaultTenant   int64         `yaml:"default_tenant"`

	LogFile string `yaml:"log_file"`
}

func defaults() Config {
	return Config{
		Port:           "8080",
		Backend:        BackendSQL,
		DBDriver:       "sqlite",
		DBDSN:          "sonar.db",
		MediaDir:       "./media",
		MediaBaseURL:   "http://localhost:8080/media",
		SessionTTL:     time.Hour,
		HTTPTimeout:    10 * time.Second,
		LocalStore:     "sonar-local.db",
		StaleTime:      5 * time.Minute,
		GCTime:         10 * time.Minute,
		Retry:          2,
		SearchDebounce: 500 * time.Millisecond,
		DefaultTenant:  1,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (SONAR_CONFIG when path is empty, skipped when both are empty), then the
// environment.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("SONAR_CONFIG")
	}
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	log.Printf("[config] PORT=%s BACKEND=%s DB_DRIVER=%s MEDIA_DIR=%s LOCAL_STORE=%s REDIS_ADDR=%s LOG_FILE=%s",
		cfg.Port, cfg.Backend, cfg.DBDriver, cfg.MediaDir, cfg.LocalStore, cfg.RedisAddr, cfg.LogFile)
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var err error
	dur := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" || err != nil {
			return
		}
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("%s: %w", key, perr)
			return
		}
		*dst = n
	}

	str("PORT", &c.Port)
	str("SONAR_BACKEND", &c.Backend)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_DSN", &c.DBDSN)
	str("MEDIA_DIR", &c.MediaDir)
	str("MEDIA_BASE_URL", &c.MediaBaseURL)
	dur("SESSION_TTL", &c.SessionTTL)
	str("SONAR_URL", &c.RemoteURL)
	str("SONAR_ANON_KEY", &c.AnonKey)
	dur("SONAR_HTTP_TIMEOUT", &c.HTTPTimeout)
	str("LOCAL_STORE", &c.LocalStore)
	str("REDIS_ADDR", &c.RedisAddr)
	dur("CACHE_STALE_TIME", &c.StaleTime)
	dur("CACHE_GC_TIME", &c.GCTime)
	num("CACHE_RETRY", &c.Retry)
	dur("CACHE_REFETCH_INTERVAL", &c.RefetchInterval)
	num("PAGE_SIZE", &c.PageSize)
	dur("SEARCH_DEBOUNCE", &c.SearchDebounce)
	str("LOG_FILE", &c.LogFile)
	if v := os.Getenv("DEFAULT_TENANT"); v != "" && err == nil {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			err = fmt.Errorf("DEFAULT_TENANT: %w", perr)
		} else {
			c.DefaultTenant = n
		}
	}
	return err
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	switch c.Backend {
	case BackendSQL:
		if c.DBDriver != "sqlite" && c.DBDriver != "mysql" {
			return fmt.Errorf("invalid DB_DRIVER: %s (must be sqlite or mysql)", c.DBDriver)
		}
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required for the sql backend")
		}
	case BackendREST:
		if c.RemoteURL == "" || c.AnonKey == "" {
			return fmt.Errorf("SONAR_URL and SONAR_ANON_KEY are required for the rest backend")
		}
	default:
		return fmt.Errorf("invalid SONAR_BACKEND: %s (must be sql or rest)", c.Backend)
	}
	if c.LocalStore == "" {
		return fmt.Errorf("LOCAL_STORE is required")
	}
	if c.StaleTime < 0 || c.GCTime < 0 || c.RefetchInterval < 0 {
		return fmt.Errorf("cache durations must not be negative")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("PAGE_SIZE must not be negative")
	}
	return nil
}

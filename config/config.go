package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const keyEnv = "ENV"
const envLocal = "local"

const (
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultSearchTTL       = 5 * time.Minute
	defaultLocationTTL     = 10 * time.Minute
	defaultDebounce        = 300 * time.Millisecond
	defaultMinQueryLength  = 3
	defaultThreshold       = 3
	defaultProviderTimeout = 10 * time.Second
	defaultKVDBPath        = "data/placefinder.db"
	defaultRetention       = 30 * 24 * time.Hour
	defaultSearchEntries   = 10000
)

var defaultKeywords = []string{"clinic", "hospital", "medical", "health", "care"}

type Config struct {
	config *viper.Viper
}

func Load(env string) (*Config, error) {

	if len(env) == 0 {
		if env = os.Getenv(keyEnv); len(env) == 0 {
			env = envLocal
		}
	}

	configPath, err := getConfigPath(env)

	viperConfig := viper.New()
	if err == nil {
		viperConfig.SetConfigFile(configPath)
		if err := viperConfig.ReadInConfig(); err != nil {
			slog.Warn(fmt.Sprintf("error reading config file, %s", err))
		}
	}
	viperConfig.AutomaticEnv()

	cfg := &Config{
		config: viperConfig,
	}

	return cfg, nil
}

// Set overrides a config key, mainly for tests.
func (c *Config) Set(key string, value any) {
	c.config.Set(key, value)
}

func (c *Config) GetPort() string {
	return c.getString("PORT", "server.port", defaultPort)
}

func (c *Config) GetLogLevel() string {
	return c.getString("LOG_LEVEL", "log.level", defaultLogLevel)
}

func (c *Config) GetKVDBPath() string {
	return c.getString("KVDB_PATH", "database.kvdb_path", defaultKVDBPath)
}

// GetLocationRetention is how long a remembered session location is kept on disk.
func (c *Config) GetLocationRetention() time.Duration {
	return c.getDuration("LOCATION_RETENTION", "database.location_retention", defaultRetention)
}

func (c *Config) GetSearchTTL() time.Duration {
	return c.getDuration("SEARCH_TTL", "cache.search_ttl", defaultSearchTTL)
}

// GetSearchMaxEntries caps the in-memory search cache.
func (c *Config) GetSearchMaxEntries() int {
	return c.getInt("SEARCH_MAX_ENTRIES", "cache.search_max_entries", defaultSearchEntries)
}

func (c *Config) GetLocationTTL() time.Duration {
	return c.getDuration("LOCATION_TTL", "cache.location_ttl", defaultLocationTTL)
}

// GetRedisAddr is empty when the search cache should stay in memory.
func (c *Config) GetRedisAddr() string {
	return c.getString("REDIS_ADDR", "cache.redis_addr", "")
}

func (c *Config) GetDebounce() time.Duration {
	return c.getDuration("SEARCH_DEBOUNCE", "search.debounce", defaultDebounce)
}

func (c *Config) GetMinQueryLength() int {
	return c.getInt("SEARCH_MIN_QUERY_LENGTH", "search.min_query_length", defaultMinQueryLength)
}

func (c *Config) GetCountry() string {
	return c.getString("SEARCH_COUNTRY", "search.country", "")
}

func (c *Config) GetEstablishmentRegion() string {
	return c.getString("ESTABLISHMENT_REGION", "establishment.region", "")
}

func (c *Config) GetEstablishmentThreshold() int {
	return c.getInt("ESTABLISHMENT_THRESHOLD", "establishment.threshold", defaultThreshold)
}

// GetEstablishmentKeywords reads a comma separated env var or a yaml list.
func (c *Config) GetEstablishmentKeywords() []string {
	var keywords []string
	if raw := c.config.GetString("ESTABLISHMENT_KEYWORDS"); len(raw) > 0 {
		keywords = strings.Split(raw, ",")
	} else {
		keywords = c.config.GetStringSlice("establishment.keywords")
	}

	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
			cleaned = append(cleaned, keyword)
		}
	}
	if len(cleaned) == 0 {
		return append([]string(nil), defaultKeywords...)
	}
	return cleaned
}

func (c *Config) GetPlacesBaseURL() string {
	return c.getString("PLACES_BASE_URL", "provider.places_base_url", "")
}

func (c *Config) GetPlacesAPIKey() string {
	return c.getString("PLACES_API_KEY", "provider.places_api_key", "")
}

func (c *Config) GetGeocodeBaseURL() string {
	return c.getString("GEOCODE_BASE_URL", "provider.geocode_base_url", "")
}

func (c *Config) GetProviderTimeout() time.Duration {
	return c.getDuration("PROVIDER_TIMEOUT", "provider.timeout", defaultProviderTimeout)
}

func (c *Config) GetOfflineFallback() bool {
	if c.config.IsSet("GEOLOCATION_OFFLINE_FALLBACK") {
		return c.config.GetBool("GEOLOCATION_OFFLINE_FALLBACK")
	}
	return c.config.GetBool("geolocation.offline_fallback")
}

func (c *Config) getString(envKey, key, fallback string) string {
	value := c.config.GetString(envKey)
	if len(value) == 0 {
		value = c.config.GetString(key)
	}
	if len(value) == 0 {
		value = fallback
	}

	return value
}

func (c *Config) getDuration(envKey, key string, fallback time.Duration) time.Duration {
	value := c.config.GetDuration(envKey)
	if value <= 0 {
		value = c.config.GetDuration(key)
	}
	if value <= 0 {
		value = fallback
	}

	return value
}

func (c *Config) getInt(envKey, key string, fallback int) int {
	value := c.config.GetInt(envKey)
	if value <= 0 {
		value = c.config.GetInt(key)
	}
	if value <= 0 {
		value = fallback
	}

	return value
}

func getProjectRoot() (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	for {
		configDir := filepath.Join(currentDir, "config")
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			return currentDir, nil
		}

		parent := filepath.Dir(currentDir)

		if parent == currentDir {
			break
		}

		currentDir = parent
	}

	return "", fmt.Errorf("could not find project root (directory containing 'config' folder)")
}

func getConfigPath(env string) (string, error) {
	configFile := fmt.Sprintf("config.%s.yaml", env)

	projectRoot, err := getProjectRoot()
	if err != nil {
		slog.Warn("failed to find project root with config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("failed to find project root: %w", err)
	}
	configPath := filepath.Join(projectRoot, "config", configFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		slog.Warn("failed to find config file within config directory, will use environment variables instead", "err", err.Error())
		return "", fmt.Errorf("config file does not exist: %s", configPath)
	}

	return configPath, nil
}

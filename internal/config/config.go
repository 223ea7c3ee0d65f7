package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	DataDir     string
	DatabaseURL string // empty disables the MySQL archive
	Timezone    string

	// Agmarknet sources
	AgmarknetAPIURL    string
	AgmarknetAPIKey    string
	AgmarknetScrapeURL string
	FetchTimeout       time.Duration

	// Reconciliation
	RefreshAnchorDay       time.Weekday
	RefreshCheckInterval   time.Duration
	RefreshStates          []string
	AllowSyntheticFallback bool
	SchedulerEnabled       bool
	RetentionDays          int

	// Cache
	CacheCapacity int
	CacheTTL      time.Duration

	// Popular commodities
	PopularTopN         int
	PopularLookbackDays int
	PopularMaxAge       time.Duration

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DataDir:     getEnv("DATA_DIR", "data"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Timezone:    getEnv("TIMEZONE", "Asia/Kolkata"),

		AgmarknetAPIURL:    getEnv("AGMARKNET_API_URL", "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"),
		AgmarknetAPIKey:    getEnv("AGMARKNET_API_KEY", ""),
		AgmarknetScrapeURL: getEnv("AGMARKNET_SCRAPE_URL", ""),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 30*time.Second),

		RefreshAnchorDay:       getEnvWeekday("REFRESH_ANCHOR_DAY", time.Sunday),
		RefreshCheckInterval:   getEnvDuration("REFRESH_CHECK_INTERVAL", time.Hour),
		RefreshStates:          getEnvList("REFRESH_STATES"),
		AllowSyntheticFallback: getEnvBool("ALLOW_SYNTHETIC_FALLBACK", false),
		SchedulerEnabled:       getEnvBool("SCHEDULER_ENABLED", false),
		RetentionDays:          getEnvInt("RETENTION_DAYS", 30),

		CacheCapacity: getEnvInt("CACHE_CAPACITY", 200),
		CacheTTL:      time.Duration(getEnvInt("CACHE_TTL_MINUTES", 60)) * time.Minute,

		PopularTopN:         getEnvInt("POPULAR_TOP_N", 10),
		PopularLookbackDays: getEnvInt("POPULAR_LOOKBACK_DAYS", 7),
		PopularMaxAge:       getEnvDuration("POPULAR_MAX_AGE", 24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Location resolves Timezone, falling back to IST.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+1800)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func getEnvWeekday(key string, defaultValue time.Weekday) time.Weekday {
	if d, ok := weekdays[strings.ToLower(strings.TrimSpace(os.Getenv(key)))]; ok {
		return d
	}
	return defaultValue
}

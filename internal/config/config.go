package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server + Jellyfin + scheduler settings.
// Load from env and/or a .env file (see LoadEnvFile).
type Config struct {
	// HTTP server
	Host      string // bind host, e.g. 0.0.0.0
	Port      int    // bind port, e.g. 8000
	PublicURL string // base URL reachable from the media server; used in M3U/XMLTV links

	// Media server (Jellyfin)
	MediaServerURL    string // e.g. http://jellyfin:8096
	MediaServerAPIKey string
	MediaServerUserID string // empty = auto-discover from the first user

	// Streaming
	PreferredAudioLanguage string // ISO 639 code tried first per programme, e.g. "eng"
	MediaPathMap           string // single "jfPrefix:localPrefix" rewrite rule

	// Scheduler / maintainer
	LowWaterHours     int // extend a channel when less than this many hours remain
	ExtendDays        int // days generated per maintenance pass
	MaintainerHourUTC int // daily fire hour (UTC)

	// Storage
	DatabaseURL string // sqlite path; "sqlite://" prefix accepted and stripped

	// Logging
	LogDir string // rotating JSON log directory; "" = console only
	Debug  bool
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load()
// to use a .env file.
func Load() *Config {
	return &Config{
		Host:                   getEnv("HOST", "0.0.0.0"),
		Port:                   getEnvInt("PORT", 8000),
		PublicURL:              strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/"),
		MediaServerURL:         strings.TrimSuffix(os.Getenv("MEDIA_SERVER_URL"), "/"),
		MediaServerAPIKey:      os.Getenv("MEDIA_SERVER_API_KEY"),
		MediaServerUserID:      os.Getenv("MEDIA_SERVER_USER_ID"),
		PreferredAudioLanguage: getEnv("PREFERRED_AUDIO_LANGUAGE", "eng"),
		MediaPathMap:           os.Getenv("MEDIA_PATH_MAP"),
		LowWaterHours:          getEnvInt("SCHEDULER_LOW_WATER_HOURS", 48),
		ExtendDays:             getEnvInt("SCHEDULER_EXTEND_DAYS", 7),
		MaintainerHourUTC:      getEnvInt("SCHEDULER_MAINTENANCE_HOUR_UTC", 2),
		DatabaseURL:            getEnv("DATABASE_URL", "./data/jellystream.db"),
		LogDir:                 getEnv("LOG_DIR", "./logs"),
		Debug:                  getEnvBool("DEBUG", false),
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatabasePath returns the on-disk sqlite path with any URL scheme stripped.
func (c *Config) DatabasePath() string {
	p := c.DatabaseURL
	for _, prefix := range []string{"sqlite:///", "sqlite://", "sqlite:"} {
		if strings.HasPrefix(p, prefix) {
			return strings.TrimPrefix(p, prefix)
		}
	}
	return p
}

// PublicBase returns PublicURL if set, otherwise a URL built from Host:Port.
// PublicURL should never point at localhost when the media server runs on
// another machine; main logs a warning in that case.
func (c *Config) PublicBase() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// Validate checks the settings a serving process cannot run without.
// Returns an error before the listener binds so main can exit non-zero.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.MediaServerURL == "" {
		return fmt.Errorf("MEDIA_SERVER_URL is required")
	}
	if u, err := url.Parse(c.MediaServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("MEDIA_SERVER_URL must be an http(s) URL: %q", c.MediaServerURL)
	}
	if c.MediaServerAPIKey == "" {
		return fmt.Errorf("MEDIA_SERVER_API_KEY is required")
	}
	if c.LowWaterHours <= 0 {
		return fmt.Errorf("SCHEDULER_LOW_WATER_HOURS must be positive: %d", c.LowWaterHours)
	}
	if c.ExtendDays <= 0 {
		return fmt.Errorf("SCHEDULER_EXTEND_DAYS must be positive: %d", c.ExtendDays)
	}
	if c.MaintainerHourUTC < 0 || c.MaintainerHourUTC > 23 {
		return fmt.Errorf("SCHEDULER_MAINTENANCE_HOUR_UTC out of range: %d", c.MaintainerHourUTC)
	}
	return nil
}

// LowWater returns the maintainer threshold as a duration.
func (c *Config) LowWater() time.Duration {
	return time.Duration(c.LowWaterHours) * time.Hour
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

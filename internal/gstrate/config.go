package gstrate

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	CachePath     string
	RemoteBaseURL string
	FetchTimeout  time.Duration
	PersistCache  bool
}

func LoadConfig() Config {
	return Config{
		CachePath:     getenv("GST_RATE_CACHE_PATH", "data/local_cache/hsn_gst_map.json"),
		RemoteBaseURL: getenv("GST_RATE_REMOTE_URL", "https://rates.example.com/hsn"),
		FetchTimeout:  getDuration("GST_RATE_FETCH_TIMEOUT", 10*time.Second),
		PersistCache:  getBool("GST_RATE_PERSIST_CACHE", true),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

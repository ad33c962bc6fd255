package pipeline

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	APIKey          string
	MaxParallelJobs int
	RateLimit       int
	BatchRateLimit  int
	RateWindow      time.Duration
	SignURLTTL      time.Duration
	ArtifactPrefix  string
}

func LoadConfig() Config {
	return Config{
		APIKey:          getenv("API_KEY", ""),
		MaxParallelJobs: getInt("MAX_PARALLEL_JOBS", 4),
		RateLimit:       getInt("RATE_LIMIT", 60),
		BatchRateLimit:  getInt("BATCH_RATE_LIMIT", 10),
		RateWindow:      getDuration("RATE_WINDOW", time.Minute),
		SignURLTTL:      getDuration("SIGN_URL_TTL", 10*time.Minute),
		ArtifactPrefix:  getenv("ARTIFACT_PREFIX", "gst-recon"),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
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

package catalog

import "os"

type Config struct {
	Path string
}

func LoadConfig() Config {
	return Config{
		Path: getenv("MASTER_CATALOG_PATH", "data/master_catalog.json"),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

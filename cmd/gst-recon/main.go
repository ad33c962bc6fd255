package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/yourorg/gstrecon/apps/api/internal/catalog"
	"github.com/yourorg/gstrecon/apps/api/internal/gstrate"
	"github.com/yourorg/gstrecon/apps/api/internal/pipeline"
	"github.com/yourorg/gstrecon/apps/api/internal/reconcile"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rateCfg := gstrate.LoadConfig()
	table, err := gstrate.LoadTable(rateCfg.CachePath)
	if err != nil {
		logger.Error("rate cache unreadable", "path", rateCfg.CachePath, "error", err)
		os.Exit(1)
	}
	var remote gstrate.RemoteSource
	if rateCfg.RemoteBaseURL != "" {
		remote = gstrate.NewHTTPSource(rateCfg.RemoteBaseURL)
	}
	resolver := gstrate.NewResolver(rateCfg, table, remote, logger)

	engine := reconcile.NewEngine(reconcile.LoadConfig(), resolver, logger)

	catalogCfg := catalog.LoadConfig()
	master, err := catalog.Load(catalogCfg.Path)
	if err != nil {
		logger.Error("master catalog unreadable", "path", catalogCfg.Path, "error", err)
		os.Exit(1)
	}

	pipeCfg := pipeline.LoadConfig()
	storage := pipeline.NewInMemoryStorage()
	runner := pipeline.NewRunner(engine, master, pipeCfg, storage, logger)
	audit := pipeline.NewMemoryAuditRecorder()
	svc := pipeline.NewService(pipeCfg, runner, pipeline.NewBatchStore(), audit, logger)

	addr := ":" + envOr("PORT", "8080")
	logger.Info("gst-recon api listening", "addr", addr, "rateCacheEntries", resolver.CacheSize(), "catalogEntries", master.Len())
	if err := http.ListenAndServe(addr, svc.Routes()); err != nil {
		logger.Error("server stopped", "error", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package cmd

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/rastertiled/internal/arbiter"
	"github.com/MeKo-Tech/rastertiled/internal/cachestore"
	"github.com/MeKo-Tech/rastertiled/internal/config"
	"github.com/MeKo-Tech/rastertiled/internal/rastercache"
	"github.com/MeKo-Tech/rastertiled/internal/renderer"
	"github.com/MeKo-Tech/rastertiled/internal/rendererworker"
	"github.com/MeKo-Tech/rastertiled/internal/resource"
	"github.com/MeKo-Tech/rastertiled/internal/server"
	"github.com/MeKo-Tech/rastertiled/internal/stats"
	"github.com/MeKo-Tech/rastertiled/internal/tileid"
	"github.com/MeKo-Tech/rastertiled/internal/tileloader"
	"github.com/MeKo-Tech/rastertiled/internal/vectorsource"
)

func init() {
	flags := rootCmd.Flags()

	flags.StringP("style", "s", "", "Path or URL to the vector style (required)")
	flags.IntP("tile-size", "z", 512, "Raster tile size in pixels: 256 or 512")
	flags.IntP("port", "p", 11000, "Listen port")
	flags.StringP("bind", "b", "0.0.0.0", "Listen address")
	flags.IntP("server-threads", "t", 1, "Number of server worker threads (<=0 means CPU count); accepted but unused: net/http serves each connection on its own goroutine")
	flags.IntP("render-threads", "T", 4, "Number of RendererWorker instances")
	flags.StringP("raster-cache", "r", "raster.cache", "Raster cache store path")
	flags.Int64P("raster-cache-limit", "R", 1024, "Raster cache size limit, MiB")
	flags.StringP("vector-cache", "v", "vector.cache", "Vector/upstream cache store path")
	flags.Int64P("vector-cache-limit", "V", 1024, "Vector cache size limit, MiB")
	flags.StringP("asset-root", "a", ".", "Root directory for asset:// style/sprite/glyph resources")
	flags.StringP("name", "n", "Raster Render Server", "Server name reported by /stats")
	flags.String("metrics-addr", "", "Prometheus /metrics listen address (disabled if empty)")

	mustBind := func(name string) {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	for _, name := range []string{
		"style", "tile-size", "port", "bind", "server-threads", "render-threads",
		"raster-cache", "raster-cache-limit", "vector-cache", "vector-cache-limit",
		"asset-root", "name", "metrics-addr",
	} {
		mustBind(name)
	}
}

func loadConfig() config.Config {
	cfg := config.Default()
	cfg.StyleURL = viper.GetString("style")
	cfg.TileSize = viper.GetInt("tile-size")
	cfg.Port = viper.GetInt("port")
	cfg.Bind = viper.GetString("bind")
	cfg.ServerThreads = viper.GetInt("server-threads")
	cfg.RenderThreads = viper.GetInt("render-threads")
	cfg.RasterCachePath = viper.GetString("raster-cache")
	cfg.RasterCacheLimitMiB = viper.GetInt64("raster-cache-limit")
	cfg.VectorCachePath = viper.GetString("vector-cache")
	cfg.VectorCacheLimitMiB = viper.GetInt64("vector-cache-limit")
	cfg.AssetRoot = viper.GetString("asset-root")
	cfg.ServerName = viper.GetString("name")
	cfg.MetricsAddr = viper.GetString("metrics-addr")
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	rasterStore, err := cachestore.Open(cachestore.Config{
		Path:      cfg.RasterCachePath,
		SizeLimit: cfg.RasterCacheLimitMiB * 1024 * 1024,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("open raster cache: %w", err)
	}
	defer rasterStore.Close()

	vectorStore, err := cachestore.Open(cachestore.Config{
		Path:      cfg.VectorCachePath,
		SizeLimit: cfg.VectorCacheLimitMiB * 1024 * 1024,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("open vector cache: %w", err)
	}
	defer vectorStore.Close()

	vs := vectorsource.New(vectorStore, vectorsource.Config{AssetRoot: cfg.AssetRoot, Logger: logger})
	defer vs.Stop()

	stylePath, err := resolveStyleFile(vs, cfg.StyleURL)
	if err != nil {
		return fmt.Errorf("resolve style: %w", err)
	}

	rc := rastercache.New(rasterStore)

	arb := arbiter.New()
	statsAgg := stats.NewAggregator(cfg.ServerName)

	workers := make([]*rendererworker.Worker, cfg.RenderThreads)
	for i := 0; i < cfg.RenderThreads; i++ {
		name := fmt.Sprintf("worker-%d", i)
		mr, err := renderer.NewMapnikRenderer(stylePath, cfg.TileSize)
		if err != nil {
			return fmt.Errorf("init renderer worker %s: %w", name, err)
		}
		workers[i] = rendererworker.New(name, mr, arb, statsAgg.Register(name), cfg.TileSize)
	}
	defer func() {
		for _, w := range workers {
			_ = w.Close()
		}
	}()

	pick := func(id tileid.TileId) *rendererworker.Worker {
		h := fnv.New32a()
		_, _ = h.Write([]byte(id.CacheKey()))
		return workers[int(h.Sum32())%len(workers)]
	}

	loader := tileloader.New(rc, pick)

	handler := server.New(loader, statsAgg, server.Config{Logger: logger})

	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "style", cfg.StyleURL, "tile_size", cfg.TileSize, "render_threads", cfg.RenderThreads)
		serveErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}

	return nil
}

// resolveStyleFile returns a local filesystem path Mapnik can load. A bare
// path (no "://") is assumed to already be local. Anything else (http(s)://,
// asset://, file://) is resolved through the vector FileSource and written
// to a temp file, per spec.md §9's open question on non-URL style inputs:
// this implementation treats a schemeless value as a local path and defers
// every URL-shaped value to the FileSource, asset:// included.
func resolveStyleFile(vs *vectorsource.VectorSource, styleURL string) (string, error) {
	if !strings.Contains(styleURL, "://") {
		return styleURL, nil
	}

	key := resource.Key{Kind: resource.Style, URL: styleURL}
	done := make(chan cachestore.CachedResponse, 1)
	vs.Request(context.Background(), key, func(r cachestore.CachedResponse) { done <- r })

	resp := <-done
	if resp.Error != nil {
		return "", fmt.Errorf("fetch style %s: %s", styleURL, resp.Error.Message)
	}

	tmp, err := os.CreateTemp("", "rastertiled-style-*.xml")
	if err != nil {
		return "", fmt.Errorf("create temp style file: %w", err)
	}
	defer tmp.Close()

	if _, err := tmp.Write(resp.Data); err != nil {
		return "", fmt.Errorf("write temp style file: %w", err)
	}
	return tmp.Name(), nil
}

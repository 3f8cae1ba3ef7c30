// Package server implements the request handler (component J): routes
// /<name>/<z>/<x>/<y>[.ext] and /<name>?x=&y=&z= tile requests plus any path
// containing "/stats" to the StatsAggregator, mapping TileLoader outcomes to
// HTTP status per spec.md §7's error taxonomy. Grounded on the teacher's
// OnDemandTiles.Handler()/StatusHandler() dispatch and withCORS middleware
// in internal/server/ondemand_tiles.go and internal/cmd/serve.go.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/rastertiled/internal/metrics"
	"github.com/MeKo-Tech/rastertiled/internal/stats"
	"github.com/MeKo-Tech/rastertiled/internal/tileid"
	"github.com/MeKo-Tech/rastertiled/internal/tileloader"
)

// Loader is the subset of TileLoader the handler depends on.
type Loader interface {
	Load(ctx context.Context, id tileid.TileId) (tileloader.Tile, error)
}

// Config configures the tile request handler.
type Config struct {
	CacheControl    string
	RequestTimeout  time.Duration
	Logger          *slog.Logger
}

// Handler serves tile and stats requests.
type Handler struct {
	loader Loader
	stats  *stats.Aggregator
	cfg    Config
}

// New creates a Handler.
func New(loader Loader, statsAgg *stats.Aggregator, cfg Config) *Handler {
	if cfg.CacheControl == "" {
		cfg.CacheControl = "public, max-age=86400"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{loader: loader, stats: statsAgg, cfg: cfg}
}

// Mux builds the top-level *http.ServeMux wired with CORS.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", withCORS(http.HandlerFunc(h.route)))
	return mux
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "/stats") {
		h.serveStats(w, r)
		return
	}
	h.serveTile(w, r)
}

func (h *Handler) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	report := h.stats.Snapshot()
	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.log().Error("failed to encode stats", "error", err)
		h.fail(w, r, "stats", http.StatusInternalServerError, "failed to encode stats")
		return
	}
	metrics.RequestsTotal.WithLabelValues("stats", "200").Inc()
}

func (h *Handler) serveTile(w http.ResponseWriter, r *http.Request) {
	id, ok := tileid.Parse(r)
	if !ok {
		h.fail(w, r, "tile", http.StatusNotFound, "Not Found: Bad Tile Address")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	tile, err := h.loader.Load(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.fail(w, r, "tile", http.StatusGatewayTimeout, "render timed out")
			return
		}
		h.log().Error("render failed", "tile", id.CacheKey(), "error", err)
		h.fail(w, r, "tile", http.StatusInternalServerError, "failed to render tile")
		return
	}

	w.Header().Set("Content-Type", id.Format.ContentType())
	w.Header().Set("Cache-Control", h.cfg.CacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(tile.Data); err != nil {
		h.log().Error("failed to write response", "tile", id.CacheKey(), "error", err)
	}
	metrics.RequestsTotal.WithLabelValues("tile", "200").Inc()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, route string, status int, reason string) {
	metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	http.Error(w, reason, status)
}

func (h *Handler) log() *slog.Logger {
	if h.cfg.Logger != nil {
		return h.cfg.Logger
	}
	return slog.Default()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

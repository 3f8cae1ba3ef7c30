// Package config defines the server's typed configuration, populated from
// CLI flags via spf13/cobra and spf13/viper the same way the teacher's
// internal/cmd does, generalized from the watercolor pipeline's flag set to
// the raster-tile server's flag table.
package config

import (
	"fmt"
	"runtime"
)

// Config is the fully-resolved server configuration (component L
// bootstrap input), built from the CLI flag table.
type Config struct {
	StyleURL  string
	TileSize  int
	Port      int
	Bind      string

	ServerThreads int
	RenderThreads int

	RasterCachePath      string
	RasterCacheLimitMiB  int64
	VectorCachePath      string
	VectorCacheLimitMiB  int64

	AssetRoot  string
	ServerName string

	MetricsAddr string
}

// Default returns the flag defaults from spec.md §6, before CLI/env
// overrides are applied.
func Default() Config {
	return Config{
		TileSize:            512,
		Port:                11000,
		Bind:                "0.0.0.0",
		ServerThreads:        1,
		RenderThreads:        4,
		RasterCachePath:      "raster.cache",
		RasterCacheLimitMiB:  1024,
		VectorCachePath:      "vector.cache",
		VectorCacheLimitMiB:  1024,
		AssetRoot:            ".",
		ServerName:           "Raster Render Server",
		MetricsAddr:          "",
	}
}

// Validate checks the invariants the flag table documents; a failure here
// is a ConfigError and must map to exit code 1 (spec.md §7).
func (c Config) Validate() error {
	if c.StyleURL == "" {
		return fmt.Errorf("config: --style is required")
	}
	if c.TileSize != 256 && c.TileSize != 512 {
		return fmt.Errorf("config: --tile-size must be 256 or 512, got %d", c.TileSize)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: --port out of range: %d", c.Port)
	}
	if c.RenderThreads <= 0 {
		return fmt.Errorf("config: --render-threads must be positive, got %d", c.RenderThreads)
	}
	if c.RasterCacheLimitMiB <= 0 {
		return fmt.Errorf("config: --raster-cache-limit must be positive")
	}
	if c.VectorCacheLimitMiB <= 0 {
		return fmt.Errorf("config: --vector-cache-limit must be positive")
	}
	return nil
}

// ResolvedServerThreads applies the "--server-threads <= 0 means CPU count"
// rule.
func (c Config) ResolvedServerThreads() int {
	if c.ServerThreads <= 0 {
		return runtime.NumCPU()
	}
	return c.ServerThreads
}

// PixelRatio returns the style pixel ratio implied by --tile-size.
func (c Config) PixelRatio() float64 {
	if c.TileSize >= 512 {
		return 2.0
	}
	return 1.0
}

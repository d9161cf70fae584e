package config

import (
	"strings"
	"time"
)

var defaults = map[string]any{
	"logging.level":            "info",
	"logging.format":           "json",
	"logging.output":           "stdout",
	"server.listen_addr":       ":8080",
	"server.metrics_addr":      ":9090",
	"server.public_url":        "",
	"server.shutdown_timeout":  30 * time.Second,
	"server.max_upload_size":   int64(10 << 30),
	"storage.root":             "",
	"storage.active":           "",
	"archive.format":           "tar.gz",
	"archive.chunk_size":       10 << 10,
	"archive.buffer_chunks":    16,
	"archive.level":            0,
	"search.max_depth":         5,
	"search.max_results":       2000,
	"downloads.store":          "badger",
	"downloads.secret":         "",
	"downloads.link_ttl":       30 * time.Second,
	"downloads.purge_interval": 5 * time.Minute,
	"downloads.badger.dir":     "./data/.stardrive/links",
	"downloads.postgres.dsn":   "",
}

// ApplyDefaults normalizes values and fills in the implicit local backend,
// which the defaults table cannot express.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Archive.Format = strings.ToLower(strings.TrimPrefix(cfg.Archive.Format, "."))

	if len(cfg.Storage.Backends) == 0 {
		root := cfg.Storage.Root
		if root == "" {
			root = "./data"
		}
		cfg.Storage.Backends = []BackendConfig{{
			Name: "local",
			Type: "local",
			Options: map[string]any{
				"root_path":   root,
				"create_dirs": true,
			},
		}}
	}
	if cfg.Storage.Active == "" {
		cfg.Storage.Active = cfg.Storage.Backends[0].Name
	}
}

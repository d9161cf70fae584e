package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/stardrive/stardrive/internal/archive"
	"github.com/stardrive/stardrive/internal/downloads"
	"github.com/stardrive/stardrive/internal/retry"
	"github.com/stardrive/stardrive/internal/storage"
	"github.com/stardrive/stardrive/internal/storage/local"
)

// CreateBackend builds a storage backend from its configuration. Search
// limits not set in the backend options come from search.
func CreateBackend(cfg BackendConfig, search SearchConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "local":
		return createLocalBackend(cfg.Options, search)
	default:
		return nil, fmt.Errorf("unknown storage backend type: %q", cfg.Type)
	}
}

func createLocalBackend(options map[string]any, search SearchConfig) (storage.Backend, error) {
	var lc local.Config
	if err := decode(options, &lc); err != nil {
		return nil, fmt.Errorf("failed to decode local backend config: %w", err)
	}
	if err := validate.Struct(lc); err != nil {
		return nil, fmt.Errorf("local backend: %w", formatValidationError(err))
	}
	if lc.MaxSearchDepth == 0 {
		lc.MaxSearchDepth = search.MaxDepth
	}
	if lc.MaxSearchResults == 0 {
		lc.MaxSearchResults = search.MaxResults
	}
	return local.New(lc)
}

// CreateManager registers every configured backend and activates the
// configured one.
func CreateManager(cfg *Config) (*storage.Manager, error) {
	format, err := archive.ParseFormat(cfg.Archive.Format)
	if err != nil {
		return nil, err
	}
	m := storage.NewManager(
		storage.WithArchiveFormat(format),
		storage.WithChunkSize(cfg.Archive.ChunkSize),
		storage.WithBufferChunks(cfg.Archive.BufferChunks),
		storage.WithCompressionLevel(cfg.Archive.Level),
	)

	for _, bc := range cfg.Storage.Backends {
		b, err := CreateBackend(bc, cfg.Search)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("storage backend %q: %w", bc.Name, err)
		}
		if err := m.Register(bc.Name, b); err != nil {
			b.Close()
			m.Close()
			return nil, err
		}
	}
	if err := m.SetActive(cfg.Storage.Active); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// CreateDownloadStore opens the configured download record store.
func CreateDownloadStore(ctx context.Context, cfg *DownloadsConfig) (downloads.Store, error) {
	switch cfg.Store {
	case "badger":
		var bc downloads.BadgerConfig
		if err := decode(cfg.Badger, &bc); err != nil {
			return nil, fmt.Errorf("failed to decode badger store config: %w", err)
		}
		return downloads.OpenBadger(bc)
	case "postgres":
		var pc downloads.PostgresConfig
		if err := decode(cfg.Postgres, &pc); err != nil {
			return nil, fmt.Errorf("failed to decode postgres store config: %w", err)
		}
		var rc retry.Config
		if raw, ok := cfg.Postgres["retry"]; ok {
			if err := decode(raw, &rc); err != nil {
				return nil, fmt.Errorf("failed to decode postgres retry config: %w", err)
			}
		}
		pc.ConnectRetry = rc
		return downloads.OpenPostgres(ctx, pc)
	default:
		return nil, fmt.Errorf("unknown download store type: %q", cfg.Store)
	}
}

// decode maps loosely typed options onto a struct, accepting string
// values for numbers, booleans and durations.
func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

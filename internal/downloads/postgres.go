package downloads

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
	"github.com/stardrive/stardrive/internal/retry"
	"github.com/stardrive/stardrive/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS download_records (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL,
	paths            TEXT[] NOT NULL,
	base_path        TEXT NOT NULL DEFAULT '',
	access_code_hash TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	share_id         TEXT NOT NULL DEFAULT '',
	expires_at       TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS download_records_expires_at_idx ON download_records (expires_at);
`

// PostgresConfig configures the PostgreSQL record store.
type PostgresConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	ConnectRetry retry.Config  `mapstructure:"-"`
	ConnTimeout  time.Duration `mapstructure:"conn_timeout"`
}

// PostgresStore keeps download records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to PostgreSQL, retrying until the server answers,
// and creates the record table.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	rc := cfg.ConnectRetry
	if rc.MaxAttempts == 0 && rc.InitialWait == 0 {
		rc = retry.DefaultConfig()
	}
	timeout := cfg.ConnTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	attempt := 0
	err = retry.Do(ctx, rc, func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logging.Warn("database not ready", logging.Int("attempt", attempt), logging.Err(err))
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the record table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate download_records: %w", err)
	}
	return nil
}

// Create inserts a record.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_records
		   (id, name, type, paths, base_path, access_code_hash, source, share_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Name, string(rec.Type), pq.Array(rec.Paths), rec.BasePath,
		rec.AccessCodeHash, string(rec.Source), rec.ShareID, rec.ExpiresAt, rec.CreatedAt)
	metrics.RecordDBQuery("insert_download_record", time.Since(start))
	if err != nil {
		return fmt.Errorf("insert download record: %w", err)
	}
	return nil
}

// Get loads a record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	var rec Record
	var typ, source string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, paths, base_path, access_code_hash, source, share_id, expires_at, created_at
		 FROM download_records WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Name, &typ, pq.Array(&rec.Paths), &rec.BasePath,
			&rec.AccessCodeHash, &source, &rec.ShareID, &rec.ExpiresAt, &rec.CreatedAt)
	metrics.RecordDBQuery("get_download_record", time.Since(start))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query download record: %w", err)
	}
	rec.Type = storage.FileType(typ)
	rec.Source = Source(source)
	return &rec, nil
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM download_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete download record: %w", err)
	}
	return nil
}

// PurgeExpired removes records that expired before now.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_records WHERE expires_at <= $1`, now)
	metrics.RecordDBQuery("purge_download_records", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("purge download records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

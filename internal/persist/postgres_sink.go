package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // postgres driver, registered by side effect

	"github.com/ocx/ecsforge/internal/telemetry"
)

// execer is the minimal *sql.DB surface PostgresSink depends on, letting
// tests substitute a fake without a live database.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink upserts the latest persisted delta per (entity, component)
// into a single wide table, overwriting the prior row — a snapshot store
// rather than Redis's append-only changelog.
type PostgresSink struct {
	db        execer
	tableName string
	timeout   time.Duration
	metrics   *telemetry.Metrics
	logger    *log.Logger
}

// NewPostgresSink opens a PostgreSQL connection via lib/pq and verifies it
// with a Ping.
func NewPostgresSink(dsn, tableName string, metrics *telemetry.Metrics, logger *log.Logger) (*PostgresSink, func() error, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if tableName == "" {
		tableName = "tracked_components"
	}
	if logger == nil {
		logger = defaultLogger("[PERSIST postgres] ")
	}
	sink := &PostgresSink{db: db, tableName: tableName, timeout: 3 * time.Second, metrics: metrics, logger: logger}
	return sink, db.Close, nil
}

// NewPostgresSinkWithExecer builds a PostgresSink over an already-open
// execer — used by tests to inject a fake in place of a live *sql.DB.
func NewPostgresSinkWithExecer(db execer, tableName string, metrics *telemetry.Metrics, logger *log.Logger) *PostgresSink {
	if tableName == "" {
		tableName = "tracked_components"
	}
	if logger == nil {
		logger = defaultLogger("[PERSIST postgres] ")
	}
	return &PostgresSink{db: db, tableName: tableName, timeout: 3 * time.Second, metrics: metrics, logger: logger}
}

// Persist upserts framed as the latest snapshot for (entity, commandID).
// Errors are logged and otherwise swallowed, per the Database-direction
// failure policy (§7).
func (s *PostgresSink) Persist(entity EntityID, commandID uint32, framed []byte) {
	start := timeSource()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, command_id, body, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_id, command_id) DO UPDATE
		SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`, s.tableName)

	_, err := s.db.ExecContext(ctx, query, entity, commandID, framed)
	recordDuration(s.metrics, "postgres", start, err)
	if err != nil {
		s.logger.Printf("upsert entity=%d command=%#x failed: %v", entity, commandID, err)
	}
}

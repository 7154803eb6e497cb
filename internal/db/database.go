package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a queried entity does not exist.
var ErrNotFound = errors.New("not found")

// NotifyChannel is the LISTEN/NOTIFY channel fed by the verdict_log trigger.
const NotifyChannel = "verdict_stream"

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool holding the verdict log.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool on dsn, pings it and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Migrate executes the embedded SQL migrations in name order.
func (db *DB) Migrate(ctx context.Context) error {
	files, err := migrationFiles()
	if err != nil {
		return err
	}
	for _, name := range files {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	db.logger.Info("database migrated", "migrations", len(files))
	return nil
}

// migrationFiles lists embedded migrations; fs.Glob returns them sorted.
func migrationFiles() ([]string, error) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migrations embedded")
	}
	return files, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// PingContext checks the database connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// InsertVerdict appends one verdict. The insert trigger publishes it on
// NotifyChannel.
func (db *DB) InsertVerdict(ctx context.Context, v *VerdictEntry) error {
	flags := v.Flags
	if flags == nil {
		flags = []string{}
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO verdict_log (id, timestamp, operation, label, attack_type, confidence,
		     decision_source, suspicious_features, model, source_ip, latency_ms)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11)`,
		v.ID, v.Timestamp, v.Operation, v.Label, v.AttackType, v.Confidence,
		v.DecisionSource, flags, v.Model, v.SourceIP, v.LatencyMs)
	return err
}

// GetVerdict returns one verdict by ID.
func (db *DB) GetVerdict(ctx context.Context, id string) (*VerdictEntry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := db.Pool.QueryRow(ctx, selectVerdicts+` WHERE id = $1`, id)
	v, err := scanVerdict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// RecentVerdicts returns the newest verdicts first.
func (db *DB) RecentVerdicts(ctx context.Context, limit int) ([]VerdictEntry, error) {
	rows, err := db.Pool.Query(ctx, selectVerdicts+` ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []VerdictEntry
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats aggregates the whole log.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.Pool.QueryRow(ctx,
		`SELECT
		    COUNT(*) FILTER (WHERE operation = 'binary'),
		    COUNT(*) FILTER (WHERE operation = 'binary' AND label = 'attack'),
		    COUNT(*) FILTER (WHERE decision_source = 'rule_based'),
		    COUNT(*) FILTER (WHERE decision_source = 'model_based'),
		    COALESCE(AVG(latency_ms), 0)
		 FROM verdict_log`,
	).Scan(&s.TotalVerdicts, &s.Attacks, &s.RuleBased, &s.ModelBased, &s.AvgLatencyMs)
	if err != nil {
		return nil, err
	}
	if s.TotalVerdicts > 0 {
		s.AttackRate = float64(s.Attacks) / float64(s.TotalVerdicts)
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT attack_type, COUNT(*) AS n
		 FROM verdict_log
		 WHERE attack_type IS NOT NULL
		 GROUP BY attack_type
		 ORDER BY n DESC, attack_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s.AttackTypes = []AttackTypeCount{}
	for rows.Next() {
		var c AttackTypeCount
		if err := rows.Scan(&c.AttackType, &c.Count); err != nil {
			return nil, err
		}
		s.AttackTypes = append(s.AttackTypes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}

const selectVerdicts = `SELECT id::text, timestamp, operation, label, COALESCE(attack_type, ''), confidence,
	    COALESCE(decision_source, ''), suspicious_features, model, COALESCE(source_ip, ''), latency_ms
	 FROM verdict_log`

func scanVerdict(row pgx.Row) (*VerdictEntry, error) {
	var v VerdictEntry
	if err := row.Scan(&v.ID, &v.Timestamp, &v.Operation, &v.Label, &v.AttackType, &v.Confidence,
		&v.DecisionSource, &v.Flags, &v.Model, &v.SourceIP, &v.LatencyMs); err != nil {
		return nil, err
	}
	return &v, nil
}

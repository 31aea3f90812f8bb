package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/fedbroker/fedbroker/pkg/broker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the durable order store behind the registry. Orders are
// written through on every add and state move; on startup ListActiveOrders
// rebuilds the in-memory partitions.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance. Unset pool settings
// get defaults.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveOrder inserts or replaces the durable record of an order. The caller
// holds the order's lock (the registry calls this under its own lock while
// performing the state move).
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *broker.Order) error {
	spec, err := broker.MarshalSpec(order.Spec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (
			id, type, state, requester, provider, federation_token,
			instance_id, cached_state, fault_message, created_at, updated_at, spec
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			instance_id = excluded.instance_id,
			cached_state = excluded.cached_state,
			fault_message = excluded.fault_message,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		order.ID,
		string(order.Type),
		string(order.State),
		order.Requester,
		order.Provider,
		order.FederationToken,
		order.InstanceID,
		order.CachedState,
		order.FaultMessage,
		order.CreatedAt,
		order.UpdatedAt,
		string(spec),
	)

	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	return nil
}

// GetOrder retrieves one stored order by id.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	query := `
		SELECT id, type, state, requester, provider, federation_token,
		       instance_id, cached_state, fault_message, created_at, updated_at, spec
		FROM orders
		WHERE id = ?
	`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

// ListActiveOrders returns every stored order that is not closed, oldest
// first so recovery replays them in creation order.
func (s *SQLiteStore) ListActiveOrders(ctx context.Context) ([]*broker.Order, error) {
	query := `
		SELECT id, type, state, requester, provider, federation_token,
		       instance_id, cached_state, fault_message, created_at, updated_at, spec
		FROM orders
		WHERE state != ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(broker.StateClosed))
	if err != nil {
		return nil, fmt.Errorf("failed to list active orders: %w", err)
	}
	defer rows.Close()

	orders := []*broker.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*broker.Order, error) {
	var (
		order    broker.Order
		typ      string
		state    string
		specJSON string
	)
	err := row.Scan(
		&order.ID,
		&typ,
		&state,
		&order.Requester,
		&order.Provider,
		&order.FederationToken,
		&order.InstanceID,
		&order.CachedState,
		&order.FaultMessage,
		&order.CreatedAt,
		&order.UpdatedAt,
		&specJSON,
	)
	if err != nil {
		return nil, err
	}

	order.Type = broker.ResourceType(typ)
	order.State = broker.OrderState(state)

	spec, err := broker.UnmarshalSpec([]byte(specJSON))
	if err != nil {
		return nil, err
	}
	order.Spec = spec

	return &order, nil
}

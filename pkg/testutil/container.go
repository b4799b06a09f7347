// Package testutil provides testing utilities for the StockTrace backend.
// It includes testcontainers for PostgreSQL, mock factories and common
// test fixtures.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "stocktrace_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    // Run tests
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "stocktrace_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateStockSchema creates the stock service tables. The check constraints
// mirror the invariants the service enforces: quantities never go negative
// and current never exceeds initial.
func (c *PostgresContainer) CreateStockSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS products (
			sku VARCHAR(100) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			unit_of_measure VARCHAR(50) NOT NULL,
			lot_controlled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS locations (
			id UUID PRIMARY KEY,
			code VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			warehouse_id UUID NOT NULL,
			zone_id UUID,
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
			synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			batch_number VARCHAR(50) UNIQUE NOT NULL,
			product_sku VARCHAR(100) NOT NULL REFERENCES products(sku),
			unit_id VARCHAR(20) NOT NULL,
			initial_quantity NUMERIC(18,4) NOT NULL,
			current_quantity NUMERIC(18,4) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'INTACT',
			location_id UUID REFERENCES locations(id),
			source_batch_id UUID REFERENCES batches(id),
			transformation_id UUID,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_non_negative CHECK (current_quantity >= 0),
			CONSTRAINT current_within_initial CHECK (current_quantity <= initial_quantity),
			CONSTRAINT status_valid CHECK (status IN ('INTACT','CUT','REPACKED','EMPTY','DAMAGED','QUARANTINE'))
		);

		CREATE TABLE IF NOT EXISTS inventory_items (
			id UUID PRIMARY KEY,
			product_sku VARCHAR(100) NOT NULL REFERENCES products(sku),
			location_id UUID NOT NULL REFERENCES locations(id),
			lot_number VARCHAR(100) NOT NULL DEFAULT '',
			quantity NUMERIC(18,4) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT quantity_non_negative CHECK (quantity >= 0),
			UNIQUE (product_sku, location_id, lot_number)
		);

		CREATE TABLE IF NOT EXISTS movements (
			id UUID PRIMARY KEY,
			movement_type VARCHAR(20) NOT NULL,
			product_sku VARCHAR(100) NOT NULL REFERENCES products(sku),
			from_location_id UUID REFERENCES locations(id),
			to_location_id UUID REFERENCES locations(id),
			quantity NUMERIC(18,4) NOT NULL,
			lot_number VARCHAR(100) NOT NULL DEFAULT '',
			reason TEXT,
			performed_by VARCHAR(100) NOT NULL,
			performed_by_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT movement_type_valid CHECK (movement_type IN ('TRANSFER','INBOUND','OUTBOUND','ADJUSTMENT')),
			CONSTRAINT location_present CHECK (from_location_id IS NOT NULL OR to_location_id IS NOT NULL)
		);

		CREATE TABLE IF NOT EXISTS transformations (
			id UUID PRIMARY KEY,
			transformation_number VARCHAR(50) UNIQUE NOT NULL,
			transformation_type VARCHAR(20) NOT NULL,
			source_batch_id UUID NOT NULL REFERENCES batches(id),
			source_quantity_used NUMERIC(18,4) NOT NULL,
			result_batch_id UUID REFERENCES batches(id),
			result_quantity NUMERIC(18,4),
			waste_quantity NUMERIC(18,4),
			waste_percent NUMERIC(7,2),
			result_state VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			notes TEXT,
			performed_by VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT transformation_type_valid CHECK (transformation_type IN ('CUT','REPACK','CONVERT','SPLIT','MERGE')),
			CONSTRAINT result_state_valid CHECK (result_state IN ('PENDING','COMPLETED','NO_OUTPUT'))
		);

		CREATE TABLE IF NOT EXISTS audit_trail (
			id UUID PRIMARY KEY,
			entity_type VARCHAR(50) NOT NULL,
			entity_id VARCHAR(200) NOT NULL,
			action VARCHAR(50) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			performed_by VARCHAR(100) NOT NULL,
			performed_by_name VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_batches_product_status ON batches (product_sku, status);
		CREATE INDEX IF NOT EXISTS idx_movements_product_created ON movements (product_sku, created_at);
		CREATE INDEX IF NOT EXISTS idx_transformations_source ON transformations (source_batch_id);
		CREATE INDEX IF NOT EXISTS idx_transformations_result ON transformations (result_batch_id);
		CREATE INDEX IF NOT EXISTS idx_audit_trail_entity ON audit_trail (entity_type, entity_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create stock schema: %w", err)
	}
	return nil
}

// TruncateAll empties every stock table between tests
func (c *PostgresContainer) TruncateAll(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE audit_trail, transformations, movements, inventory_items, batches, locations, products CASCADE
	`)
	return err
}

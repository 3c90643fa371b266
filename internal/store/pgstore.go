package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/model"
)

// Schema creates the entity table used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS ria_entities (
	tenant_id  TEXT        NOT NULL,
	type_name  TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	version    UUID        NOT NULL,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, type_name, key)
)`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL document store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// OpenPool connects to the database named by the DSN environment variable
// of cfg and verifies the connection.
func OpenPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("entity store: %s environment variable not set", cfg.DSNEnv)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("entity store: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("entity store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("entity store: ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the entity table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate entity store: %w", err)
	}
	return nil
}

// Get retrieves a document.
func (s *PgStore) Get(ctx context.Context, tenantID, typeName, key string) (Document, error) {
	doc := Document{TenantID: tenantID, TypeName: typeName, Key: key}
	var version uuid.UUID

	err := s.pool.QueryRow(ctx, `
		SELECT version, data, updated_at
		FROM ria_entities
		WHERE tenant_id = $1 AND type_name = $2 AND key = $3`,
		tenantID, typeName, key,
	).Scan(&version, &doc.Data, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, notFound(typeName, key)
		}
		return Document{}, fmt.Errorf("query entity: %w", err)
	}
	doc.Version = version.String()
	return doc, nil
}

// List returns every document of a type for a tenant, ordered by key.
func (s *PgStore) List(ctx context.Context, tenantID, typeName string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, version, data, updated_at
		FROM ria_entities
		WHERE tenant_id = $1 AND type_name = $2
		ORDER BY key ASC`,
		tenantID, typeName,
	)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{TenantID: tenantID, TypeName: typeName}
		var version uuid.UUID
		if err := rows.Scan(&doc.Key, &version, &doc.Data, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		doc.Version = version.String()
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Apply performs all mutations in one transaction.
func (s *PgStore) Apply(ctx context.Context, muts []Mutation) error {
	now := time.Now().UTC()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, m := range muts {
			if err := applyMutation(ctx, tx, m, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyMutation(ctx context.Context, tx pgx.Tx, m Mutation, now time.Time) error {
	d := m.Document
	switch m.Kind {
	case MutationDelete:
		tag, err := tx.Exec(ctx, `
			DELETE FROM ria_entities
			WHERE tenant_id = $1 AND type_name = $2 AND key = $3`,
			d.TenantID, d.TypeName, d.Key,
		)
		if err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notFound(d.TypeName, d.Key)
		}
		return nil

	case MutationCreate:
		tag, err := tx.Exec(ctx, `
			INSERT INTO ria_entities (tenant_id, type_name, key, version, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, type_name, key) DO NOTHING`,
			d.TenantID, d.TypeName, d.Key, uuid.New(), []byte(d.Data), now,
		)
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(fmt.Sprintf("%s %q already exists", d.TypeName, d.Key))
		}
		return nil

	default:
		_, err := tx.Exec(ctx, `
			INSERT INTO ria_entities (tenant_id, type_name, key, version, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, type_name, key)
			DO UPDATE SET version = EXCLUDED.version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			d.TenantID, d.TypeName, d.Key, uuid.New(), []byte(d.Data), now,
		)
		if err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}
		return nil
	}
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

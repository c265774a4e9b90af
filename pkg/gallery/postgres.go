package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// PostgresStore keeps templates in PostgreSQL. The (identity, pose)
// uniqueness rule is enforced by the schema.
type PostgresStore struct {
	pool    *pgxpool.Pool
	byteLen int
	log     *logrus.Entry
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string, byteLen int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{pool: pool, byteLen: byteLen, log: logging.Component("gallery")}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS identities (
			key TEXT PRIMARY KEY,
			complete BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_templates (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL REFERENCES identities(key) ON DELETE CASCADE,
			pose TEXT NOT NULL,
			embedding BYTEA NOT NULL,
			quality DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (identity, pose)
		);
		CREATE INDEX IF NOT EXISTS face_templates_identity_idx ON face_templates (identity);
	`)
	return err
}

// ReplaceTemplate implements Writer with a single upsert so concurrent
// enrollments of the same pose never leave two rows.
func (s *PostgresStore) ReplaceTemplate(ctx context.Context, identity, pose string, embedding []byte, quality float64) (StoredTemplate, error) {
	if err := ValidateTemplate(identity, pose, embedding, quality, s.byteLen); err != nil {
		return StoredTemplate{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return StoredTemplate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO identities (key, updated_at) VALUES ($1, NOW())
		ON CONFLICT (key) DO UPDATE SET updated_at = NOW()
	`, identity); err != nil {
		return StoredTemplate{}, err
	}

	tmpl := StoredTemplate{
		ID:        uuid.NewString(),
		Identity:  identity,
		Pose:      pose,
		Embedding: embedding,
		Quality:   quality,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO face_templates (id, identity, pose, embedding, quality, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identity, pose) DO UPDATE
		SET id = EXCLUDED.id, embedding = EXCLUDED.embedding,
		    quality = EXCLUDED.quality, created_at = EXCLUDED.created_at
		RETURNING created_at
	`, tmpl.ID, identity, pose, embedding, quality).Scan(&tmpl.CreatedAt)
	if err != nil {
		return StoredTemplate{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredTemplate{}, err
	}

	s.log.WithFields(logging.Fields{"identity": identity, "pose": pose}).Debug("Replaced template")
	return tmpl, nil
}

// MarkComplete implements Writer.
func (s *PostgresStore) MarkComplete(ctx context.Context, identity string, complete bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE identities SET complete = $2, updated_at = NOW() WHERE key = $1", identity, complete)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// ClearIdentity implements Writer.
func (s *PostgresStore) ClearIdentity(ctx context.Context, identity string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		"UPDATE identities SET complete = FALSE, updated_at = NOW() WHERE key = $1", identity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	if _, err := tx.Exec(ctx, "DELETE FROM face_templates WHERE identity = $1", identity); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetTemplates implements Provider. Templates come back best quality first.
func (s *PostgresStore) GetTemplates(ctx context.Context, identity string) ([]StoredTemplate, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM identities WHERE key = $1)", identity).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrIdentityNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, identity, pose, embedding, quality, created_at
		FROM face_templates WHERE identity = $1
		ORDER BY quality DESC, created_at ASC
	`, identity)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredTemplate, error) {
		var t StoredTemplate
		err := row.Scan(&t.ID, &t.Identity, &t.Pose, &t.Embedding, &t.Quality, &t.CreatedAt)
		return t, err
	})
}

// ListEnrollableIdentities implements Provider.
func (s *PostgresStore) ListEnrollableIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT identity FROM face_templates ORDER BY identity
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListIdentities returns every identity sorted by key.
func (s *PostgresStore) ListIdentities(ctx context.Context) ([]IdentityInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.key, i.complete, i.updated_at,
		       COALESCE(array_agg(t.pose ORDER BY t.created_at) FILTER (WHERE t.pose IS NOT NULL), '{}')
		FROM identities i
		LEFT JOIN face_templates t ON t.identity = i.key
		GROUP BY i.key, i.complete, i.updated_at
		ORDER BY i.key
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (IdentityInfo, error) {
		var info IdentityInfo
		var updated time.Time
		err := row.Scan(&info.Key, &info.Complete, &updated, &info.Poses)
		info.UpdatedAt = updated
		return info, err
	})
}

// DeleteIdentity removes the identity; its templates cascade.
func (s *PostgresStore) DeleteIdentity(ctx context.Context, identity string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM identities WHERE key = $1", identity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	s.log.Infof("Deleted identity: %s", identity)
	return nil
}

// Reset drops the gallery tables. Intended for tests.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS face_templates CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.pool)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*FileStore)(nil)

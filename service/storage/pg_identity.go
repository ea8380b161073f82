package storage

import (
	"context"

	"MeshHub/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PGIdentity verifies asserted identities against the application's
// relational users table. Only the handshake uses it.
type PGIdentity struct {
	pool *pgxpool.Pool
}

func NewPGIdentity(ctx context.Context, dsn string) (*PGIdentity, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg ping")
	}
	return &PGIdentity{pool: pool}, nil
}

func (p *PGIdentity) VerifyIdentity(ctx context.Context, id, email string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND email = $2)`,
		id, email,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "identity query")
	}
	return exists, nil
}

func (p *PGIdentity) Close() { p.pool.Close() }

// AllowAllIdentity accepts any non-empty id. Development fallback when
// no Postgres DSN is configured; never use in production.
type AllowAllIdentity struct{}

func (AllowAllIdentity) VerifyIdentity(_ context.Context, id, _ string) (bool, error) {
	if id == "" {
		return false, nil
	}
	logger.Warnf("[identity] allow-all fallback accepted user=%s", id)
	return true, nil
}

package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/sessionfleet/internal/model"
)

// PostgresBacking is SessionStore's "B" backing, the relational mirror of
// the `sessions` table described in §6.
type PostgresBacking struct {
	pool *pgxpool.Pool
}

// NewPostgresBacking opens a pool against dsn. Callers are expected to have
// already applied migrations (see the migrations subpackage).
func NewPostgresBacking(ctx context.Context, dsn string, maxConns int32) (*PostgresBacking, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: parsing postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("sessionstore: pinging postgres: %w", err)
	}

	return &PostgresBacking{pool: pool}, nil
}

const sessionColumns = `session_id, user_id, phone_number, is_connected, connection_status, reconnect_attempts, source, detected, updated_at`

func (p *PostgresBacking) Get(ctx context.Context, sessionID string) (*model.Session, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (p *PostgresBacking) GetByPhone(ctx context.Context, phone string) (*model.Session, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE phone_number = $1`, phone)
	return scanSession(row)
}

func scanSession(row pgx.Row) (*model.Session, bool, error) {
	var s model.Session
	err := row.Scan(
		&s.SessionID, &s.UserID, &s.PhoneNumber, &s.IsConnected,
		&s.ConnectionStatus, &s.ReconnectAttempts, &s.Source, &s.Detected, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sessionstore: postgres scan: %w", err)
	}
	return &s, true, nil
}

func (p *PostgresBacking) Upsert(ctx context.Context, s model.Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			phone_number = EXCLUDED.phone_number,
			is_connected = EXCLUDED.is_connected,
			connection_status = EXCLUDED.connection_status,
			reconnect_attempts = EXCLUDED.reconnect_attempts,
			source = EXCLUDED.source,
			detected = EXCLUDED.detected,
			updated_at = EXCLUDED.updated_at`,
		s.SessionID, s.UserID, s.PhoneNumber, s.IsConnected,
		s.ConnectionStatus, s.ReconnectAttempts, s.Source, s.Detected, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessionstore: postgres upsert %s: %w", s.SessionID, err)
	}
	return nil
}

func (p *PostgresBacking) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("sessionstore: postgres delete %s: %w", sessionID, err)
	}
	return nil
}

func (p *PostgresBacking) List(ctx context.Context) ([]model.Session, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: postgres list: %w", err)
	}
	return collectSessions(rows)
}

func (p *PostgresBacking) ListActive(ctx context.Context) ([]model.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE connection_status IN ($1, $2)
		ORDER BY updated_at DESC`,
		model.StatusConnected, model.StatusConnecting,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: postgres list active: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(
			&s.SessionID, &s.UserID, &s.PhoneNumber, &s.IsConnected,
			&s.ConnectionStatus, &s.ReconnectAttempts, &s.Source, &s.Detected, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sessionstore: postgres scan row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *PostgresBacking) ListUndetectedWeb(ctx context.Context) ([]model.Session, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE source = $1 AND detected = false AND is_connected = true`,
		model.SourceWeb,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: postgres list undetected web: %w", err)
	}
	return collectSessions(rows)
}

func (p *PostgresBacking) ClaimDetected(ctx context.Context, sessionID string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET detected = true WHERE session_id = $1 AND detected = false`, sessionID)
	if err != nil {
		return false, fmt.Errorf("sessionstore: postgres claim detected %s: %w", sessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBacking) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool. Used by graceful shutdown paths.
func (p *PostgresBacking) Close() {
	p.pool.Close()
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dreams (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id           INTEGER NOT NULL,
    title              TEXT NOT NULL DEFAULT '',
    content            TEXT NOT NULL,
    keywords           TEXT,
    symbols            TEXT,
    emotions           TEXT,
    visual_description TEXT,
    interpretation     TEXT,
    model_path         TEXT,
    status             TEXT NOT NULL DEFAULT 'pending'
                       CHECK (status IN ('pending', 'processing', 'complete', 'failed')),
    error_message      TEXT,
    dispatched_at      INTEGER,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS dreams_owner_created_idx ON dreams (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS dreams_status_updated_idx ON dreams (status, updated_at);
CREATE TABLE IF NOT EXISTS integration_tokens (
    provider   TEXT PRIMARY KEY,
    token      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

const sqliteDreamColumns = `
    id,
    owner_id,
    title,
    content,
    COALESCE(keywords, '[]'),
    COALESCE(symbols, '[]'),
    COALESCE(emotions, '[]'),
    COALESCE(visual_description, ''),
    COALESCE(interpretation, ''),
    COALESCE(model_path, ''),
    status,
    COALESCE(error_message, ''),
    COALESCE(dispatched_at, 0),
    created_at,
    updated_at`

// DreamRepositorySQLite implements domain.DreamRepository and domain.TokenRepository
// on a local SQLite file. Timestamps are stored as unix nanoseconds.
type DreamRepositorySQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewDreamRepositorySQLite wraps an opened SQLite database.
func NewDreamRepositorySQLite(db *sql.DB) *DreamRepositorySQLite {
	return &DreamRepositorySQLite{db: db, now: time.Now}
}

// Migrate creates the tables and indexes when missing.
func (r *DreamRepositorySQLite) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("repo: migrate sqlite: %w", err)
	}
	return r.addColumnIfMissing(ctx, "dreams", "dispatched_at", "INTEGER")
}

// addColumnIfMissing upgrades databases created before the column existed.
func (r *DreamRepositorySQLite) addColumnIfMissing(ctx context.Context, table, column, typ string) error {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("repo: inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("repo: inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repo: inspect %s: %w", table, err)
	}
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN `+column+` `+typ); err != nil {
		return fmt.Errorf("repo: add %s.%s: %w", table, column, err)
	}
	return nil
}

func (r *DreamRepositorySQLite) Create(ctx context.Context, ownerID int64, title, text string) (*domain.Dream, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO dreams (owner_id, title, content, status, created_at, updated_at) VALUES (?, ?, ?, 'pending', ?, ?)`,
		ownerID, title, text, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("repo: insert dream: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("repo: insert dream id: %w", err)
	}
	return &domain.Dream{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		Text:      text,
		Status:    domain.DreamStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *DreamRepositorySQLite) GetByID(ctx context.Context, id int64) (*domain.Dream, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+sqliteDreamColumns+` FROM dreams WHERE id = ?`, id)
	d, err := scanSQLiteDream(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: get dream %d: %w", id, err)
	}
	return d, nil
}

func (r *DreamRepositorySQLite) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Dream, error) {
	limit, offset = normalizePage(limit, offset)
	return r.list(ctx,
		`SELECT`+sqliteDreamColumns+` FROM dreams WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
}

func (r *DreamRepositorySQLite) ListByStatus(ctx context.Context, status domain.DreamStatus, updatedBefore time.Time, limit int) ([]domain.Dream, error) {
	limit, _ = normalizePage(limit, 0)
	return r.list(ctx,
		`SELECT`+sqliteDreamColumns+` FROM dreams WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		string(status), updatedBefore.UTC().UnixNano(), limit,
	)
}

func (r *DreamRepositorySQLite) list(ctx context.Context, query string, args ...any) ([]domain.Dream, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list dreams: %w", err)
	}
	defer rows.Close()
	var out []domain.Dream
	for rows.Next() {
		d, err := scanSQLiteDream(rows)
		if err != nil {
			return nil, fmt.Errorf("repo: scan dream: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: list dreams: %w", err)
	}
	return out, nil
}

func (r *DreamRepositorySQLite) MarkDispatched(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dreams SET dispatched_at = ? WHERE id = ? AND status = 'pending'`,
		r.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("repo: mark dream %d dispatched: %w", id, err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *DreamRepositorySQLite) Touch(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dreams SET updated_at = ? WHERE id = ? AND status = 'processing'`,
		r.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("repo: touch dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *DreamRepositorySQLite) MarkProcessing(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dreams SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'pending'`,
		r.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("repo: mark dream %d processing: %w", id, err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *DreamRepositorySQLite) Complete(ctx context.Context, id int64, result domain.DreamResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	enc, err := encodeAnalysis(result.Analysis)
	if err != nil {
		return fmt.Errorf("repo: encode analysis: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE dreams
SET keywords = ?, symbols = ?, emotions = ?, visual_description = ?, interpretation = ?,
    model_path = ?, status = 'complete', error_message = NULL, updated_at = ?
WHERE id = ? AND status = 'processing'`,
		string(enc.keywords),
		string(enc.symbols),
		string(enc.emotions),
		result.Analysis.VisualDescription,
		result.Analysis.Interpretation,
		result.ModelPath,
		r.now().UTC().UnixNano(),
		id,
	)
	if err != nil {
		return fmt.Errorf("repo: complete dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *DreamRepositorySQLite) Fail(ctx context.Context, id int64, message string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE dreams SET status = 'failed', error_message = ?, model_path = NULL, updated_at = ? WHERE id = ? AND status = 'processing'`,
		message, r.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("repo: fail dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, res)
}

func (r *DreamRepositorySQLite) checkTransition(ctx context.Context, id int64, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repo: rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (r *DreamRepositorySQLite) Token(ctx context.Context, provider string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `SELECT token FROM integration_tokens WHERE provider = ?`, provider).Scan(&token)
	if err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return token, nil
}

func (r *DreamRepositorySQLite) UpsertToken(ctx context.Context, provider, token string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO integration_tokens (provider, token, updated_at) VALUES (?, ?, ?)
ON CONFLICT(provider) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		provider, token, r.now().UTC().UnixNano(),
	)
	return err
}

func scanSQLiteDream(row rowScanner) (*domain.Dream, error) {
	var raw dreamRow
	var keywords, symbols, emotions string
	var dispatched, created, updated int64
	d := &raw.dream
	if err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.Title,
		&d.Text,
		&keywords,
		&symbols,
		&emotions,
		&d.VisualDescription,
		&d.Interpretation,
		&d.ModelPath,
		&raw.status,
		&d.ErrorMessage,
		&dispatched,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	raw.keywords = []byte(keywords)
	raw.symbols = []byte(symbols)
	raw.emotions = []byte(emotions)
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	if dispatched > 0 {
		d.DispatchedAt = time.Unix(0, dispatched).UTC()
	}
	return raw.toDomain()
}

var (
	_ domain.DreamRepository = (*DreamRepositorySQLite)(nil)
	_ domain.TokenRepository = (*DreamRepositorySQLite)(nil)
)

package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dreamecho/internal/domain"
	"dreamecho/internal/infra"
	"dreamecho/internal/sqlinline"
)

// DreamRepositoryPG implements domain.DreamRepository and domain.TokenRepository on PostgreSQL.
type DreamRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewDreamRepositoryPG creates a dream repository backed by PostgreSQL.
func NewDreamRepositoryPG(sql infra.SQLExecutor) *DreamRepositoryPG {
	return &DreamRepositoryPG{sql: sql}
}

// Migrate creates the tables and indexes when missing.
func (r *DreamRepositoryPG) Migrate(ctx context.Context) error {
	for _, stmt := range []string{
		sqlinline.QCreateDreamsTable,
		sqlinline.QAddDreamsDispatchedAt,
		sqlinline.QCreateDreamsIndexes,
		sqlinline.QCreateIntegrationTokensTable,
	} {
		if _, err := r.sql.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repo: migrate: %w", err)
		}
	}
	return nil
}

func (r *DreamRepositoryPG) Create(ctx context.Context, ownerID int64, title, text string) (*domain.Dream, error) {
	d := &domain.Dream{OwnerID: ownerID, Title: title, Text: text}
	var status string
	row := r.sql.QueryRow(ctx, sqlinline.QInsertDream, ownerID, title, text)
	if err := row.Scan(&d.ID, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, fmt.Errorf("repo: insert dream: %w", err)
	}
	d.Status = domain.DreamStatus(status)
	return d, nil
}

func (r *DreamRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Dream, error) {
	d, err := scanDream(r.sql.QueryRow(ctx, sqlinline.QSelectDreamByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: get dream %d: %w", id, err)
	}
	return d, nil
}

func (r *DreamRepositoryPG) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Dream, error) {
	limit, offset = normalizePage(limit, offset)
	return r.list(ctx, sqlinline.QListDreamsByOwner, ownerID, limit, offset)
}

func (r *DreamRepositoryPG) ListByStatus(ctx context.Context, status domain.DreamStatus, updatedBefore time.Time, limit int) ([]domain.Dream, error) {
	limit, _ = normalizePage(limit, 0)
	return r.list(ctx, sqlinline.QListDreamsByStatus, string(status), updatedBefore, limit)
}

func (r *DreamRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Dream, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo: list dreams: %w", err)
	}
	defer rows.Close()
	var out []domain.Dream
	for rows.Next() {
		d, err := scanDream(rows)
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

func (r *DreamRepositoryPG) MarkDispatched(ctx context.Context, id int64) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkDreamDispatched, id)
	if err != nil {
		return fmt.Errorf("repo: mark dream %d dispatched: %w", id, err)
	}
	return r.checkTransition(ctx, id, tag.RowsAffected())
}

func (r *DreamRepositoryPG) Touch(ctx context.Context, id int64) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QTouchDream, id)
	if err != nil {
		return fmt.Errorf("repo: touch dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, tag.RowsAffected())
}

func (r *DreamRepositoryPG) MarkProcessing(ctx context.Context, id int64) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkDreamProcessing, id)
	if err != nil {
		return fmt.Errorf("repo: mark dream %d processing: %w", id, err)
	}
	return r.checkTransition(ctx, id, tag.RowsAffected())
}

func (r *DreamRepositoryPG) Complete(ctx context.Context, id int64, result domain.DreamResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	enc, err := encodeAnalysis(result.Analysis)
	if err != nil {
		return fmt.Errorf("repo: encode analysis: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteDream,
		id,
		enc.keywords,
		enc.symbols,
		enc.emotions,
		result.Analysis.VisualDescription,
		result.Analysis.Interpretation,
		result.ModelPath,
	)
	if err != nil {
		return fmt.Errorf("repo: complete dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, tag.RowsAffected())
}

func (r *DreamRepositoryPG) Fail(ctx context.Context, id int64, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailDream, id, message)
	if err != nil {
		return fmt.Errorf("repo: fail dream %d: %w", id, err)
	}
	return r.checkTransition(ctx, id, tag.RowsAffected())
}

// checkTransition distinguishes a missing dream from one in the wrong state
// when a conditional update touched no rows.
func (r *DreamRepositoryPG) checkTransition(ctx context.Context, id int64, affected int64) error {
	if affected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (r *DreamRepositoryPG) Token(ctx context.Context, provider string) (string, error) {
	var token string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return token, nil
}

func (r *DreamRepositoryPG) UpsertToken(ctx context.Context, provider, token string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, uuid.New(), provider, token)
	return err
}

func scanDream(row rowScanner) (*domain.Dream, error) {
	var raw dreamRow
	var dispatched *time.Time
	d := &raw.dream
	if err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.Title,
		&d.Text,
		&raw.keywords,
		&raw.symbols,
		&raw.emotions,
		&d.VisualDescription,
		&d.Interpretation,
		&d.ModelPath,
		&raw.status,
		&d.ErrorMessage,
		&dispatched,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dispatched != nil {
		d.DispatchedAt = *dispatched
	}
	return raw.toDomain()
}

var (
	_ domain.DreamRepository = (*DreamRepositoryPG)(nil)
	_ domain.TokenRepository = (*DreamRepositoryPG)(nil)
)

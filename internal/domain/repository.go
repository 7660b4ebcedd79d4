package domain

import (
	"context"
	"time"
)

// DreamRepository persists dreams and enforces forward-only status transitions.
type DreamRepository interface {
	Create(ctx context.Context, ownerID int64, title, text string) (*Dream, error)
	GetByID(ctx context.Context, id int64) (*Dream, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Dream, error)
	// ListByStatus returns dreams in status whose updated_at is before the cutoff.
	ListByStatus(ctx context.Context, status DreamStatus, updatedBefore time.Time, limit int) ([]Dream, error)
	// MarkDispatched stamps DispatchedAt on a pending dream.
	MarkDispatched(ctx context.Context, id int64) error
	MarkProcessing(ctx context.Context, id int64) error
	// Touch refreshes updated_at of a processing dream so recovery sweeps
	// see it as alive.
	Touch(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, result DreamResult) error
	Fail(ctx context.Context, id int64, message string) error
}

// TokenRepository stores upstream provider credentials.
type TokenRepository interface {
	Token(ctx context.Context, provider string) (string, error)
	UpsertToken(ctx context.Context, provider, token string) error
}

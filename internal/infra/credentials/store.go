package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dreamecho/internal/domain"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderTripo    = "tripo"
)

// ErrUnknownProvider is returned for provider names the pipeline does not call.
var ErrUnknownProvider = errors.New("credentials: unknown provider")

// Store reads and writes upstream API keys kept in the database.
type Store struct {
	repo domain.TokenRepository
}

func NewStore(repo domain.TokenRepository) *Store {
	return &Store{repo: repo}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	if s == nil || s.repo == nil {
		return "", nil
	}
	token, err := s.repo.Token(ctx, provider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s key: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// Set upserts the key for provider.
func (s *Store) Set(ctx context.Context, provider, key string) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("credentials: %s api key is required", provider)
	}
	if s == nil || s.repo == nil {
		return errors.New("credentials: no store configured")
	}
	return s.repo.UpsertToken(ctx, provider, key)
}

// Resolve prefers the configured value and falls back to the stored key.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}

func normalizeProvider(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case ProviderDeepSeek, ProviderTripo:
		return provider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

package repo

import (
	"encoding/json"
	"fmt"

	"dreamecho/internal/domain"
)

// rowScanner is satisfied by pgx and database/sql rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

// dreamRow holds the raw column values shared by both SQL backends.
type dreamRow struct {
	dream    domain.Dream
	status   string
	keywords []byte
	symbols  []byte
	emotions []byte
}

func (r *dreamRow) toDomain() (*domain.Dream, error) {
	d := r.dream
	d.Status = domain.DreamStatus(r.status)
	var err error
	if d.Keywords, err = decodeList(r.keywords); err != nil {
		return nil, fmt.Errorf("decode keywords for dream %d: %w", d.ID, err)
	}
	if d.Symbols, err = decodeList(r.symbols); err != nil {
		return nil, fmt.Errorf("decode symbols for dream %d: %w", d.ID, err)
	}
	if d.Emotions, err = decodeList(r.emotions); err != nil {
		return nil, fmt.Errorf("decode emotions for dream %d: %w", d.ID, err)
	}
	return &d, nil
}

func encodeList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type encodedAnalysis struct {
	keywords []byte
	symbols  []byte
	emotions []byte
}

func encodeAnalysis(a domain.Analysis) (encodedAnalysis, error) {
	var out encodedAnalysis
	var err error
	if out.keywords, err = encodeList(a.Keywords); err != nil {
		return out, err
	}
	if out.symbols, err = encodeList(a.Symbols); err != nil {
		return out, err
	}
	if out.emotions, err = encodeList(a.Emotions); err != nil {
		return out, err
	}
	return out, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

package pipeline

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"dreamecho/internal/domain"
	"dreamecho/internal/progress"
	"dreamecho/internal/providers/deepseek"
	"dreamecho/internal/providers/tripo"
	"dreamecho/internal/providers/upstream"
)

// memDreams is an in-memory DreamRepository that enforces transitions the
// same way the SQL adapters do.
type memDreams struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Dream
	now    func() time.Time
	// history records every status a dream passed through.
	history map[int64][]domain.DreamStatus
	touches map[int64]int
}

func newMemDreams() *memDreams {
	return &memDreams{
		rows:    map[int64]*domain.Dream{},
		history: map[int64][]domain.DreamStatus{},
		touches: map[int64]int{},
		now:     time.Now,
	}
}

func (m *memDreams) Create(ctx context.Context, ownerID int64, title, text string) (*domain.Dream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	d := &domain.Dream{
		ID:        m.nextID,
		OwnerID:   ownerID,
		Title:     title,
		Text:      text,
		Status:    domain.DreamStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rows[d.ID] = d
	m.history[d.ID] = []domain.DreamStatus{domain.DreamStatusPending}
	cp := *d
	return &cp, nil
}

func (m *memDreams) GetByID(ctx context.Context, id int64) (*domain.Dream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDreams) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]domain.Dream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Dream
	for _, d := range m.rows {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memDreams) ListByStatus(ctx context.Context, status domain.DreamStatus, updatedBefore time.Time, limit int) ([]domain.Dream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Dream
	for _, d := range m.rows {
		if d.Status == status && d.UpdatedAt.Before(updatedBefore) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDreams) transition(id int64, next domain.DreamStatus, mutate func(*domain.Dream)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !d.Status.CanTransition(next) {
		return domain.ErrInvalidTransition
	}
	d.Status = next
	d.UpdatedAt = m.now()
	if mutate != nil {
		mutate(d)
	}
	m.history[id] = append(m.history[id], next)
	return nil
}

// guard applies mutate when the dream exists in the wanted status.
func (m *memDreams) guard(id int64, want domain.DreamStatus, mutate func(*domain.Dream)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.Status != want {
		return domain.ErrInvalidTransition
	}
	mutate(d)
	return nil
}

func (m *memDreams) MarkDispatched(ctx context.Context, id int64) error {
	return m.guard(id, domain.DreamStatusPending, func(d *domain.Dream) {
		d.DispatchedAt = m.now()
	})
}

func (m *memDreams) Touch(ctx context.Context, id int64) error {
	return m.guard(id, domain.DreamStatusProcessing, func(d *domain.Dream) {
		d.UpdatedAt = m.now()
		m.touches[id]++
	})
}

func (m *memDreams) touchCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches[id]
}

func (m *memDreams) MarkProcessing(ctx context.Context, id int64) error {
	return m.transition(id, domain.DreamStatusProcessing, nil)
}

func (m *memDreams) Complete(ctx context.Context, id int64, result domain.DreamResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	return m.transition(id, domain.DreamStatusComplete, func(d *domain.Dream) {
		d.Keywords = result.Analysis.Keywords
		d.Symbols = result.Analysis.Symbols
		d.Emotions = result.Analysis.Emotions
		d.VisualDescription = result.Analysis.VisualDescription
		d.Interpretation = result.Analysis.Interpretation
		d.ModelPath = result.ModelPath
	})
}

func (m *memDreams) Fail(ctx context.Context, id int64, message string) error {
	return m.transition(id, domain.DreamStatusFailed, func(d *domain.Dream) {
		d.ErrorMessage = message
		d.ModelPath = ""
	})
}

// setStatus forces a row into a state for sweeper tests.
func (m *memDreams) setStatus(id int64, status domain.DreamStatus, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = status
	m.rows[id].UpdatedAt = updatedAt
}

// recordingTracker keeps every update so tests can check ordering.
type recordingTracker struct {
	*progress.MemoryTracker
	mu      sync.Mutex
	updates map[int64][]progress.Entry
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{
		MemoryTracker: progress.NewMemoryTracker(0),
		updates:       map[int64][]progress.Entry{},
	}
}

func (r *recordingTracker) Update(ctx context.Context, id int64, entry progress.Entry) error {
	r.mu.Lock()
	r.updates[id] = append(r.updates[id], entry)
	r.mu.Unlock()
	return r.MemoryTracker.Update(ctx, id, entry)
}

func (r *recordingTracker) history(id int64) []progress.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Entry(nil), r.updates[id]...)
}

type stubCompleter struct {
	content  string
	err      error
	calls    int
	messages []deepseek.Message
}

func (s *stubCompleter) Complete(ctx context.Context, messages []deepseek.Message) (string, error) {
	s.calls++
	s.messages = messages
	return s.content, s.err
}

type stubHealth bool

func (s stubHealth) Ping(context.Context) bool { return bool(s) }

type pollResult struct {
	task *tripo.Task
	err  error
}

type stubTasks struct {
	mu        sync.Mutex
	taskID    string
	createErr error
	polls     []pollResult
	pollCount int
	prompt    string
	body      string
	dlErr     error
	dlURL     string
}

func (s *stubTasks) CreateTask(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.taskID, nil
}

func (s *stubTasks) GetTask(ctx context.Context, taskID string) (*tripo.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollCount++
	if len(s.polls) == 0 {
		return &tripo.Task{TaskID: taskID, Status: tripo.TaskStatusRunning}, nil
	}
	next := s.polls[0]
	if len(s.polls) > 1 {
		s.polls = s.polls[1:]
	}
	return next.task, next.err
}

func (s *stubTasks) Download(ctx context.Context, modelURL string) (*upstream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlURL = modelURL
	if s.dlErr != nil {
		return nil, s.dlErr
	}
	return &upstream.Stream{
		Body:          io.NopCloser(strings.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		ContentType:   "model/gltf-binary",
	}, nil
}

func running() pollResult {
	return pollResult{task: &tripo.Task{Status: tripo.TaskStatusRunning}}
}

func succeeded(url string) pollResult {
	task := &tripo.Task{Status: tripo.TaskStatusSuccess}
	task.Output.PBRModel = url
	return pollResult{task: task}
}

// memStore captures saved artifacts.
type memStore struct {
	mu    sync.Mutex
	files map[string]string
	err   error
}

func newMemStore() *memStore { return &memStore{files: map[string]string{}} }

func (s *memStore) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.files[key] = string(body)
	s.mu.Unlock()
	return key, nil
}

type stubDispatcher struct {
	mu         sync.Mutex
	admitErr   error
	dispatchFn func(ctx context.Context, id int64) error
	dispatched []int64
}

// durableDispatcher stands in for a broker-backed dispatcher.
type durableDispatcher struct{ stubDispatcher }

func (d *durableDispatcher) Durable() bool { return true }

func (s *stubDispatcher) Admit() error { return s.admitErr }

func (s *stubDispatcher) Dispatch(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.dispatched = append(s.dispatched, id)
	fn := s.dispatchFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

var errBoom = errors.New("boom")

const validAnalysis = `{"keywords":["flight","city","glass","towers","freedom"],"symbols":["glass towers","sky"],"emotions":["wonder","calm"],"visual_description":"a dreamer soaring above glass skyscrapers","interpretation":"A wish for perspective and freedom."}`

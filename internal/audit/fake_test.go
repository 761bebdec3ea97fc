package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/store"
)

// fakeStore is an in-memory store.Store for runner and analyzer tests.
type fakeStore struct {
	mu         sync.Mutex
	properties map[string]model.Property
	queries    map[string][]model.Query
	runs       map[string]model.Run
	scores     map[string]model.RunScore
	answers    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		properties: make(map[string]model.Property),
		queries:    make(map[string][]model.Query),
		runs:       make(map[string]model.Run),
		scores:     make(map[string]model.RunScore),
	}
}

func (f *fakeStore) CreateProperty(_ context.Context, p model.Property) (*model.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now()
	f.properties[p.ID] = p
	return &p, nil
}

func (f *fakeStore) GetProperty(_ context.Context, id string) (*model.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.properties[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) CreateQuery(_ context.Context, q model.Query) (*model.Query, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	f.queries[q.PropertyID] = append(f.queries[q.PropertyID], q)
	return &q, nil
}

func (f *fakeStore) ListActiveQueries(_ context.Context, propertyID string) ([]model.Query, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Query
	for _, q := range f.queries[propertyID] {
		if q.IsActive {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRun(_ context.Context, run model.Run) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = time.Now()
	f.runs[run.ID] = run
	return &run, nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Run
	for _, r := range f.runs {
		if filter.BatchID != "" && r.BatchID != filter.BatchID {
			continue
		}
		if filter.PropertyID != "" && r.PropertyID != filter.PropertyID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) StartRun(_ context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status != model.RunStatusQueued {
		return false, nil
	}
	now := time.Now()
	r.Status = model.RunStatusRunning
	r.StartedAt = &now
	f.runs[runID] = r
	return true, nil
}

func (f *fakeStore) FinishRun(_ context.Context, runID string, status model.RunStatus, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = status
	r.ErrorMessage = errorMessage
	r.FinishedAt = &now
	f.runs[runID] = r
	return nil
}

func (f *fakeStore) SaveRunScore(_ context.Context, score model.RunScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[score.RunID] = score
	return nil
}

func (f *fakeStore) GetRunScore(_ context.Context, runID string) (*model.RunScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (f *fakeStore) SaveAnswer(_ context.Context, _, _ string, _ model.AnswerEnvelope, _ model.ScoredAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

// stubConnector returns canned envelopes keyed by query text, or an error
// for texts listed in failOn.
type stubConnector struct {
	surface   model.Surface
	webSearch bool
	envelopes map[string]model.AnswerEnvelope
	failOn    map[string]bool
	calls     int
}

func (s *stubConnector) Surface() model.Surface { return s.surface }
func (s *stubConnector) UsesWebSearch() bool    { return s.webSearch }

func (s *stubConnector) Invoke(_ context.Context, query model.Query, _ model.BrandContext) (*model.AnswerEnvelope, error) {
	s.calls++
	if s.failOn[query.Text] {
		return nil, eris.Errorf("provider unavailable for %q", query.Text)
	}
	env := s.envelopes[query.Text]
	return &env, nil
}

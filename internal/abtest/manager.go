package abtest

import (
	"sort"
	"sync"
	"time"

	"github.com/ibrahiminano/pipflow-sub001/internal/model"
	"go.uber.org/zap"
)

// Manager is the registry of tests known to the host.
type Manager struct {
	mu       sync.RWMutex
	tests    map[string]*Test
	onFinish []func(model.ABTestResult)
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{tests: make(map[string]*Test), logger: logger}
}

// OnFinish registers fn for every test created afterwards.
func (m *Manager) OnFinish(fn func(model.ABTestResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = append(m.onFinish, fn)
}

// Create registers a new scheduled test.
func (m *Manager) Create(cfg model.ABTestConfiguration) (*Test, error) {
	t, err := NewTest(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fn := range m.onFinish {
		t.OnFinish(fn)
	}
	m.tests[t.ID()] = t
	return t, nil
}

func (m *Manager) Get(id string) (*Test, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	return t, ok
}

// List returns the current result of every test ordered by id.
func (m *Manager) List() []model.ABTestResult {
	m.mu.RLock()
	tests := make([]*Test, 0, len(m.tests))
	for _, t := range m.tests {
		tests = append(tests, t)
	}
	m.mu.RUnlock()

	out := make([]model.ABTestResult, 0, len(tests))
	for _, t := range tests {
		out = append(out, t.Result())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep completes every running wall-clock test whose duration has elapsed
// at now and returns how many it completed. Replayed tests follow bar time
// and are completed by their Runner.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	tests := make([]*Test, 0, len(m.tests))
	for _, t := range m.tests {
		tests = append(tests, t)
	}
	m.mu.RUnlock()

	completed := 0
	for _, t := range tests {
		if t.Replay() {
			continue
		}
		if t.Tick(now) {
			completed++
		}
	}
	if completed > 0 {
		m.logger.Info("a/b sweep completed tests", zap.Int("count", completed))
	}
	return completed
}

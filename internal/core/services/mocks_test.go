package services

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
)

// MockAPI is a testify mock of ports.ManagementAPI. Every call is also
// appended to a log so tests can assert ordering.
type MockAPI struct {
	mock.Mock

	logMu sync.Mutex
	log   []string
}

func (m *MockAPI) record(method, path string) {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	m.log = append(m.log, method+" "+path)
}

// CallLog returns the "METHOD path" log.
func (m *MockAPI) CallLog() []string {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	return append([]string(nil), m.log...)
}

func (m *MockAPI) Get(ctx context.Context, path string) ([]byte, error) {
	m.record("GET", path)
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockAPI) Post(ctx context.Context, path string, body any) ([]byte, error) {
	m.record("POST", path)
	args := m.Called(ctx, path, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockAPI) Delete(ctx context.Context, path string) ([]byte, error) {
	m.record("DELETE", path)
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// mapStore is a minimal in-package PropertyStore.
type mapStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (s *mapStore) Get(_ context.Context, kind, id, property string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[kind+"/"+id+"/"+property]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, kind, id, property, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[kind+"/"+id+"/"+property] = value
	return nil
}

func (s *mapStore) Properties(_ context.Context, kind, id string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := kind + "/" + id + "/"
	props := make(map[string]string)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			props[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return props, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func newTestValidator(t *testing.T) *SpecValidator {
	t.Helper()
	v, err := NewSpecValidator()
	require.NoError(t, err)
	return v
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports/mocks"
)

func snapshotOf(ids ...domain.AgentID) domain.AgentSnapshot {
	return domain.AgentSnapshot{IDs: ids}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prev    domain.AgentSnapshot
		cur     domain.AgentSnapshot
		added   []domain.AgentID
		removed []domain.AgentID
	}{
		{
			name:    "one in one out",
			prev:    snapshotOf(1, 2, 3),
			cur:     snapshotOf(1, 3, 4),
			added:   []domain.AgentID{4},
			removed: []domain.AgentID{2},
		},
		{
			name:    "identical",
			prev:    snapshotOf(1, 2, 3),
			cur:     snapshotOf(1, 2, 3),
			added:   []domain.AgentID{},
			removed: []domain.AgentID{},
		},
		{
			name:    "order independent",
			prev:    snapshotOf(3, 1, 2),
			cur:     snapshotOf(2, 3, 1),
			added:   []domain.AgentID{},
			removed: []domain.AgentID{},
		},
		{
			name:    "from empty",
			prev:    snapshotOf(),
			cur:     snapshotOf(9, 7),
			added:   []domain.AgentID{7, 9},
			removed: []domain.AgentID{},
		},
		{
			name:    "larger fleet",
			prev:    snapshotOf(1, 5, 17, 149, 150, 151, 152, 153, 154, 155, 156, 157, 158, 159, 160),
			cur:     snapshotOf(1, 5, 17, 150, 151, 152, 153, 154, 155, 156, 157, 158, 159, 160, 165),
			added:   []domain.AgentID{165},
			removed: []domain.AgentID{149},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			delta := Diff(tt.prev, tt.cur)
			assert.Equal(t, tt.added, delta.Added)
			assert.Equal(t, tt.removed, delta.Removed)
		})
	}
}

func TestDiff_SetDifferenceProperty(t *testing.T) {
	t.Parallel()

	a := snapshotOf(1, 2, 3, 4, 5, 6)
	b := snapshotOf(4, 5, 6, 7, 8)
	delta := Diff(a, b)

	for _, id := range delta.Added {
		assert.True(t, b.Contains(id) && !a.Contains(id))
	}
	for _, id := range delta.Removed {
		assert.True(t, a.Contains(id) && !b.Contains(id))
	}
	assert.Len(t, delta.Added, 2)
	assert.Len(t, delta.Removed, 3)

	assert.True(t, Diff(a, a).Empty())
}

const agentsBody = `[
	{"id": 1, "name": "studio", "status": "online", "os": "linux", "tags": {"site": "la"}},
	{"id": 2, "name": "laptop", "online": false}
]`

func TestAgentRegistry_RefreshStoresTopLevelFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockPropertyStore(ctrl)

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(agentsBody), nil)

	store.EXPECT().Set(gomock.Any(), "agent", "1", "id", "1").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "1", "name", "studio").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "1", "status", "online").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "1", "os", "linux").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "1", "tags", `{"site": "la"}`).Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "2", "id", "2").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "2", "name", "laptop").Return(nil)
	store.EXPECT().Set(gomock.Any(), "agent", "2", "online", "false").Return(nil)

	reg := NewAgentRegistry(testLogger(), api, store)
	snap, err := reg.Refresh(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []domain.AgentID{1, 2}, snap.IDs)
	assert.Equal(t, []domain.AgentID{1, 2}, reg.Agents())

	agent, err := reg.Agent(1)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusOnline, agent.Status)
	laptop, err := reg.Agent(2)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusOffline, laptop.Status)
}

func TestAgentRegistry_GetUnknownAgent(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(agentsBody), nil)

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	_, err := reg.Get(context.Background(), 1, "name")
	assert.ErrorIs(t, err, domain.ErrNotFound, "nothing cached before the first refresh")

	_, err = reg.Refresh(context.Background())
	require.NoError(t, err)

	name, err := reg.Get(context.Background(), 1, "name")
	require.NoError(t, err)
	assert.Equal(t, "studio", name)

	_, err = reg.Get(context.Background(), 42, "name")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentRegistry_RefreshPropagatesTransportFailure(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return(nil, fmt.Errorf("dial: %w", domain.ErrRemoteUnavailable)).Once()

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	_, err := reg.Refresh(context.Background())

	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	api.AssertNumberOfCalls(t, "Get", 1)
}

func TestAgentRegistry_RefreshRejectsErrorEnvelope(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`{"code":401,"message":"bad token"}`), nil)

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	_, err := reg.Refresh(context.Background())

	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestAgentRegistry_Watch(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":2},{"id":3}]`), nil).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":3},{"id":4}]`), nil).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return(nil, domain.ErrRemoteUnavailable).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":3},{"id":4}]`), nil)

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		changes   []domain.AgentDelta
		noChanges int
		errs      int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reg.Watch(ctx, 30*time.Millisecond, WatchHandlers{
			OnChange: func(d domain.AgentDelta) {
				mu.Lock()
				changes = append(changes, d)
				mu.Unlock()
			},
			OnNoChange: func() {
				mu.Lock()
				noChanges++
				if noChanges == 1 {
					cancel()
				}
				mu.Unlock()
			},
			OnError: func(err error) {
				assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
				mu.Lock()
				errs++
				mu.Unlock()
			},
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, []domain.AgentID{4}, changes[0].Added)
	assert.Equal(t, []domain.AgentID{2}, changes[0].Removed)
	assert.Equal(t, []domain.AgentID{4, 2}, changes[0].Changed())
	assert.Equal(t, 1, errs, "a failed tick is reported and polling goes on")
	assert.GreaterOrEqual(t, noChanges, 1)
}

func TestAgentRegistry_WatchOverlappingTicks(t *testing.T) {
	t.Parallel()

	release := make(chan time.Time)
	api := new(MockAPI)
	// The first tick's answer arrives only after the second tick was reported.
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":2}]`), nil).WaitUntil(release).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":2},{"id":3}]`), nil)

	reg := NewAgentRegistry(testLogger(), api, newMapStore())

	var (
		mu        sync.Mutex
		changes   []domain.AgentDelta
		noChanges int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reg.Watch(ctx, 20*time.Millisecond, WatchHandlers{
			OnChange: func(d domain.AgentDelta) {
				mu.Lock()
				changes = append(changes, d)
				if len(changes) == 1 {
					close(release)
				}
				mu.Unlock()
			},
			OnNoChange: func() {
				mu.Lock()
				noChanges++
				if noChanges == 2 {
					cancel()
				}
				mu.Unlock()
			},
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1, "a late answer from an earlier tick must not be reported")
	assert.Equal(t, []domain.AgentID{1, 2, 3}, changes[0].Added)
	assert.Empty(t, changes[0].Removed)
	assert.Equal(t, []domain.AgentID{1, 2, 3}, reg.Snapshot().IDs)
}

func TestAgentRegistry_RefreshDropsStaleResult(t *testing.T) {
	t.Parallel()

	release := make(chan time.Time)
	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1,"name":"old"}]`), nil).WaitUntil(release).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1,"name":"new"},{"id":3}]`), nil).Once()

	store := newMapStore()
	reg := NewAgentRegistry(testLogger(), api, store)

	slow := make(chan domain.AgentSnapshot, 1)
	go func() {
		snap, err := reg.Refresh(context.Background())
		assert.NoError(t, err)
		slow <- snap
	}()
	require.Eventually(t, func() bool { return len(api.CallLog()) == 1 }, time.Second, time.Millisecond)

	fresh, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.AgentID{1, 3}, fresh.IDs)

	close(release)
	select {
	case snap := <-slow:
		assert.Equal(t, []domain.AgentID{1, 3}, snap.IDs, "a stale refresh returns the newer cache")
	case <-time.After(5 * time.Second):
		t.Fatal("slow refresh did not return")
	}

	assert.Equal(t, []domain.AgentID{1, 3}, reg.Snapshot().IDs)
	name, err := reg.Get(context.Background(), 1, "name")
	require.NoError(t, err)
	assert.Equal(t, "new", name)
}

// failingStore fails every write of one property.
type failingStore struct {
	*mapStore
	property string
}

func (s *failingStore) Set(ctx context.Context, kind, id, property, value string) error {
	if property == s.property {
		return errors.New("disk full")
	}
	return s.mapStore.Set(ctx, kind, id, property, value)
}

func TestAgentRegistry_RefreshStoreFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1}]`), nil).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":2,"os":"linux"}]`), nil).Once()

	reg := NewAgentRegistry(testLogger(), api, &failingStore{mapStore: newMapStore(), property: "os"})
	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)

	_, err = reg.Refresh(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, []domain.AgentID{1}, reg.Snapshot().IDs)
	_, err = reg.Agent(2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentRegistry_CachedPropertiesOutliveMembership(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1},{"id":2,"name":"london"}]`), nil).Once()
	api.On("Get", mock.Anything, "/api/v2/agents").Return([]byte(`[{"id":1}]`), nil).Once()

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	agent, err := reg.Agent(2)
	require.NoError(t, err)
	assert.Equal(t, "london", agent.Name)

	_, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	_, err = reg.Agent(2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	props, err := reg.CachedProperties(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "london", props["name"])

	_, err = reg.CachedProperties(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ctrl := gomock.NewController(t)
	noList := NewAgentRegistry(testLogger(), api, mocks.NewMockPropertyStore(ctrl))
	_, err = noList.CachedProperties(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAgentRegistry_RefreshJobs(t *testing.T) {
	t.Parallel()

	api := new(MockAPI)
	api.On("Get", mock.Anything, "/api/v2/jobs").Return([]byte(`[
		{"id": 2, "name": "Test Sync Job 1", "type": "sync", "agents": [{"id": 1}, {"id": 5}]},
		{"name": "no id"}
	]`), nil)

	reg := NewAgentRegistry(testLogger(), api, newMapStore())
	refs, err := reg.RefreshJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, domain.JobTypeSync, refs[0].Type)

	agents, err := reg.JobProperty(context.Background(), "2", "agents")
	require.NoError(t, err)
	assert.Equal(t, "1,5", agents)

	_, err = reg.JobProperty(context.Background(), "3", "agents")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

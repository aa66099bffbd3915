package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/model"
)

type memStore struct {
	mu     sync.Mutex
	saves  int
	last   map[int64]*model.Position
	fences map[int64][]int64
}

func newMemStore() *memStore {
	return &memStore{last: map[int64]*model.Position{}, fences: map[int64][]int64{}}
}

func (m *memStore) SaveState(_ context.Context, id int64, last *model.Position, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.last[id] = last
	m.fences[id] = ids
	return nil
}

func (m *memStore) LoadState(_ context.Context, id int64) (*model.Position, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[id], m.fences[id], nil
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(nil, opts...)
	require.NoError(t, r.Register(Device{
		ID:         1,
		UniqueID:   "356307042441013",
		Attributes: map[string]string{"filter.skipAttributes": "alarm"},
	}))
	require.NoError(t, r.Register(Device{ID: 2, UniqueID: "862462030000002"}))
	return r
}

func TestRegisterAndResolve(t *testing.T) {
	r := newTestRegistry(t)

	id, ok := r.ResolveUniqueID("356307042441013")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, ok = r.ResolveUniqueID("000")
	assert.False(t, ok)

	err := r.Register(Device{ID: 3, UniqueID: "356307042441013"})
	assert.True(t, errors.Is(err, ErrDuplicate))
	err = r.Register(Device{ID: 1, UniqueID: "other"})
	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Error(t, r.Register(Device{UniqueID: "x"}))

	assert.Equal(t, "862462030000002", r.UniqueID(2))
	assert.Equal(t, "", r.UniqueID(99))
}

func TestLookupAttributeFallbackChain(t *testing.T) {
	r := newTestRegistry(t, WithDefaults(map[string]string{"filter.skipAttributes": "power"}))

	assert.Equal(t, "alarm", r.LookupAttribute(1, "filter.skipAttributes", ""))
	assert.Equal(t, "power", r.LookupAttribute(2, "filter.skipAttributes", ""))
	assert.Equal(t, "x", r.LookupAttribute(2, "missing", "x"))
}

func TestUpdateUnknownDevice(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Update(context.Background(), 42, func(*Tx) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateStoresCopies(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(t, WithStore(store))

	p := model.NewPosition("test")
	p.DeviceID = 1
	p.ID = r.NextPositionID()
	p.Latitude = 10

	err := r.Update(context.Background(), 1, func(tx *Tx) error {
		assert.Nil(t, tx.Last())
		tx.SetLast(p)
		tx.SetGeofenceIDs([]int64{4, 5})
		return nil
	})
	require.NoError(t, err)

	p.Latitude = 20
	last := r.LastPosition(1)
	require.NotNil(t, last)
	assert.Equal(t, 10.0, last.Latitude)
	assert.True(t, r.IsLatestPosition(p))
	assert.Equal(t, []int64{4, 5}, r.GeofenceIDs(1))
	assert.Equal(t, 1, store.saves)

	// read only updates are not persisted
	require.NoError(t, r.Update(context.Background(), 1, func(tx *Tx) error { return nil }))
	assert.Equal(t, 1, store.saves)
}

func TestUpdateIsSerializedPerDevice(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Update(context.Background(), 1, func(tx *Tx) error {
				ids := tx.GeofenceIDs()
				tx.SetGeofenceIDs(append(ids, int64(len(ids))))
				return nil
			})
		}()
	}
	wg.Wait()

	ids := r.GeofenceIDs(1)
	require.Len(t, ids, 50)
	for i, id := range ids {
		assert.Equal(t, int64(i), id)
	}
}

func TestWarmRestoresStateAndSequence(t *testing.T) {
	store := newMemStore()
	last := model.NewPosition("test")
	last.DeviceID = 2
	last.ID = 77
	store.last[2] = last
	store.fences[2] = []int64{10}

	r := newTestRegistry(t, WithStore(store))
	require.NoError(t, r.Warm(context.Background()))

	assert.Equal(t, int64(77), r.LastPosition(2).ID)
	assert.Equal(t, []int64{10}, r.GeofenceIDs(2))
	assert.Nil(t, r.LastPosition(1))
	assert.Equal(t, int64(78), r.NextPositionID())
}

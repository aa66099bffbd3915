// Package registry owns the process wide device state: identity lookups by
// wire id and the per device last position and geofence membership.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"track-svr/internal/model"
)

var (
	ErrNotFound  = errors.New("device not found")
	ErrDuplicate = errors.New("device already registered")
)

type Device struct {
	ID         int64
	UniqueID   string
	Name       string
	Attributes map[string]string
	// Geofences linked to the device. Empty means every geofence applies.
	GeofenceIDs []int64
}

// StateStore persists device state outside the process.
type StateStore interface {
	SaveState(ctx context.Context, deviceID int64, last *model.Position, geofenceIDs []int64) error
	LoadState(ctx context.Context, deviceID int64) (*model.Position, []int64, error)
}

type deviceState struct {
	// writer serializes Update calls for one device.
	writer sync.Mutex

	mu          sync.RWMutex
	last        *model.Position
	geofenceIDs []int64
}

type Registry struct {
	mu       sync.RWMutex
	byUnique map[string]*Device
	byID     map[int64]*Device
	defaults map[string]string

	statesMu sync.Mutex
	states   map[int64]*deviceState

	store  StateStore
	logger *slog.Logger

	positionSeq atomic.Int64
}

type Option func(*Registry)

func WithStore(s StateStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithDefaults sets server wide attribute values used when a device has
// no override.
func WithDefaults(attrs map[string]string) Option {
	return func(r *Registry) {
		for k, v := range attrs {
			r.defaults[k] = v
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byUnique: make(map[string]*Device),
		byID:     make(map[int64]*Device),
		defaults: make(map[string]string),
		states:   make(map[int64]*deviceState),
		logger:   logger.With("component", "registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(d Device) error {
	if d.ID == 0 || d.UniqueID == "" {
		return fmt.Errorf("register device %q: id and uniqueId are required", d.UniqueID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUnique[d.UniqueID]; ok {
		return fmt.Errorf("register %s: %w", d.UniqueID, ErrDuplicate)
	}
	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("register id %d: %w", d.ID, ErrDuplicate)
	}
	dev := d
	r.byUnique[d.UniqueID] = &dev
	r.byID[d.ID] = &dev
	return nil
}

// ResolveUniqueID maps a wire id to the internal device id.
func (r *Registry) ResolveUniqueID(uniqueID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byUnique[uniqueID]
	if !ok {
		return 0, false
	}
	return d.ID, true
}

func (r *Registry) Device(id int64) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

func (r *Registry) UniqueID(id int64) string {
	d, ok := r.Device(id)
	if !ok {
		return ""
	}
	return d.UniqueID
}

// LookupAttribute returns the device attribute, then the server default,
// then fallback.
func (r *Registry) LookupAttribute(id int64, key, fallback string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byID[id]; ok {
		if v, ok := d.Attributes[key]; ok {
			return v
		}
	}
	if v, ok := r.defaults[key]; ok {
		return v
	}
	return fallback
}

func (r *Registry) LinkedGeofences(id int64) []int64 {
	d, ok := r.Device(id)
	if !ok {
		return nil
	}
	return append([]int64(nil), d.GeofenceIDs...)
}

func (r *Registry) state(id int64) *deviceState {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()
	st, ok := r.states[id]
	if !ok {
		st = &deviceState{}
		r.states[id] = st
	}
	return st
}

func (r *Registry) peek(id int64) *deviceState {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()
	return r.states[id]
}

// LastPosition returns the latest accepted position or nil. The returned
// value is shared and must not be modified.
func (r *Registry) LastPosition(id int64) *model.Position {
	st := r.peek(id)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.last
}

// IsLatestPosition reports whether p is the most recent known fix of its device.
func (r *Registry) IsLatestPosition(p *model.Position) bool {
	last := r.LastPosition(p.DeviceID)
	return last != nil && last.ID == p.ID
}

func (r *Registry) GeofenceIDs(id int64) []int64 {
	st := r.peek(id)
	if st == nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return append([]int64(nil), st.geofenceIDs...)
}

// NextPositionID hands out position ids in increasing order.
func (r *Registry) NextPositionID() int64 {
	return r.positionSeq.Add(1)
}

// Update runs fn as the single writer of the device state. Calls for the
// same device never overlap and run in call order of lock acquisition.
func (r *Registry) Update(ctx context.Context, id int64, fn func(tx *Tx) error) error {
	if _, ok := r.Device(id); !ok {
		return fmt.Errorf("update %d: %w", id, ErrNotFound)
	}
	st := r.state(id)
	st.writer.Lock()
	defer st.writer.Unlock()

	tx := &Tx{deviceID: id, st: st}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty && r.store != nil {
		if err := r.store.SaveState(ctx, id, tx.Last(), tx.GeofenceIDs()); err != nil {
			r.logger.Warn("state save failed", "deviceId", id, "err", err)
		}
	}
	return nil
}

// Warm loads persisted state for every registered device.
func (r *Registry) Warm(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	ids := make([]int64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var maxID int64
	for _, id := range ids {
		last, geofences, err := r.store.LoadState(ctx, id)
		if err != nil {
			return fmt.Errorf("warm device %d: %w", id, err)
		}
		if last == nil && len(geofences) == 0 {
			continue
		}
		st := r.state(id)
		st.mu.Lock()
		st.last = last
		st.geofenceIDs = geofences
		st.mu.Unlock()
		if last != nil && last.ID > maxID {
			maxID = last.ID
		}
	}
	if maxID > r.positionSeq.Load() {
		r.positionSeq.Store(maxID)
	}
	r.logger.Info("device state loaded", "devices", len(ids))
	return nil
}

// Tx is the write handle passed to Update.
type Tx struct {
	deviceID int64
	st       *deviceState
	dirty    bool
}

func (t *Tx) DeviceID() int64 { return t.deviceID }

func (t *Tx) Last() *model.Position {
	t.st.mu.RLock()
	defer t.st.mu.RUnlock()
	return t.st.last
}

// SetLast stores a private copy of p.
func (t *Tx) SetLast(p *model.Position) {
	c := p.Clone()
	t.st.mu.Lock()
	t.st.last = c
	t.st.mu.Unlock()
	t.dirty = true
}

func (t *Tx) GeofenceIDs() []int64 {
	t.st.mu.RLock()
	defer t.st.mu.RUnlock()
	return append([]int64(nil), t.st.geofenceIDs...)
}

func (t *Tx) SetGeofenceIDs(ids []int64) {
	c := append([]int64(nil), ids...)
	t.st.mu.Lock()
	t.st.geofenceIDs = c
	t.st.mu.Unlock()
	t.dirty = true
}

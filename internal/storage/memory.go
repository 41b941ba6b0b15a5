package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// MemoryStore is the in-process fallback used for local runs and tests.
// Change notifications fan out to every open subscription with the
// post-change document embedded, the way a change-stream-capable backend
// would deliver them.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	profiles map[string]*models.ProfileSummary
	subs     map[*memorySub]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		profiles: make(map[string]*models.ProfileSummary),
		subs:     make(map[*memorySub]struct{}),
	}
}

func (m *MemoryStore) ListRides(ctx context.Context, q ListQuery) ([]*models.Ride, error) {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	m.mu.RLock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if q.OwnerID != "" && r.UserID != q.OwnerID {
			continue
		}
		c := m.withProfileLocked(r)
		if !q.All && !c.ActiveAt(now) {
			continue
		}
		if q.Type != "" && c.Type != q.Type {
			continue
		}
		if q.Community != "" && !c.InCommunity(q.Community) {
			continue
		}
		if q.Search != "" && !c.MatchesSearch(q.Search) {
			continue
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sortForQuery(out, q.SortBy)
	return out, nil
}

func sortForQuery(list []*models.Ride, sortBy string) {
	switch sortBy {
	case "oldest":
		sort.SliceStable(list, func(i, j int) bool { return list[i].SortKey().Before(list[j].SortKey()) })
	case "date":
		sort.SliceStable(list, func(i, j int) bool {
			di, iok := list[i].Departure()
			dj, jok := list[j].Departure()
			if iok != jok {
				return iok
			}
			return di.Before(dj)
		})
	default: // newest
		sort.SliceStable(list, func(i, j int) bool { return list[i].SortKey().After(list[j].SortKey()) })
	}
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withProfileLocked(r), nil
}

// withProfileLocked clones the ride with its owner summary attached, the
// equivalent of the SQL store's profiles join. Callers hold at least the
// read lock.
func (m *MemoryStore) withProfileLocked(r *models.Ride) *models.Ride {
	c := r.Clone()
	if c.Profiles == nil {
		if p, ok := m.profiles[c.UserID]; ok {
			cp := *p
			c.Profiles = &cp
		}
	}
	return c
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	m.rides[r.ID] = r.Clone()
	m.mu.Unlock()
	m.notify(Change{Op: OpInsert, RideID: r.ID, Ride: r.Clone()})
	return nil
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	if _, ok := m.rides[r.ID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.rides[r.ID] = r.Clone()
	m.mu.Unlock()
	m.notify(Change{Op: OpUpdate, RideID: r.ID, Ride: r.Clone()})
	return nil
}

func (m *MemoryStore) DeleteRide(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.rides[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.rides, id)
	m.mu.Unlock()
	m.notify(Change{Op: OpDelete, RideID: id})
	return nil
}

func (m *MemoryStore) ExpiredRides(ctx context.Context, now time.Time) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.IsArchived || r.ExpiresAt.After(now) {
			continue
		}
		if p, ok := m.profiles[r.UserID]; ok && p.DisableAutoExpiry {
			continue
		}
		out = append(out, m.withProfileLocked(r))
	}
	return out, nil
}

func (m *MemoryStore) ArchiveExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	expired, err := m.ExpiredRides(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range expired {
		r.IsArchived = true
		r.UpdatedAt = time.Now()
		if err := m.UpdateRide(ctx, r); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.ProfileSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// PutProfile seeds an owner profile; used by local wiring and tests.
func (m *MemoryStore) PutProfile(userID string, p *models.ProfileSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[userID] = &cp
}

type memorySub struct {
	store  *MemoryStore
	events chan Change
	once   sync.Once
}

func (s *memorySub) Events() <-chan Change { return s.events }
func (s *memorySub) Err() error            { return nil }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s)
		close(s.events)
		s.store.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context) (Subscription, error) {
	sub := &memorySub{store: m, events: make(chan Change, 64)}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}

// notify sends under the read lock so Close (which takes the write lock
// before closing the channel) can never race a send.
func (m *MemoryStore) notify(c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		select {
		case s.events <- c:
		default: // slow consumer; the stream is best-effort, drop
		}
	}
}

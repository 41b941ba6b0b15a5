package reconciler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// View is the single owned store behind every component that renders the
// feed. It holds two lists: all (everything the server-side query returned
// plus merged events) and visible (all filtered and sorted for the current
// view). Initial fetch, REST refetch and stream events all funnel through it,
// so the merge logic exists exactly once.
//
// Methods take the lock and mutate in discrete steps; visible is always
// rederived from all with the shared predicate and sort, which is what keeps
// incremental merging and a from-scratch recompute provably identical.
type View struct {
	mu      sync.Mutex
	all     []*models.Ride
	visible []*models.Ride
	filters Filters
	sortBy  SortBy

	// now is a clock hook for tests.
	now func() time.Time
}

func NewView(filters Filters, sortBy SortBy) *View {
	if sortBy == "" {
		sortBy = SortNewest
	}
	return &View{filters: filters, sortBy: sortBy, now: time.Now}
}

// SetClock overrides the view's clock; tests pin it.
func (v *View) SetClock(now func() time.Time) {
	v.mu.Lock()
	v.now = now
	v.mu.Unlock()
}

// Snapshot captures both lists so an optimistic mutation can be rolled back
// wholesale if its REST call fails.
type Snapshot struct {
	all []*models.Ride
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{all: cloneList(v.all)}
}

// Restore rewinds the view to a snapshot, dropping every mutation since.
func (v *View) Restore(s Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.all = cloneList(s.all)
	v.recompute()
}

// SetData replaces the store contents with a fresh server fetch.
func (v *View) SetData(list []*models.Ride) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.all = cloneList(list)
	v.recompute()
}

// SetFilters re-filters already-held data without a network round trip.
func (v *View) SetFilters(f Filters) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters = f
	v.recompute()
}

// SetSort re-sorts already-held data without a network round trip.
func (v *View) SetSort(by SortBy) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortBy = by
	v.recompute()
}

// Refresh recomputes visibility against the current clock. A periodic tick
// calls this so countdown displays and just-passed expiries update without a
// refetch.
func (v *View) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recompute()
}

// Apply merges one stream event. Events arrive in no guaranteed order and
// possibly more than once; every branch is written to be idempotent and to
// commute with the others for the same ride id.
func (v *View) Apply(ev models.StreamEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch ev.Kind {
	case models.EventInsert:
		if v.indexOf(ev.Ride.ID) >= 0 {
			return // duplicate delivery
		}
		v.all = append([]*models.Ride{ev.Ride.Clone()}, v.all...)
	case models.EventUpdate, models.EventExpire:
		// expire is an update whose fields have crossed the expiry rule; the
		// ride stays in all (the owner's view still shows it) and the
		// predicate decides feed visibility.
		if i := v.indexOf(ev.Ride.ID); i >= 0 {
			v.all[i] = ev.Ride.Clone()
		} else {
			v.all = append([]*models.Ride{ev.Ride.Clone()}, v.all...)
		}
	case models.EventDelete:
		v.removeLocked(ev.RideID)
	default:
		return // connected/error frames carry no list change
	}
	v.recompute()
}

// OptimisticCreate inserts a temporary ride immediately, before the create
// call resolves. The returned ride carries a temp- id that must never reach
// the server; ConfirmCreate swaps it for the confirmed record.
func (v *View) OptimisticCreate(in models.RideInput, userID string, profile *models.ProfileSummary) *models.Ride {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	r := &models.Ride{
		ID:        "temp-" + uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: models.DefaultExpiry(in, now),
		Profiles:  profile,
	}
	in.ApplyTo(r)
	v.all = append([]*models.Ride{r}, v.all...)
	v.recompute()
	return r.Clone()
}

// ConfirmCreate replaces the temporary entry with the server-confirmed
// record. If the stream already delivered the confirmed insert, the temp
// entry is simply dropped so exactly one record with the real id remains.
func (v *View) ConfirmCreate(tempID string, confirmed *models.Ride) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeLocked(tempID)
	if v.indexOf(confirmed.ID) < 0 {
		v.all = append([]*models.Ride{confirmed.Clone()}, v.all...)
	}
	v.recompute()
}

// OptimisticUpdate merges the edited fields into the held record
// immediately. Callers keep the Snapshot taken beforehand for rollback.
func (v *View) OptimisticUpdate(id string, in models.RideInput) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexOf(id)
	if i < 0 {
		return
	}
	r := v.all[i].Clone()
	in.ApplyTo(r)
	r.UpdatedAt = v.now()
	v.all[i] = r
	v.recompute()
}

// ConfirmUpdate reconciles the authoritative record. A response older than
// what the view already holds is a superseded in-flight call and is
// discarded.
func (v *View) ConfirmUpdate(confirmed *models.Ride) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexOf(confirmed.ID)
	if i < 0 {
		v.all = append([]*models.Ride{confirmed.Clone()}, v.all...)
	} else {
		if v.all[i].UpdatedAt.After(confirmed.UpdatedAt) {
			return
		}
		v.all[i] = confirmed.Clone()
	}
	v.recompute()
}

// OptimisticDelete removes the ride immediately; rollback is via Snapshot.
func (v *View) OptimisticDelete(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removeLocked(id)
	v.recompute()
}

// All returns a copy of the unfiltered list.
func (v *View) All() []*models.Ride {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneList(v.all)
}

// Visible returns a copy of the filtered, sorted list.
func (v *View) Visible() []*models.Ride {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneList(v.visible)
}

// Get looks a ride up by id in the unfiltered list.
func (v *View) Get(id string) (*models.Ride, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		return v.all[i].Clone(), true
	}
	return nil, false
}

func (v *View) indexOf(id string) int {
	for i, r := range v.all {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (v *View) removeLocked(id string) {
	if i := v.indexOf(id); i >= 0 {
		v.all = append(v.all[:i:i], v.all[i+1:]...)
	}
}

func (v *View) recompute() {
	now := v.now()
	out := make([]*models.Ride, 0, len(v.all))
	for _, r := range v.all {
		if ShouldInclude(r, v.filters, now) {
			out = append(out, r)
		}
	}
	SortRides(out, v.sortBy)
	v.visible = out
}

func cloneList(list []*models.Ride) []*models.Ride {
	out := make([]*models.Ride, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

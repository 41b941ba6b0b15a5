package reconciler

import (
	"sort"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// Filters describes the client's current view of the feed. The zero value is
// the unfiltered public feed.
type Filters struct {
	Type         string // offering, seeking
	Gender       string // match rides open to this gender
	VerifiedOnly bool
	Community    string
	Search       string

	// IncludeInactive keeps archived/expired rides visible, as the
	// owner-scoped "my rides" view does. The public feed leaves it false.
	IncludeInactive bool
}

// SortBy selects the feed ordering.
type SortBy string

const (
	SortNewest SortBy = "newest"
	SortOldest SortBy = "oldest"
	SortDate   SortBy = "date"
)

// ShouldInclude is the single predicate every update path runs a ride
// through: the initial fetch, REST refetches and streamed events must agree
// on visibility or the list flickers.
func ShouldInclude(r *models.Ride, f Filters, now time.Time) bool {
	if !f.IncludeInactive && !r.ActiveAt(now) {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Gender != "" && r.GenderPreference != "" && r.GenderPreference != "any" && r.GenderPreference != f.Gender {
		return false
	}
	if f.VerifiedOnly && (r.Profiles == nil || !r.Profiles.NICVerified) {
		return false
	}
	if f.Community != "" && !r.InCommunity(f.Community) {
		return false
	}
	if f.Search != "" && !r.MatchesSearch(f.Search) {
		return false
	}
	return true
}

// SortRides orders the list in place. newest/oldest order by updated_at
// falling back to created_at; date orders by the combined ride date+time
// ascending, unparseable departures last.
func SortRides(list []*models.Ride, by SortBy) {
	switch by {
	case SortOldest:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].SortKey().Before(list[j].SortKey())
		})
	case SortDate:
		sort.SliceStable(list, func(i, j int) bool {
			di, iok := list[i].Departure()
			dj, jok := list[j].Departure()
			if iok != jok {
				return iok
			}
			return di.Before(dj)
		})
	default:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].SortKey().After(list[j].SortKey())
		})
	}
}

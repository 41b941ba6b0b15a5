package models

import (
	"strings"
	"time"
)

// ProfileSummary is the owner snapshot embedded in feed events and list
// responses: just enough for the client to render a ride card and decide
// whether auto-expiry applies.
type ProfileSummary struct {
	FullName          string `json:"full_name"`
	NICVerified       bool   `json:"nic_verified"`
	DisableAutoExpiry bool   `json:"disable_auto_expiry"`
}

// Ride is the normalized ride shape shared by the REST API, the event
// stream and the reconciler. Field names are the wire names.
type Ride struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"` // offering, seeking
	GenderPreference string          `json:"gender_preference"`
	StartLocation    string          `json:"start_location"`
	EndLocation      string          `json:"end_location"`
	RideDate         string          `json:"ride_date"` // YYYY-MM-DD
	RideTime         string          `json:"ride_time"` // HH:MM
	SeatsAvailable   *int            `json:"seats_available"`
	Description      string          `json:"description"`
	Phone            string          `json:"phone"`
	ExpiresAt        time.Time       `json:"expires_at"`
	IsArchived       bool            `json:"is_archived"`
	UserID           string          `json:"user_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CommunityIDs     []string        `json:"community_ids"`
	RecurringDays    []string        `json:"recurring_days"`
	Profiles         *ProfileSummary `json:"profiles"`
}

// ActiveAt reports whether the ride belongs in the public feed at the given
// instant: not archived, and either its owner opted out of auto-expiry or the
// expiry instant has not passed. Every read path evaluates this same rule.
func (r *Ride) ActiveAt(now time.Time) bool {
	if r.IsArchived {
		return false
	}
	if r.Profiles != nil && r.Profiles.DisableAutoExpiry {
		return true
	}
	return r.ExpiresAt.After(now)
}

// SortKey is the timestamp used by newest/oldest ordering.
func (r *Ride) SortKey() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// Departure combines ride_date and ride_time into a single instant for the
// by-date sort. Rides with unparseable values sort last.
func (r *Ride) Departure() (time.Time, bool) {
	t, err := time.Parse("2006-01-02 15:04", r.RideDate+" "+r.RideTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TimeToExpiry is the countdown shown next to active rides. Negative means
// already expired.
func (r *Ride) TimeToExpiry(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// Clone returns a copy with its own slices, so reconciler snapshots are not
// aliased by later merges.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.CommunityIDs != nil {
		c.CommunityIDs = append([]string(nil), r.CommunityIDs...)
	}
	if r.RecurringDays != nil {
		c.RecurringDays = append([]string(nil), r.RecurringDays...)
	}
	if r.Profiles != nil {
		p := *r.Profiles
		c.Profiles = &p
	}
	return &c
}

// MatchesSearch reports a case-insensitive substring match over the ride's
// locations and description. The list endpoint and the reconciler both use
// this so a search behaves identically server- and client-side.
func (r *Ride) MatchesSearch(q string) bool {
	s := strings.ToLower(q)
	return strings.Contains(strings.ToLower(r.StartLocation), s) ||
		strings.Contains(strings.ToLower(r.EndLocation), s) ||
		strings.Contains(strings.ToLower(r.Description), s)
}

// InCommunity reports membership in the given community id.
func (r *Ride) InCommunity(id string) bool {
	for _, c := range r.CommunityIDs {
		if c == id {
			return true
		}
	}
	return false
}

// RideInput is the create/update payload accepted by the REST API.
type RideInput struct {
	Type             string     `json:"type" validate:"required,oneof=offering seeking"`
	GenderPreference string     `json:"gender_preference" validate:"omitempty,oneof=any male female"`
	StartLocation    string     `json:"start_location" validate:"required"`
	EndLocation      string     `json:"end_location" validate:"required"`
	RideDate         string     `json:"ride_date" validate:"required,datetime=2006-01-02"`
	RideTime         string     `json:"ride_time" validate:"required"`
	SeatsAvailable   *int       `json:"seats_available" validate:"omitempty,min=1,max=10"`
	Description      string     `json:"description"`
	Phone            string     `json:"phone" validate:"required"`
	ExpiresAt        *time.Time `json:"expires_at"`
	CommunityIDs     []string   `json:"community_ids"`
	RecurringDays    []string   `json:"recurring_days" validate:"dive,oneof=mon tue wed thu fri sat sun"`
}

/// DefaultExpiry picks the expiry for a new ride: an explicit instant wins,
// otherwise six hours past departure, otherwise a day from now. The create
// handler and the optimistic create use the same rule so the temporary record
// and the confirmed one agree.
func DefaultExpiry(in RideInput, now time.Time) time.Time {
	if in.ExpiresAt != nil {
		return *in.ExpiresAt
	}
	probe := Ride{RideDate: in.RideDate, RideTime: in.RideTime}
	if dep, ok := probe.Departure(); ok {
		return dep.Add(6 * time.Hour)
	}
	return now.Add(24 * time.Hour)
}

// ApplyTo merges the input into an existing ride, leaving identity and
// lifecycle bookkeeping alone.
func (in *RideInput) ApplyTo(r *Ride) {
	r.Type = in.Type
	r.GenderPreference = in.GenderPreference
	r.StartLocation = in.StartLocation
	r.EndLocation = in.EndLocation
	r.RideDate = in.RideDate
	r.RideTime = in.RideTime
	r.SeatsAvailable = in.SeatsAvailable
	r.Description = in.Description
	r.Phone = in.Phone
	if in.ExpiresAt != nil {
		r.ExpiresAt = *in.ExpiresAt
		r.IsArchived = false // a future expiry reactivates the ride
	}
	r.CommunityIDs = in.CommunityIDs
	r.RecurringDays = in.RecurringDays
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

// ErrNotFound is returned when a ride or profile id does not exist.
var ErrNotFound = errors.New("not found")

// ListQuery mirrors the feed's query params. Zero values mean "no filter".
type ListQuery struct {
	Search    string // case-insensitive substring over locations/description
	Community string
	Type      string // offering, seeking
	OwnerID   string // restrict to one owner ("my rides" view)
	All       bool   // include archived/expired (owner-scoped views only)
	SortBy    string // newest (default), oldest, date
	Now       time.Time
}

// ChangeOp is the raw operation reported by the change feed.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one low-level change notification. Ride carries the post-change
// document when the backend can provide it; the Postgres listener only
// delivers the id and leaves resolution to the consumer. Deletes never carry
// a document.
type Change struct {
	Op     ChangeOp
	RideID string
	Ride   *models.Ride
}

// Subscription is one observer's handle on the ride change feed. Events is
// closed when the subscription ends, either through Close or an underlying
// feed failure; Err reports the failure after close.
type Subscription interface {
	Events() <-chan Change
	Err() error
	Close() error
}

// RideStore defines persistence operations for rides and owner profiles.
type RideStore interface {
	ListRides(ctx context.Context, q ListQuery) ([]*models.Ride, error)
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	CreateRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
	DeleteRide(ctx context.Context, id string) error

	// ExpiredRides returns unarchived rides whose expiry instant has passed,
	// excluding owners who disabled auto-expiry.
	ExpiredRides(ctx context.Context, now time.Time) ([]*models.Ride, error)

	// ArchiveExpired flags rides expired before the cutoff and returns how
	// many were archived.
	ArchiveExpired(ctx context.Context, cutoff time.Time) (int64, error)

	GetProfile(ctx context.Context, userID string) (*models.ProfileSummary, error)

	// Subscribe opens a change feed over insert/update/delete on rides.
	Subscribe(ctx context.Context) (Subscription, error)
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
)

// ErrStorageFailure wraps any I/O, connection or timeout failure of a backend.
// Callers treat it as transient: nothing is corrupted and the operation may be
// retried.
var ErrStorageFailure = errors.New("storage failure")

// ErrNotFound is returned when an identity name cannot be resolved.
var ErrNotFound = errors.New("not found")

// OpTimeout bounds every backend round-trip. A timed-out operation surfaces
// as ErrStorageFailure, never as a silently dropped write.
const OpTimeout = 5 * time.Second

// PunishmentStore is the storage contract implemented identically by every
// backend. Records are never deleted; MarkInactive is the only mutation after
// Save. All string fields are untrusted text and SQL backends must bind them
// as parameters.
type PunishmentStore interface {
	// Save inserts a new punishment record.
	Save(ctx context.Context, p *model.Punishment) error

	// MarkInactive flips active=false for the record identified by the pair
	// (subjectID, createdAt). Idempotent: marking an already inactive record
	// is a no-op.
	MarkInactive(ctx context.Context, subjectID uuid.UUID, createdAt int64) error

	// QueryActive returns all records for the subject whose stored active
	// flag is true. Expiry filtering is the caller's concern, since "now"
	// belongs to the caller, not the storage.
	QueryActive(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error)

	// QueryHistory returns all records for the subject, newest first.
	QueryHistory(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error)

	// QueryByIP returns all records bearing the given IP address, any kind.
	QueryByIP(ctx context.Context, ip string) ([]*model.Punishment, error)

	// ListActive returns every record with a stored active flag of true,
	// across all subjects. Used for the startup index load.
	ListActive(ctx context.Context) ([]*model.Punishment, error)

	// ResolveIdentity looks up a subject ID by display name. Names are
	// case-insensitive. Returns ErrNotFound for unknown names.
	ResolveIdentity(ctx context.Context, name string) (uuid.UUID, error)

	// LookupName returns the last known display name for a subject ID.
	// Returns ErrNotFound if the subject was never seen.
	LookupName(ctx context.Context, subjectID uuid.UUID) (string, error)

	// CacheIdentity records a name to subject ID association, last write wins.
	CacheIdentity(ctx context.Context, name string, subjectID uuid.UUID) error

	// ListKnownNames returns every display name in the identity cache.
	ListKnownNames(ctx context.Context) ([]string, error)

	// ClearAll wipes all punishments and cached identities. Administrative
	// use only.
	ClearAll(ctx context.Context) error

	Close() error
}

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NeverExpires is the ExpiresAt sentinel for punishments without an expiration.
const NeverExpires int64 = -1

// Kind identifies the type of a punishment.
type Kind string

const (
	KindBan      Kind = "BAN"
	KindTempBan  Kind = "TEMPBAN"
	KindIPBan    Kind = "IPBAN"
	KindMute     Kind = "MUTE"
	KindTempMute Kind = "TEMPMUTE"
	KindKick     Kind = "KICK"
)

// Category groups punishment kinds for conflict checks: a subject may hold at
// most one active punishment per category.
type Category string

const (
	CategoryBan  Category = "ban"
	CategoryMute Category = "mute"
	CategoryNone Category = ""
)

// IsTemporary reports whether the kind carries an expiration.
func (k Kind) IsTemporary() bool {
	return k == KindTempBan || k == KindTempMute
}

// IsBan reports whether the kind is ban-like (including IP bans).
func (k Kind) IsBan() bool {
	return k == KindBan || k == KindTempBan || k == KindIPBan
}

// IsMute reports whether the kind is mute-like.
func (k Kind) IsMute() bool {
	return k == KindMute || k == KindTempMute
}

// Category returns the conflict-check category for the kind. Kicks are
// point-in-time events and belong to no category.
func (k Kind) Category() Category {
	switch {
	case k.IsBan():
		return CategoryBan
	case k.IsMute():
		return CategoryMute
	default:
		return CategoryNone
	}
}

// Valid reports whether k is one of the known punishment kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBan, KindTempBan, KindIPBan, KindMute, KindTempMute, KindKick:
		return true
	}
	return false
}

// Punishment is one punitive action on record. A record is created once and
// never deleted; its Active flag is flipped to false at most once, either by
// an explicit revoke or by expiry. The pair (SubjectID, CreatedAt) uniquely
// identifies a record, since a subject accumulates historical records.
type Punishment struct {
	// SubjectID is the stable identity key. Pure IP bans use uuid.Nil.
	SubjectID uuid.UUID `json:"subject_id" bson:"subject_id"`

	// SubjectName is the last known display name, informational only.
	SubjectName string `json:"subject_name" bson:"subject_name"`

	// IPAddress is required for IP bans, captured opportunistically otherwise.
	IPAddress string `json:"ip_address,omitempty" bson:"ip_address"`

	Kind     Kind   `json:"kind" bson:"kind"`
	Reason   string `json:"reason" bson:"reason"`
	Operator string `json:"operator" bson:"operator"`

	// CreatedAt and ExpiresAt are Unix milliseconds. ExpiresAt is NeverExpires
	// for permanent punishments, otherwise strictly after CreatedAt.
	CreatedAt int64 `json:"created_at" bson:"created_at"`
	ExpiresAt int64 `json:"expires_at" bson:"expires_at"`

	Active bool `json:"active" bson:"active"`
}

// NewPermanent creates a permanent punishment (ban, IP ban or mute).
func NewPermanent(subjectID uuid.UUID, name, ip string, kind Kind, reason, operator string) *Punishment {
	return &Punishment{
		SubjectID:   subjectID,
		SubjectName: name,
		IPAddress:   ip,
		Kind:        kind,
		Reason:      reason,
		Operator:    operator,
		CreatedAt:   time.Now().UnixMilli(),
		ExpiresAt:   NeverExpires,
		Active:      true,
	}
}

// NewTemporary creates a punishment that expires after the given duration.
func NewTemporary(subjectID uuid.UUID, name, ip string, kind Kind, reason, operator string, duration time.Duration) *Punishment {
	now := time.Now().UnixMilli()
	return &Punishment{
		SubjectID:   subjectID,
		SubjectName: name,
		IPAddress:   ip,
		Kind:        kind,
		Reason:      reason,
		Operator:    operator,
		CreatedAt:   now,
		ExpiresAt:   now + duration.Milliseconds(),
		Active:      true,
	}
}

// NewKick creates a kick record. Kicks represent a past event, not an ongoing
// restriction, so they are created already inactive and only show in history.
func NewKick(subjectID uuid.UUID, name, ip, reason, operator string) *Punishment {
	return &Punishment{
		SubjectID:   subjectID,
		SubjectName: name,
		IPAddress:   ip,
		Kind:        KindKick,
		Reason:      reason,
		Operator:    operator,
		CreatedAt:   time.Now().UnixMilli(),
		ExpiresAt:   NeverExpires,
		Active:      false,
	}
}

// Expired reports whether the punishment's expiry has passed at the given time.
// Permanent punishments never expire.
func (p *Punishment) Expired(now time.Time) bool {
	if p.ExpiresAt == NeverExpires {
		return false
	}
	return now.UnixMilli() >= p.ExpiresAt
}

// IsActive reports whether the punishment is in force at the given time. This
// is derived from the stored Active flag and the expiry; it is never persisted
// on its own.
func (p *Punishment) IsActive(now time.Time) bool {
	return p.Active && !p.Expired(now)
}

// Remaining returns the time left until expiry, or zero for permanent or
// already expired punishments.
func (p *Punishment) Remaining(now time.Time) time.Duration {
	if p.ExpiresAt == NeverExpires {
		return 0
	}
	left := time.Duration(p.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}

func (p *Punishment) String() string {
	return fmt.Sprintf("Punishment{subject=%s name=%q kind=%s reason=%q operator=%q createdAt=%d expiresAt=%d active=%v}",
		p.SubjectID, p.SubjectName, p.Kind, p.Reason, p.Operator, p.CreatedAt, p.ExpiresAt, p.Active)
}

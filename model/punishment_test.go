package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		kind      Kind
		temporary bool
		ban       bool
		mute      bool
		category  Category
	}{
		{KindBan, false, true, false, CategoryBan},
		{KindTempBan, true, true, false, CategoryBan},
		{KindIPBan, false, true, false, CategoryBan},
		{KindMute, false, false, true, CategoryMute},
		{KindTempMute, true, false, true, CategoryMute},
		{KindKick, false, false, false, CategoryNone},
	}

	for _, tt := range tests {
		if got := tt.kind.IsTemporary(); got != tt.temporary {
			t.Errorf("%s.IsTemporary() = %v, want %v", tt.kind, got, tt.temporary)
		}
		if got := tt.kind.IsBan(); got != tt.ban {
			t.Errorf("%s.IsBan() = %v, want %v", tt.kind, got, tt.ban)
		}
		if got := tt.kind.IsMute(); got != tt.mute {
			t.Errorf("%s.IsMute() = %v, want %v", tt.kind, got, tt.mute)
		}
		if got := tt.kind.Category(); got != tt.category {
			t.Errorf("%s.Category() = %v, want %v", tt.kind, got, tt.category)
		}
		if !tt.kind.Valid() {
			t.Errorf("%s.Valid() = false, want true", tt.kind)
		}
	}

	if Kind("BOGUS").Valid() {
		t.Error("unknown kind should not be valid")
	}
}

func TestNewPermanent(t *testing.T) {
	id := uuid.New()
	p := NewPermanent(id, "steve", "203.0.113.5", KindBan, "griefing", "admin")

	if p.SubjectID != id {
		t.Errorf("SubjectID = %v, want %v", p.SubjectID, id)
	}
	if p.ExpiresAt != NeverExpires {
		t.Errorf("ExpiresAt = %d, want NeverExpires", p.ExpiresAt)
	}
	if !p.Active {
		t.Error("permanent punishment should be created active")
	}
	if p.Expired(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Error("permanent punishment should never expire")
	}
	if !p.IsActive(time.Now()) {
		t.Error("fresh permanent punishment should be active")
	}
}

func TestNewTemporary(t *testing.T) {
	id := uuid.New()
	p := NewTemporary(id, "steve", "", KindTempBan, "spam", "admin", time.Minute)

	if p.ExpiresAt != p.CreatedAt+time.Minute.Milliseconds() {
		t.Errorf("ExpiresAt = %d, want createdAt+60000", p.ExpiresAt)
	}

	created := time.UnixMilli(p.CreatedAt)
	if !p.IsActive(created.Add(30 * time.Second)) {
		t.Error("should be active before expiry")
	}
	if p.IsActive(created.Add(61 * time.Second)) {
		t.Error("should not be active after expiry")
	}
	// Expiry boundary is inclusive: at exactly expiresAt the punishment is over.
	if p.IsActive(created.Add(time.Minute)) {
		t.Error("should not be active at the exact expiry instant")
	}
}

func TestIsActiveIgnoresStoredFlagAfterExpiry(t *testing.T) {
	p := NewTemporary(uuid.New(), "steve", "", KindTempMute, "", "console", time.Second)
	p.Active = true // stored flag still set, sweeper hasn't run

	if p.IsActive(time.UnixMilli(p.ExpiresAt).Add(time.Millisecond)) {
		t.Error("expired punishment must be inactive regardless of the stored flag")
	}
}

func TestNewKickIsInactive(t *testing.T) {
	p := NewKick(uuid.New(), "steve", "", "caps", "admin")

	if p.Active {
		t.Error("kick records must be created inactive")
	}
	if p.IsActive(time.Now()) {
		t.Error("kick records must never report active")
	}
	if p.Kind.Category() != CategoryNone {
		t.Error("kicks must not participate in category conflict checks")
	}
}

func TestRemaining(t *testing.T) {
	p := NewTemporary(uuid.New(), "steve", "", KindTempBan, "", "admin", time.Hour)

	created := time.UnixMilli(p.CreatedAt)
	if got := p.Remaining(created.Add(30 * time.Minute)); got != 30*time.Minute {
		t.Errorf("Remaining = %v, want 30m", got)
	}
	if got := p.Remaining(created.Add(2 * time.Hour)); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}

	perm := NewPermanent(uuid.New(), "steve", "", KindBan, "", "admin")
	if got := perm.Remaining(time.Now()); got != 0 {
		t.Errorf("Remaining for permanent = %v, want 0", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"4w", 4 * 7 * 24 * time.Hour},
		{" 10M ", 10 * time.Minute},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if err != nil {
			t.Errorf("ParseDuration(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	for _, input := range []string{"", "30", "s", "m5", "5x", "-5m", "1h30m"} {
		if _, err := ParseDuration(input); err == nil {
			t.Errorf("ParseDuration(%q) should fail", input)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "expired"},
		{-time.Minute, "expired"},
		{time.Millisecond, "1s"},
		{500 * time.Millisecond, "1s"},
		{1500 * time.Millisecond, "2s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{26 * time.Hour, "1d 2h"},
		{9 * 24 * time.Hour, "1w 2d"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.input); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

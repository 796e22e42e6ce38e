package banward

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
	"github.com/insanmiy/banward/store"
)

func TestSweepExpiresPunishments(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	tempBanned := uuid.New()
	tempMuted := uuid.New()
	permanent := uuid.New()

	if _, err := m.AddTemporary(ctx, tempBanned, "Steve", "", model.KindTempBan, "", "admin", 30*time.Millisecond); err != nil {
		t.Fatalf("Failed to add temp ban: %v", err)
	}
	if _, err := m.AddTemporary(ctx, tempMuted, "Alex", "", model.KindTempMute, "", "admin", 30*time.Millisecond); err != nil {
		t.Fatalf("Failed to add temp mute: %v", err)
	}
	if _, err := m.AddPermanent(ctx, permanent, "Herobrine", "", model.KindBan, "", "admin"); err != nil {
		t.Fatalf("Failed to add permanent ban: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	m.Sweep()

	if m.IsBanned(tempBanned) || m.IsMuted(tempMuted) {
		t.Error("Expired punishments should be gone after a sweep")
	}
	if !m.IsBanned(permanent) {
		t.Error("Permanent ban must survive the sweep")
	}

	// The sweep persists the transitions through the serialized worker.
	waitFor(t, time.Second, func() bool {
		for _, subject := range []uuid.UUID{tempBanned, tempMuted} {
			active, err := st.QueryActive(ctx, subject)
			if err != nil || len(active) != 0 {
				return false
			}
		}
		return true
	}, "Expired punishments never marked inactive in the store")
}

func TestSweepIsIdempotent(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	subject := uuid.New()
	if _, err := m.AddTemporary(ctx, subject, "Steve", "", model.KindTempBan, "", "admin", 20*time.Millisecond); err != nil {
		t.Fatalf("Failed to add temp ban: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	m.Sweep()
	m.Sweep()
	m.Sweep()

	waitFor(t, time.Second, func() bool {
		active, err := st.QueryActive(ctx, subject)
		return err == nil && len(active) == 0
	}, "Deactivation never reached the store")

	// One expiry means exactly one deactivation write.
	if got := st.markInactiveCalls.Load(); got != 1 {
		t.Errorf("Expected 1 MarkInactive call, got %d", got)
	}
}

func TestSweepFiresExpiryCallback(t *testing.T) {
	var fired atomic.Int64
	var last atomic.Value

	st := store.NewMemoryStore()
	m := New(st, &Options{
		OnExpire: func(p *model.Punishment) {
			fired.Add(1)
			last.Store(p.SubjectID)
		},
	})
	ctx := context.Background()
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	defer m.Close()

	subject := uuid.New()
	if _, err := m.AddTemporary(ctx, subject, "Steve", "", model.KindTempMute, "", "admin", 20*time.Millisecond); err != nil {
		t.Fatalf("Failed to add temp mute: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	m.Sweep()

	if got := fired.Load(); got != 1 {
		t.Fatalf("Expected expiry callback to fire once, got %d", got)
	}
	if got := last.Load(); got != subject {
		t.Errorf("Callback saw subject %v, want %v", got, subject)
	}
}

func TestSweeperBackground(t *testing.T) {
	st := store.NewMemoryStore()
	m := New(st, &Options{SweepInterval: 25 * time.Millisecond})
	ctx := context.Background()
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	defer m.Close()

	subject := uuid.New()
	if _, err := m.AddTemporary(ctx, subject, "Steve", "", model.KindTempBan, "", "admin", 20*time.Millisecond); err != nil {
		t.Fatalf("Failed to add temp ban: %v", err)
	}

	m.StartSweeper(ctx)
	defer m.StopSweeper()

	// Without any manual sweep, the background loop converges the store to
	// the derived state.
	waitFor(t, time.Second, func() bool {
		active, err := st.QueryActive(ctx, subject)
		return err == nil && len(active) == 0
	}, "Background sweeper never persisted the expiry")
}

func TestSweeperStartStop(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.StartSweeper(ctx)
	// Starting twice is a no-op, not a second goroutine.
	m.StartSweeper(ctx)

	m.StopSweeper()
	// Stopping twice is safe.
	m.StopSweeper()

	// The sweeper can be restarted after a stop.
	m.StartSweeper(ctx)
	m.StopSweeper()
}

func TestCloseWhileSweeping(t *testing.T) {
	st := store.NewMemoryStore()
	m := New(st, &Options{SweepInterval: time.Millisecond})
	ctx := context.Background()
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	// Keep the sweeper busy expiring punishments while shutting down.
	for i := 0; i < 32; i++ {
		if _, err := m.AddTemporary(ctx, uuid.New(), "Steve", "", model.KindTempBan, "", "admin", time.Millisecond); err != nil {
			t.Fatalf("Failed to add temp ban: %v", err)
		}
	}

	m.StartSweeper(ctx)
	time.Sleep(5 * time.Millisecond)

	// Close stops the sweeper and waits for the in-flight sweep before it
	// shuts the persistence worker down.
	if err := m.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	m.StartSweeper(ctx)
	cancel()

	// The loop exits on its own; a later StopSweeper stays safe.
	time.Sleep(20 * time.Millisecond)
	m.StopSweeper()
}

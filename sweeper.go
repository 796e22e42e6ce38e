package banward

import (
	"context"
	"sync"
	"time"

	"github.com/insanmiy/banward/log"
	"github.com/insanmiy/banward/model"
)

// StartSweeper starts the expiration sweeper in a background goroutine. The
// sweeper periodically scans the in-memory index, deactivates punishments
// whose expiry has passed and persists the transition through the serialized
// worker. It exists to reclaim index space and to fire expiry notifications
// promptly; correctness never depends on it, since every read re-derives
// expiry lazily.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if m.sweepRunning {
		log.Log.Warnf("[Sweeper] Already running")
		return
	}

	m.sweepRunning = true
	m.sweepStop = make(chan struct{}) // Recreate in case it was closed
	m.sweepDone = make(chan struct{})
	log.Log.Infof("[Sweeper] Starting expiration sweeper | Interval: %v", m.sweepInterval)

	go m.runSweeper(ctx, m.sweepStop, m.sweepDone)
}

// StopSweeper stops the sweeper and waits for an in-flight sweep to finish,
// so Close can shut the persistence worker down with no sweep still enqueuing.
func (m *Manager) StopSweeper() {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if !m.sweepRunning {
		return
	}

	log.Log.Infof("[Sweeper] Stopping expiration sweeper")
	close(m.sweepStop)
	m.sweepRunning = false
	<-m.sweepDone
}

// runSweeper runs the sweep loop.
func (m *Manager) runSweeper(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-stop:
			log.Log.Infof("[Sweeper] Stopped")
			return
		case <-ctx.Done():
			log.Log.Infof("[Sweeper] Stopped (context cancelled)")
			return
		}
	}
}

// Sweep runs one expiration scan over the in-memory index. Exported so tests
// and administrative tooling can trigger a sweep without waiting a tick.
func (m *Manager) Sweep() {
	now := time.Now()
	expired := 0

	for _, idx := range []*sync.Map{&m.bans, &m.mutes, &m.ipBans} {
		idx.Range(func(key, value any) bool {
			p := value.(*model.Punishment)
			// Only expiry transitions a record here; an entry that is
			// inactive for any other reason was already unpublished.
			if !p.Expired(now) {
				return true
			}

			m.unpublish(p)
			m.enqueuePersist(persistJob{subjectID: p.SubjectID, createdAt: p.CreatedAt, name: p.SubjectName})
			expired++

			log.Log.Infof("[Sweeper] Expired %s for %s", p.Kind, p.SubjectName)
			if m.onExpire != nil {
				m.onExpire(p)
			}
			return true
		})
	}

	if expired > 0 {
		log.Log.Infof("[Sweeper] Sweep complete, %d punishment(s) expired", expired)
	} else {
		log.Log.Debugf("[Sweeper] Sweep complete, nothing expired")
	}
}

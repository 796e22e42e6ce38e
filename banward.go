// Package banward enforces moderation actions (bans, mutes, kicks) against
// identities on a shared multiplayer service. The Manager is the single
// authority: it records punitive actions durably through a pluggable store,
// answers "is this identity punished?" from an in-memory index on the login
// and chat hot paths, and expires time-bounded punishments in the background.
package banward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/log"
	"github.com/insanmiy/banward/model"
	"github.com/insanmiy/banward/store"
)

// ErrAlreadyPunished is a policy rejection: the subject already holds an
// active punishment of the same category. Not a storage error.
var ErrAlreadyPunished = errors.New("already punished")

// ErrNotPunished reports a revoke that found nothing to revoke. A no-op for
// the caller, not an error condition.
var ErrNotPunished = errors.New("not punished")

// OnlineResolver lets the manager resolve names of currently connected
// identities at zero cost before falling back to the persisted identity
// cache. Implemented by the connection layer.
type OnlineResolver interface {
	// OnlineSubject returns the subject ID and IP address for a connected
	// display name, or ok=false when the name is not connected.
	OnlineSubject(name string) (id uuid.UUID, ip string, ok bool)
}

// Manager is the punishment lifecycle orchestrator. It is constructed once at
// process start and passed by reference to all collaborators; there is no
// ambient global instance.
//
// The in-memory indexes hold immutable snapshots of currently active
// punishments. Readers never see a record mutate: deactivation is modeled as
// removal from the index, and expiry is re-derived lazily on every read, so
// an index hit whose expiry has silently passed still reports "not punished"
// before the sweeper gets to it.
type Manager struct {
	store store.PunishmentStore

	// Active punishment indexes. bans and mutes are keyed by subject UUID;
	// ipBans is keyed by IP string and holds only KindIPBan records.
	bans   sync.Map
	mutes  sync.Map
	ipBans sync.Map

	online OnlineResolver

	// Per-subject locks serialize same-subject add/revoke so the optimistic
	// conflict check cannot race with a concurrent insert.
	subjectLocks map[string]*sync.Mutex
	locksMu      sync.RWMutex

	// Serialized persistence worker for deactivations. A single goroutine
	// keeps same-record writes ordered regardless of which path (revoke or
	// sweeper) produced them. persistMu guards enqueues against Close so a
	// straggler never sends on the closed channel.
	persist       chan persistJob
	persistWG     sync.WaitGroup
	persistOnce   sync.Once
	persistMu     sync.RWMutex
	persistClosed bool

	// ready is closed once the startup index load has completed. Hot-path
	// queries block on it rather than report "not punished" from an empty
	// index.
	ready chan struct{}

	// onExpire, when set, is invoked by the sweeper for each punishment it
	// expires.
	onExpire func(*model.Punishment)

	// Sweeper state, see sweeper.go.
	sweepInterval time.Duration
	sweepStop     chan struct{}
	sweepDone     chan struct{}
	sweepRunning  bool
	sweepMu       sync.Mutex
}

type persistJob struct {
	subjectID uuid.UUID
	createdAt int64
	name      string
}

const (
	persistQueueSize = 256
	persistRetries   = 3
	persistRetryWait = time.Second
)

// Options configures optional Manager behavior.
type Options struct {
	// Online resolves currently connected identities. May be nil.
	Online OnlineResolver

	// OnExpire is called by the sweeper for each expired punishment, e.g. to
	// notify a subject their mute has run out. May be nil.
	OnExpire func(*model.Punishment)

	// SweepInterval overrides the default 30s expiration sweep interval.
	SweepInterval time.Duration
}

// New creates a Manager on top of the given store. Call Load before serving
// queries and Close on shutdown.
func New(st store.PunishmentStore, opts *Options) *Manager {
	m := &Manager{
		store:         st,
		subjectLocks:  make(map[string]*sync.Mutex),
		persist:       make(chan persistJob, persistQueueSize),
		ready:         make(chan struct{}),
		sweepInterval: 30 * time.Second,
		sweepStop:     make(chan struct{}),
	}
	if opts != nil {
		m.online = opts.Online
		m.onExpire = opts.OnExpire
		if opts.SweepInterval > 0 {
			m.sweepInterval = opts.SweepInterval
		}
	}

	m.persistWG.Add(1)
	go m.runPersist()

	return m
}

// Load performs the startup load of all stored-active records into the
// in-memory index. Until it completes, ban/mute checks block rather than
// report "not punished". A load failure is fatal to initialization: the
// manager cannot claim "no active punishments" without having read them.
//
// A subject can have more than one stored-active record: a temp ban that
// expired lazily and was never swept before shutdown still carries the active
// flag alongside a later record. Expired records are reclaimed here instead of
// being published, so backend ordering cannot leave one shadowing a live
// punishment.
func (m *Manager) Load(ctx context.Context) error {
	records, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load active punishments: %w", err)
	}

	now := time.Now()
	loaded := 0
	for _, p := range records {
		if !p.IsActive(now) {
			m.enqueuePersist(persistJob{subjectID: p.SubjectID, createdAt: p.CreatedAt, name: p.SubjectName})
			continue
		}
		m.publish(p)
		loaded++
	}
	close(m.ready)

	log.Log.Infof("[Manager] Loaded %d active punishments", loaded)
	return nil
}

// publish inserts an active record into the relevant indexes. When an entry
// already exists for the key, the newer record wins regardless of insertion
// order.
func (m *Manager) publish(p *model.Punishment) {
	switch p.Kind.Category() {
	case model.CategoryBan:
		if p.SubjectID != uuid.Nil {
			storeNewest(&m.bans, p.SubjectID, p)
		}
		if p.Kind == model.KindIPBan && p.IPAddress != "" {
			storeNewest(&m.ipBans, p.IPAddress, p)
		}
	case model.CategoryMute:
		storeNewest(&m.mutes, p.SubjectID, p)
	}
}

// storeNewest stores p under key unless the entry already present is at least
// as recent.
func storeNewest(idx *sync.Map, key any, p *model.Punishment) {
	for {
		v, loaded := idx.LoadOrStore(key, p)
		if !loaded {
			return
		}
		cur := v.(*model.Punishment)
		if cur.CreatedAt >= p.CreatedAt {
			return
		}
		if idx.CompareAndSwap(key, cur, p) {
			return
		}
	}
}

// unpublish removes a record from the relevant indexes.
func (m *Manager) unpublish(p *model.Punishment) {
	switch p.Kind.Category() {
	case model.CategoryBan:
		if p.SubjectID != uuid.Nil {
			m.bans.Delete(p.SubjectID)
		}
		if p.Kind == model.KindIPBan && p.IPAddress != "" {
			m.ipBans.Delete(p.IPAddress)
		}
	case model.CategoryMute:
		m.mutes.Delete(p.SubjectID)
	}
}

// lockFor returns the serialization mutex for a subject (or for an IP, in the
// case of pure IP bans), creating it on first use.
func (m *Manager) lockFor(key string) *sync.Mutex {
	m.locksMu.RLock()
	lock, exists := m.subjectLocks[key]
	m.locksMu.RUnlock()

	if exists {
		return lock
	}

	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	// Double check after acquiring write lock
	if lock, exists := m.subjectLocks[key]; exists {
		return lock
	}

	lock = &sync.Mutex{}
	m.subjectLocks[key] = lock
	return lock
}

// lockKey picks the serialization key for a record: the subject UUID, or the
// IP address for pure IP bans.
func lockKey(subjectID uuid.UUID, ip string) string {
	if subjectID == uuid.Nil {
		return "ip:" + ip
	}
	return "subject:" + subjectID.String()
}

// AddPermanent records a permanent punishment (Ban, IPBan or Mute). The
// record is persisted before it is published to the in-memory index; if
// persistence fails the punishment never happened as far as the system is
// concerned. Returns ErrAlreadyPunished when the subject already holds an
// active punishment of the same category.
func (m *Manager) AddPermanent(ctx context.Context, subjectID uuid.UUID, name, ip string, kind model.Kind, reason, operator string) (*model.Punishment, error) {
	if kind.IsTemporary() || kind == model.KindKick {
		return nil, fmt.Errorf("kind %s is not a permanent punishment", kind)
	}
	if kind == model.KindIPBan && ip == "" {
		return nil, fmt.Errorf("ip ban requires an ip address")
	}
	if subjectID == uuid.Nil && kind != model.KindIPBan {
		return nil, fmt.Errorf("kind %s requires a subject id", kind)
	}

	p := model.NewPermanent(subjectID, name, ip, kind, reason, operator)
	return p, m.add(ctx, p)
}

// AddTemporary records a punishment (TempBan or TempMute) that expires after
// the given duration. Same persistence and conflict semantics as
// AddPermanent.
func (m *Manager) AddTemporary(ctx context.Context, subjectID uuid.UUID, name, ip string, kind model.Kind, reason, operator string, duration time.Duration) (*model.Punishment, error) {
	if !kind.IsTemporary() {
		return nil, fmt.Errorf("kind %s is not a temporary punishment", kind)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %v", duration)
	}
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("kind %s requires a subject id", kind)
	}

	p := model.NewTemporary(subjectID, name, ip, kind, reason, operator, duration)
	return p, m.add(ctx, p)
}

// add runs the conflict check and the write-then-publish sequence under the
// subject's serialization lock.
func (m *Manager) add(ctx context.Context, p *model.Punishment) error {
	lock := m.lockFor(lockKey(p.SubjectID, p.IPAddress))
	lock.Lock()
	defer lock.Unlock()

	if existing := m.activeInCategory(p.SubjectID, p.IPAddress, p.Kind.Category()); existing != nil {
		return fmt.Errorf("%w: %s already has an active %s", ErrAlreadyPunished, existing.SubjectName, existing.Kind)
	}
	// An IP ban carrying a subject must also respect an existing ban on the
	// address itself, which lives under the IP key.
	if p.Kind == model.KindIPBan && p.SubjectID != uuid.Nil {
		if existing := m.activeIPBan(p.IPAddress); existing != nil {
			return fmt.Errorf("%w: %s already has an active %s", ErrAlreadyPunished, p.IPAddress, existing.Kind)
		}
	}

	if err := m.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save punishment: %w", err)
	}
	m.publish(p)
	m.cacheIdentity(ctx, p.SubjectName, p.SubjectID)

	log.Log.Infof("[Manager] %s issued for %s (subject=%s, operator=%s)", p.Kind, p.SubjectName, p.SubjectID, p.Operator)
	return nil
}

// Kick records a kick. Kicks are point-in-time events: the record is created
// already inactive, shows up only in history and never enters the active
// index.
func (m *Manager) Kick(ctx context.Context, subjectID uuid.UUID, name, ip, reason, operator string) (*model.Punishment, error) {
	if subjectID == uuid.Nil {
		return nil, fmt.Errorf("kick requires a subject id")
	}

	p := model.NewKick(subjectID, name, ip, reason, operator)
	if err := m.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save kick: %w", err)
	}
	m.cacheIdentity(ctx, name, subjectID)

	log.Log.Infof("[Manager] Kick recorded for %s (operator=%s)", name, operator)
	return p, nil
}

// activeInCategory returns the currently active punishment of the given
// category for the subject (or IP, for pure IP bans), or nil.
func (m *Manager) activeInCategory(subjectID uuid.UUID, ip string, cat model.Category) *model.Punishment {
	now := time.Now()

	if subjectID == uuid.Nil {
		return m.activeIPBan(ip)
	}

	var idx *sync.Map
	switch cat {
	case model.CategoryBan:
		idx = &m.bans
	case model.CategoryMute:
		idx = &m.mutes
	default:
		return nil
	}

	if v, ok := idx.Load(subjectID); ok {
		if p := v.(*model.Punishment); p.IsActive(now) {
			return p
		}
	}
	return nil
}

// activeIPBan returns the active IP ban indexed for the address, or nil.
func (m *Manager) activeIPBan(ip string) *model.Punishment {
	if ip == "" {
		return nil
	}
	if v, ok := m.ipBans.Load(ip); ok {
		if p := v.(*model.Punishment); p.IsActive(time.Now()) {
			return p
		}
	}
	return nil
}

// Revoke deactivates every active punishment of the given category for the
// subject. The index mutation happens first so the unban is immediately
// visible; persistence goes through the serialized worker and is retried on
// failure rather than letting a user-visible unban silently come back.
// Returns ErrNotPunished when there is nothing to revoke.
func (m *Manager) Revoke(ctx context.Context, subjectID uuid.UUID, cat model.Category) error {
	if cat != model.CategoryBan && cat != model.CategoryMute {
		return fmt.Errorf("cannot revoke category %q", cat)
	}

	lock := m.lockFor(lockKey(subjectID, ""))
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	var revoked []*model.Punishment

	if p := m.activeInCategory(subjectID, "", cat); p != nil {
		revoked = append(revoked, p)
	} else {
		// Not cached; the record may predate the index (e.g. written by
		// another tool against a shared backend). Fall back to the store.
		stored, err := m.store.QueryActive(ctx, subjectID)
		if err != nil {
			return fmt.Errorf("query active punishments: %w", err)
		}
		for _, p := range stored {
			if p.Kind.Category() == cat && p.IsActive(now) {
				revoked = append(revoked, p)
			}
		}
	}

	if len(revoked) == 0 {
		return ErrNotPunished
	}

	for _, p := range revoked {
		m.unpublish(p)
		m.enqueuePersist(persistJob{subjectID: p.SubjectID, createdAt: p.CreatedAt, name: p.SubjectName})
		log.Log.Infof("[Manager] Revoked %s for %s", p.Kind, p.SubjectName)
	}
	return nil
}

// RevokeIPBan deactivates an active pure IP ban for the given address.
// Returns ErrNotPunished when the address is not banned.
func (m *Manager) RevokeIPBan(ctx context.Context, ip string) error {
	lock := m.lockFor(lockKey(uuid.Nil, ip))
	lock.Lock()
	defer lock.Unlock()

	v, ok := m.ipBans.Load(ip)
	if !ok {
		return ErrNotPunished
	}
	p := v.(*model.Punishment)
	if !p.IsActive(time.Now()) {
		return ErrNotPunished
	}

	m.unpublish(p)
	m.enqueuePersist(persistJob{subjectID: p.SubjectID, createdAt: p.CreatedAt, name: p.SubjectName})
	log.Log.Infof("[Manager] Revoked IP ban on %s", ip)
	return nil
}

// IsBanned reports whether the subject currently holds an active ban-category
// punishment. O(1) index read plus a lazy expiry check; never touches the
// store. Blocks until the startup load has completed.
func (m *Manager) IsBanned(subjectID uuid.UUID) bool {
	<-m.ready

	if v, ok := m.bans.Load(subjectID); ok {
		return v.(*model.Punishment).IsActive(time.Now())
	}
	return false
}

// IsMuted reports whether the subject currently holds an active mute-category
// punishment. Same contract as IsBanned.
func (m *Manager) IsMuted(subjectID uuid.UUID) bool {
	<-m.ready

	if v, ok := m.mutes.Load(subjectID); ok {
		return v.(*model.Punishment).IsActive(time.Now())
	}
	return false
}

// IsIPBanned reports whether the IP address currently holds an active IP ban.
// Same contract as IsBanned.
func (m *Manager) IsIPBanned(ip string) bool {
	<-m.ready

	if v, ok := m.ipBans.Load(ip); ok {
		return v.(*model.Punishment).IsActive(time.Now())
	}
	return false
}

// ActiveBan returns the active ban-category record for the subject, or nil.
// The connection layer uses this to build rejection messages.
func (m *Manager) ActiveBan(subjectID uuid.UUID) *model.Punishment {
	<-m.ready

	if v, ok := m.bans.Load(subjectID); ok {
		if p := v.(*model.Punishment); p.IsActive(time.Now()) {
			return p
		}
	}
	return nil
}

// ActiveMute returns the active mute-category record for the subject, or nil.
func (m *Manager) ActiveMute(subjectID uuid.UUID) *model.Punishment {
	<-m.ready

	if v, ok := m.mutes.Load(subjectID); ok {
		if p := v.(*model.Punishment); p.IsActive(time.Now()) {
			return p
		}
	}
	return nil
}

// History returns all punishment records for the subject, newest first. Cold
// path; delegates straight to the store.
func (m *Manager) History(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	return m.store.QueryHistory(ctx, subjectID)
}

// ActivePunishments returns the subject's punishments that are in force right
// now, filtering stored-active records through the derived expiry predicate.
func (m *Manager) ActivePunishments(ctx context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	stored, err := m.store.QueryActive(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*model.Punishment
	for _, p := range stored {
		if p.IsActive(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// PunishmentsByIP returns all records bearing the given IP address.
func (m *Manager) PunishmentsByIP(ctx context.Context, ip string) ([]*model.Punishment, error) {
	return m.store.QueryByIP(ctx, ip)
}

// ResolveName resolves a display name to a subject ID: currently connected
// identities first (zero cost), then the persisted identity cache. Returns
// store.ErrNotFound for unknown names.
func (m *Manager) ResolveName(ctx context.Context, name string) (uuid.UUID, error) {
	if m.online != nil {
		if id, _, ok := m.online.OnlineSubject(name); ok {
			m.cacheIdentity(ctx, name, id)
			return id, nil
		}
	}
	return m.store.ResolveIdentity(ctx, name)
}

// SeenOnline records a name to subject association opportunistically, called
// by the connection layer on successful logins.
func (m *Manager) SeenOnline(ctx context.Context, name string, subjectID uuid.UUID) {
	m.cacheIdentity(ctx, name, subjectID)
}

// ListKnownIdentities returns every display name the system has ever
// associated with a subject.
func (m *Manager) ListKnownIdentities(ctx context.Context) ([]string, error) {
	return m.store.ListKnownNames(ctx)
}

// ClearAll wipes all punishments and cached identities, in storage and in the
// index. Administrative use only.
func (m *Manager) ClearAll(ctx context.Context) error {
	if err := m.store.ClearAll(ctx); err != nil {
		return err
	}
	m.bans.Range(func(k, _ any) bool { m.bans.Delete(k); return true })
	m.mutes.Range(func(k, _ any) bool { m.mutes.Delete(k); return true })
	m.ipBans.Range(func(k, _ any) bool { m.ipBans.Delete(k); return true })
	log.Log.Warnf("[Manager] All punishment data cleared")
	return nil
}

// cacheIdentity writes a name association to the store. Failures are logged
// and swallowed: the cache is an optimization, not ground truth.
func (m *Manager) cacheIdentity(ctx context.Context, name string, subjectID uuid.UUID) {
	if name == "" || subjectID == uuid.Nil {
		return
	}
	if err := m.store.CacheIdentity(ctx, name, subjectID); err != nil {
		log.Log.Warnf("[Manager] Failed to cache identity %s: %v", name, err)
	}
}

// enqueuePersist hands a deactivation to the serialized worker. Once Close
// has shut the worker down the write happens inline instead.
func (m *Manager) enqueuePersist(job persistJob) {
	m.persistMu.RLock()
	if !m.persistClosed {
		m.persist <- job
		m.persistMu.RUnlock()
		return
	}
	m.persistMu.RUnlock()

	m.persistInactive(job)
}

// runPersist is the serialized persistence worker. Routing every
// deactivation through one goroutine keeps writes for a record ordered and
// takes storage latency off the paths that enqueue them.
func (m *Manager) runPersist() {
	defer m.persistWG.Done()

	for job := range m.persist {
		m.persistInactive(job)
	}
}

// persistInactive marks a record inactive in storage, retrying on failure. A
// deactivation that ultimately cannot be persisted is logged loudly; the
// index mutation stays in place, since a user-visible unban must not come
// back on its own.
func (m *Manager) persistInactive(job persistJob) {
	var err error
	for attempt := 1; attempt <= persistRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), store.OpTimeout)
		err = m.store.MarkInactive(ctx, job.subjectID, job.createdAt)
		cancel()
		if err == nil {
			return
		}
		log.Log.Warnf("[Manager] Failed to persist deactivation for %s (attempt %d/%d): %v", job.name, attempt, persistRetries, err)
		if attempt < persistRetries {
			time.Sleep(persistRetryWait)
		}
	}
	log.Log.Errorf("[Manager] Giving up persisting deactivation for %s (subject=%s, createdAt=%d): %v", job.name, job.subjectID, job.createdAt, err)
}

// Close stops the sweeper, drains the persistence queue and closes the
// store.
func (m *Manager) Close() error {
	m.StopSweeper()

	var closeErr error
	m.persistOnce.Do(func() {
		m.persistMu.Lock()
		m.persistClosed = true
		close(m.persist)
		m.persistMu.Unlock()

		m.persistWG.Wait()
		closeErr = m.store.Close()
	})
	return closeErr
}

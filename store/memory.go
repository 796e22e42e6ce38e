package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
)

// MemoryStore is an in-memory implementation of PunishmentStore. It is used
// in tests and for ephemeral development setups; nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	punishments map[uuid.UUID][]*model.Punishment
	names       map[string]uuid.UUID // lowercase name -> subject
	subjects    map[uuid.UUID]string // subject -> display name
}

// NewMemoryStore creates a new in-memory punishment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		punishments: make(map[uuid.UUID][]*model.Punishment),
		names:       make(map[string]uuid.UUID),
		subjects:    make(map[uuid.UUID]string),
	}
}

// Save inserts a new punishment record.
func (s *MemoryStore) Save(_ context.Context, p *model.Punishment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.punishments[p.SubjectID] = append(s.punishments[p.SubjectID], &cp)
	return nil
}

// MarkInactive flips active=false for the identified record.
func (s *MemoryStore) MarkInactive(_ context.Context, subjectID uuid.UUID, createdAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.punishments[subjectID] {
		if p.CreatedAt == createdAt {
			p.Active = false
		}
	}
	return nil
}

// QueryActive returns records for the subject with a stored active flag.
func (s *MemoryStore) QueryActive(_ context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Punishment
	for _, p := range s.punishments[subjectID] {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// QueryHistory returns all records for the subject, newest first.
func (s *MemoryStore) QueryHistory(_ context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Punishment, 0, len(s.punishments[subjectID]))
	for _, p := range s.punishments[subjectID] {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// QueryByIP returns all records bearing the given IP address.
func (s *MemoryStore) QueryByIP(_ context.Context, ip string) ([]*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Punishment
	for _, list := range s.punishments {
		for _, p := range list {
			if p.IPAddress == ip && p.IPAddress != "" {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

// ListActive returns every stored-active record across all subjects.
func (s *MemoryStore) ListActive(_ context.Context) ([]*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Punishment
	for _, list := range s.punishments {
		for _, p := range list {
			if p.Active {
				cp := *p
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

// ResolveIdentity looks up a subject ID by display name.
func (s *MemoryStore) ResolveIdentity(_ context.Context, name string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.names[strings.ToLower(name)]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

// LookupName returns the last known display name for a subject ID.
func (s *MemoryStore) LookupName(_ context.Context, subjectID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.subjects[subjectID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

// CacheIdentity records a name to subject ID association.
func (s *MemoryStore) CacheIdentity(_ context.Context, name string, subjectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names[strings.ToLower(name)] = subjectID
	s.subjects[subjectID] = name
	return nil
}

// ListKnownNames returns every display name in the identity cache.
func (s *MemoryStore) ListKnownNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.subjects))
	for _, name := range s.subjects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ClearAll wipes all punishments and cached identities.
func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.punishments = make(map[uuid.UUID][]*model.Punishment)
	s.names = make(map[string]uuid.UUID)
	s.subjects = make(map[uuid.UUID]string)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements PunishmentStore
var _ PunishmentStore = (*MemoryStore)(nil)

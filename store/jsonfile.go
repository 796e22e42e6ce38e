package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
)

// JSONFileStore is a flat-file implementation of PunishmentStore. All records
// live in memory and every mutation rewrites the backing files, so it is only
// suitable for small deployments. Two files are kept under the data directory:
// punishments.json and identities.json.
type JSONFileStore struct {
	mu          sync.RWMutex
	dir         string
	punishments map[uuid.UUID][]*model.Punishment
	identities  map[string]identityEntry // lowercase name -> entry
}

type identityEntry struct {
	Name      string    `json:"name"`
	SubjectID uuid.UUID `json:"subject_id"`
}

const (
	punishmentsFile = "punishments.json"
	identitiesFile  = "identities.json"
)

// NewJSONFileStore creates a flat-file punishment store rooted at dir,
// creating the directory and loading any existing data.
func NewJSONFileStore(dir string) (*JSONFileStore, error) {
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %v", ErrStorageFailure, err)
	}

	s := &JSONFileStore{
		dir:         dir,
		punishments: make(map[uuid.UUID][]*model.Punishment),
		identities:  make(map[string]identityEntry),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads both data files if they exist.
func (s *JSONFileStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, punishmentsFile))
	if err == nil {
		var all []*model.Punishment
		if err := json.Unmarshal(data, &all); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrStorageFailure, punishmentsFile, err)
		}
		for _, p := range all {
			s.punishments[p.SubjectID] = append(s.punishments[p.SubjectID], p)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: read %s: %v", ErrStorageFailure, punishmentsFile, err)
	}

	data, err = os.ReadFile(filepath.Join(s.dir, identitiesFile))
	if err == nil {
		var entries []identityEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrStorageFailure, identitiesFile, err)
		}
		for _, e := range entries {
			s.identities[strings.ToLower(e.Name)] = e
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: read %s: %v", ErrStorageFailure, identitiesFile, err)
	}

	return nil
}

// flushPunishments rewrites punishments.json. Must be called with s.mu held.
func (s *JSONFileStore) flushPunishments() error {
	var all []*model.Punishment
	for _, list := range s.punishments {
		all = append(all, list...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt < all[j].CreatedAt })

	return s.writeFile(punishmentsFile, all)
}

// flushIdentities rewrites identities.json. Must be called with s.mu held.
func (s *JSONFileStore) flushIdentities() error {
	entries := make([]identityEntry, 0, len(s.identities))
	for _, e := range s.identities {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return s.writeFile(identitiesFile, entries)
}

// writeFile marshals v and replaces the named file atomically via a rename.
func (s *JSONFileStore) writeFile(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrStorageFailure, name, err)
	}

	tmp := filepath.Join(s.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorageFailure, name, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrStorageFailure, name, err)
	}
	return nil
}

// Save inserts a new punishment record and flushes to disk.
func (s *JSONFileStore) Save(_ context.Context, p *model.Punishment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.punishments[p.SubjectID] = append(s.punishments[p.SubjectID], &cp)
	return s.flushPunishments()
}

// MarkInactive flips active=false for the identified record.
func (s *JSONFileStore) MarkInactive(_ context.Context, subjectID uuid.UUID, createdAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, p := range s.punishments[subjectID] {
		if p.CreatedAt == createdAt && p.Active {
			p.Active = false
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.flushPunishments()
}

// QueryActive returns records for the subject with a stored active flag.
func (s *JSONFileStore) QueryActive(_ context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
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
func (s *JSONFileStore) QueryHistory(_ context.Context, subjectID uuid.UUID) ([]*model.Punishment, error) {
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
func (s *JSONFileStore) QueryByIP(_ context.Context, ip string) ([]*model.Punishment, error) {
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
func (s *JSONFileStore) ListActive(_ context.Context) ([]*model.Punishment, error) {
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
func (s *JSONFileStore) ResolveIdentity(_ context.Context, name string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.identities[strings.ToLower(name)]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return e.SubjectID, nil
}

// LookupName returns the last known display name for a subject ID.
func (s *JSONFileStore) LookupName(_ context.Context, subjectID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.identities {
		if e.SubjectID == subjectID {
			return e.Name, nil
		}
	}
	return "", ErrNotFound
}

// CacheIdentity records a name to subject ID association and flushes to disk.
func (s *JSONFileStore) CacheIdentity(_ context.Context, name string, subjectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[strings.ToLower(name)] = identityEntry{Name: name, SubjectID: subjectID}
	return s.flushIdentities()
}

// ListKnownNames returns every display name in the identity cache.
func (s *JSONFileStore) ListKnownNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.identities))
	for _, e := range s.identities {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out, nil
}

// ClearAll wipes all punishments and cached identities, on disk included.
func (s *JSONFileStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.punishments = make(map[uuid.UUID][]*model.Punishment)
	s.identities = make(map[string]identityEntry)

	if err := s.flushPunishments(); err != nil {
		return err
	}
	return s.flushIdentities()
}

// Close flushes any pending state. Mutations flush eagerly, so this only
// exists to satisfy the store contract.
func (s *JSONFileStore) Close() error { return nil }

// Ensure JSONFileStore implements PunishmentStore
var _ PunishmentStore = (*JSONFileStore)(nil)

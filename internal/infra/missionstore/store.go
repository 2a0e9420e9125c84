// Package missionstore provides per-user Mission CRUD with tombstones,
// legacy migration, and a serialized read-modify-write path.
package missionstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"novacore/internal/domain/mission"
	"novacore/internal/infra/filestore"
	"novacore/internal/infra/persistence"
)

const docVersion = 1

type document struct {
	Version     int              `json:"version"`
	Missions    []mission.Mission `json:"missions"`
	DeletedIDs  []string         `json:"deletedIds,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	MigratedAt  *time.Time       `json:"migratedAt,omitempty"`
}

// LegacyLoader supplies legacy (pre-multi-tenant) schedules to migrate
// into a user's mission store, exactly once per user.
type LegacyLoader interface {
	LoadLegacyMissionsForUser(userID string) ([]mission.Mission, error)
}

// DeleteReason classifies the outcome of DeleteMission.
type DeleteReason string

const (
	ReasonDeleted      DeleteReason = "deleted"
	ReasonNotFound     DeleteReason = "not_found"
	ReasonInvalidUser  DeleteReason = "invalid_user"
)

// DeleteResult is returned by DeleteMission.
type DeleteResult struct {
	OK      bool
	Deleted bool
	Reason  DeleteReason
}

// Store is a per-user Mission CRUD store.
type Store struct {
	kit    *persistence.Kit
	legacy LegacyLoader
	now    func() time.Time

	mu           sync.Mutex
	userLocks    map[string]*sync.Mutex
	migratedUser map[string]bool
}

// New builds a Store. legacy may be nil if no legacy migration source
// exists.
func New(kit *persistence.Kit, legacy LegacyLoader) *Store {
	return &Store{
		kit:          kit,
		legacy:       legacy,
		now:          time.Now,
		userLocks:    make(map[string]*sync.Mutex),
		migratedUser: make(map[string]bool),
	}
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[userID] = m
	}
	return m
}

// LoadMissions runs the one-shot legacy migration (if not already done
// for this user), then returns the user's live (non-tombstoned) missions.
func (s *Store) LoadMissions(userID string) ([]mission.Mission, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.kit.MissionsFile(userID)
	if path == "" {
		return nil, fmt.Errorf("invalid_user: empty user scope")
	}

	doc, err := s.load(path)
	if err != nil {
		return nil, err
	}

	if s.legacy != nil && !s.migratedUser[userID] {
		legacyMissions, err := s.legacy.LoadLegacyMissionsForUser(userID)
		if err == nil {
			doc = mergeLegacy(doc, legacyMissions, s.now())
			if err := s.save(path, doc); err != nil {
				return nil, err
			}
		}
		s.migratedUser[userID] = true
	}

	tombstoned := make(map[string]bool, len(doc.DeletedIDs))
	for _, id := range doc.DeletedIDs {
		tombstoned[id] = true
	}

	live := make([]mission.Mission, 0, len(doc.Missions))
	for _, m := range doc.Missions {
		if !tombstoned[m.ID] {
			live = append(live, m)
		}
	}
	return live, nil
}

func mergeLegacy(doc document, legacyMissions []mission.Mission, now time.Time) document {
	tombstoned := make(map[string]bool, len(doc.DeletedIDs))
	for _, id := range doc.DeletedIDs {
		tombstoned[id] = true
	}
	existing := make(map[string]bool, len(doc.Missions))
	for _, m := range doc.Missions {
		existing[m.ID] = true
	}

	for _, m := range legacyMissions {
		if tombstoned[m.ID] || existing[m.ID] {
			continue // tombstones are never re-imported by legacy migration
		}
		doc.Missions = append(doc.Missions, m)
	}
	doc.UpdatedAt = now
	migratedAt := now
	doc.MigratedAt = &migratedAt
	return doc
}

// UpsertMission inserts or updates a mission for userID. On update,
// execution metadata (LastRunAt, counters, LastRunStatus,
// LastSentLocalDate) is preserved from the stored record unless the
// incoming mission explicitly sets a non-zero value for that field.
func (s *Store) UpsertMission(incoming mission.Mission, userID string) (mission.Mission, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.kit.MissionsFile(userID)
	if path == "" {
		return mission.Mission{}, fmt.Errorf("invalid_user: empty user scope")
	}

	doc, err := s.load(path)
	if err != nil {
		return mission.Mission{}, err
	}

	now := s.now()
	incoming.UpdatedAt = now

	idx := -1
	for i, m := range doc.Missions {
		if m.ID == incoming.ID {
			idx = i
			break
		}
	}

	if idx == -1 {
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = now
		}
		incoming.Version = 1
		doc.Missions = append(doc.Missions, incoming)
	} else {
		prior := doc.Missions[idx]
		merged := incoming
		merged.CreatedAt = prior.CreatedAt
		merged.Version = prior.Version + 1
		if incoming.LastRunAt == nil {
			merged.LastRunAt = prior.LastRunAt
		}
		if incoming.RunCount == 0 {
			merged.RunCount = prior.RunCount
		}
		if incoming.SuccessCount == 0 {
			merged.SuccessCount = prior.SuccessCount
		}
		if incoming.FailureCount == 0 {
			merged.FailureCount = prior.FailureCount
		}
		if incoming.LastRunStatus == "" {
			merged.LastRunStatus = prior.LastRunStatus
		}
		if incoming.LastSentLocalDate == "" {
			merged.LastSentLocalDate = prior.LastSentLocalDate
		}
		doc.Missions[idx] = merged
		incoming = merged
	}

	doc.UpdatedAt = now
	if err := s.save(path, doc); err != nil {
		return mission.Mission{}, err
	}
	return incoming, nil
}

// DeleteMission removes a mission from the live set and tombstones its
// id so legacy migration never re-imports it.
func (s *Store) DeleteMission(id, userID string) (DeleteResult, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	path := s.kit.MissionsFile(userID)
	if path == "" {
		return DeleteResult{Reason: ReasonInvalidUser}, nil
	}

	doc, err := s.load(path)
	if err != nil {
		return DeleteResult{}, err
	}

	idx := -1
	for i, m := range doc.Missions {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return DeleteResult{Reason: ReasonNotFound}, nil
	}

	doc.Missions = append(doc.Missions[:idx], doc.Missions[idx+1:]...)
	if !containsID(doc.DeletedIDs, id) {
		doc.DeletedIDs = append(doc.DeletedIDs, id)
	}
	doc.UpdatedAt = s.now()

	if err := s.save(path, doc); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{OK: true, Deleted: true, Reason: ReasonDeleted}, nil
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// BuildInput is the factory input for BuildMission.
type BuildInput struct {
	ID       string
	UserID   string
	Label    string
	Timezone string
}

// BuildMission constructs a new draft Mission with default settings.
func BuildMission(input BuildInput) mission.Mission {
	tz := input.Timezone
	if tz == "" {
		tz = "UTC"
	}
	now := time.Now()
	return mission.Mission{
		ID:        input.ID,
		UserID:    input.UserID,
		Label:     input.Label,
		Status:    mission.StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Settings: mission.Settings{
			Timezone:              tz,
			RetryOnFail:           false,
			RetryCount:            0,
			RetryIntervalMs:       0,
			SaveExecutionProgress: true,
		},
	}
}

func (s *Store) load(path string) (document, error) {
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return document{}, err
	}
	if data == nil {
		return document{Version: docVersion}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{Version: docVersion}, nil // corrupt store treated as empty
	}
	return doc, nil
}

func (s *Store) save(path string, doc document) error {
	if doc.Version == 0 {
		doc.Version = docVersion
	}
	data, err := filestore.MarshalJSONIndent(doc)
	if err != nil {
		return err
	}
	return filestore.AtomicWrite(path, data, 0o600)
}

// Package sessionstore persists per-user session entries and append-only
// transcripts, with idle reset and a deterministic, isolation-preserving
// key derivation scheme.
package sessionstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"novacore/internal/domain/mission"
	"novacore/internal/infra/filestore"
	"novacore/internal/infra/persistence"
)

// Config tunes session/transcript policy.
type Config struct {
	IdleTimeout        time.Duration
	MaxTranscriptLines int
	RetentionDays      int
}

// DefaultConfig mirrors the NOVA_SESSION_* defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:        30 * time.Minute,
		MaxTranscriptLines: 500,
		RetentionDays:      30,
	}
}

// TranscriptTurn is one line of a session's append-only transcript.
type TranscriptTurn struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ResolvedContext is returned by ResolveSessionContext.
type ResolvedContext struct {
	SessionKey   string
	SessionEntry mission.SessionEntry
	Transcript   []TranscriptTurn
}

// Store is a per-user SessionEntry + transcript store.
type Store struct {
	kit    *persistence.Kit
	config Config
	now    func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	transcriptCache *lru.LRU[string, []TranscriptTurn]

	lastPrune time.Time
}

// New builds a Store rooted at kit.
func New(kit *persistence.Kit, config Config) *Store {
	return &Store{
		kit:             kit,
		config:          config,
		now:             time.Now,
		userLocks:       make(map[string]*sync.Mutex),
		transcriptCache: lru.NewLRU[string, []TranscriptTurn](256, nil, 10*time.Minute),
	}
}

func (s *Store) lockFor(userContextID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.userLocks[userContextID]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[userContextID] = m
	}
	return m
}

// ResolveSessionContext implements §4.3's resolveSessionContext: load or
// mint a SessionEntry for the derived session key, reset it when idle,
// and return its current transcript.
func (s *Store) ResolveSessionContext(opts KeyOpts) (ResolvedContext, error) {
	uctx := ResolveUserContextID(opts, "")
	sessionKey := ResolveSessionKey(opts, uctx)

	lock := s.lockFor(uctx)
	lock.Lock()
	defer lock.Unlock()

	path := s.kit.SessionsFile(uctx)
	if path == "" {
		return ResolvedContext{}, fmt.Errorf("MissingUserContext")
	}

	entries, err := s.loadEntries(path)
	if err != nil {
		return ResolvedContext{}, err
	}

	now := s.now()
	existing, found := entries[sessionKey]

	var entry mission.SessionEntry
	if found && now.Sub(existing.UpdatedAt) <= s.config.IdleTimeout {
		existing.UpdatedAt = now
		entry = existing
	} else {
		entry = mission.SessionEntry{
			SessionID:     uuid.NewString(),
			SessionKey:    sessionKey,
			UserContextID: uctx,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	entries[sessionKey] = entry

	if err := s.saveEntries(path, entries); err != nil {
		return ResolvedContext{}, err
	}

	transcript, err := s.LoadTranscript(uctx, entry.SessionID)
	if err != nil {
		return ResolvedContext{}, err
	}

	return ResolvedContext{SessionKey: sessionKey, SessionEntry: entry, Transcript: transcript}, nil
}

// AppendTranscriptTurn appends one turn to a session's transcript file,
// trimming to MaxTranscriptLines oldest-first, and refreshes the
// in-memory cache (rehydrating from disk on a cache miss rather than
// collapsing the cache to just the new turn).
func (s *Store) AppendTranscriptTurn(uctx, sessionID, role, content string, meta map[string]any) error {
	path := s.kit.TranscriptFile(uctx, sessionID)
	if path == "" {
		return fmt.Errorf("MissingUserContext")
	}

	lock := s.lockFor(uctx)
	lock.Lock()
	defer lock.Unlock()

	turns, _ := s.transcriptCache.Get(sessionID)
	if turns == nil {
		loaded, err := s.readTranscriptFile(path)
		if err != nil {
			return err
		}
		turns = loaded
	}

	turns = append(turns, TranscriptTurn{Role: role, Content: content, Timestamp: s.now(), Meta: meta})
	if len(turns) > s.config.MaxTranscriptLines {
		turns = turns[len(turns)-s.config.MaxTranscriptLines:]
	}

	if err := s.writeTranscriptFile(path, turns); err != nil {
		return err
	}
	s.transcriptCache.Add(sessionID, turns)
	return nil
}

// LoadTranscript returns the cached or on-disk transcript for sessionID.
func (s *Store) LoadTranscript(uctx, sessionID string) ([]TranscriptTurn, error) {
	if cached, ok := s.transcriptCache.Get(sessionID); ok {
		return cached, nil
	}
	path := s.kit.TranscriptFile(uctx, sessionID)
	if path == "" {
		return nil, fmt.Errorf("MissingUserContext")
	}
	turns, err := s.readTranscriptFile(path)
	if err != nil {
		return nil, err
	}
	s.transcriptCache.Add(sessionID, turns)
	return turns, nil
}

func (s *Store) readTranscriptFile(path string) ([]TranscriptTurn, error) {
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var turns []TranscriptTurn
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var turn TranscriptTurn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			continue // skip corrupt lines rather than failing the whole load
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *Store) writeTranscriptFile(path string, turns []TranscriptTurn) error {
	if err := filestore.EnsureParentDir(path); err != nil {
		return err
	}
	var sb strings.Builder
	for _, t := range turns {
		encoded, err := json.Marshal(t)
		if err != nil {
			return err
		}
		sb.Write(encoded)
		sb.WriteByte('\n')
	}
	return filestore.AtomicWrite(path, []byte(sb.String()), 0o600)
}

func (s *Store) loadEntries(path string) (map[string]mission.SessionEntry, error) {
	data, err := filestore.ReadFileOrEmpty(path)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]mission.SessionEntry)
	if data == nil {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return entries, nil // corrupt store treated as empty
	}
	return entries, nil
}

func (s *Store) saveEntries(path string, entries map[string]mission.SessionEntry) error {
	data, err := filestore.MarshalJSONIndent(entries)
	if err != nil {
		return err
	}
	return filestore.AtomicWrite(path, data, 0o600)
}

// PruneRetention removes transcript files older than RetentionDays. Safe
// to call periodically; it touches the filesystem only, not the cache.
func (s *Store) PruneRetention(userDirs []string) {
	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	for _, dir := range userDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			_ = os.Remove(dir + "/" + e.Name())
		}
	}
}

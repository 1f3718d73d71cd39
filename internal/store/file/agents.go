// Package file implements the standalone-mode stores as JSON files on disk.
// agents.json is read as JSON5 so operators can keep comments in it.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/titanous/json5"

	"github.com/rishsane/humuter-sub000/internal/store"
)

const agentsFile = "agents.json"

type agentsDoc struct {
	Agents []*store.AgentData `json:"agents"`
}

// FileAgentStore implements store.AgentStore over a JSON document.
// The document may be edited by hand while the gateway runs; Watch reloads it.
type FileAgentStore struct {
	path   string
	mu     sync.RWMutex
	agents map[uuid.UUID]*store.AgentData
	order  []uuid.UUID
}

// NewFileAgentStore loads (or initializes) agents.json under dir.
func NewFileAgentStore(dir string) (*FileAgentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create data dir: %w", err)
	}
	s := &FileAgentStore{
		path:   filepath.Join(dir, agentsFile),
		agents: make(map[uuid.UUID]*store.AgentData),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileAgentStore) Path() string { return s.path }

func (s *FileAgentStore) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file: read agents: %w", err)
	}

	var doc agentsDoc
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("file: parse agents: %w", err)
		}
	}

	agents := make(map[uuid.UUID]*store.AgentData, len(doc.Agents))
	order := make([]uuid.UUID, 0, len(doc.Agents))
	for _, a := range doc.Agents {
		if a.ID == uuid.Nil {
			a.ID = store.GenNewID()
		}
		agents[a.ID] = a
		order = append(order, a.ID)
	}

	s.agents = agents
	s.order = order
	return nil
}

// saveLocked writes the document atomically. Caller holds s.mu.
func (s *FileAgentStore) saveLocked() error {
	doc := agentsDoc{Agents: make([]*store.AgentData, 0, len(s.order))}
	for _, id := range s.order {
		doc.Agents = append(doc.Agents, s.agents[id])
	}
	return writeJSON(s.path, doc)
}

// Watch reloads the document when it changes on disk and calls onChange
// after each successful reload. Returns when ctx is done.
func (s *FileAgentStore) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file via rename.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("file: watch %s: %w", filepath.Dir(s.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				slog.Warn("file: agents reload failed", "path", s.path, "error", err)
				continue
			}
			slog.Debug("file: agents reloaded", "path", s.path)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file: watcher error", "error", err)
		}
	}
}

func (s *FileAgentStore) Create(_ context.Context, a *store.AgentData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	if _, exists := s.agents[a.ID]; exists {
		return fmt.Errorf("file: agent %s: %w", a.ID, store.ErrConflict)
	}
	for _, existing := range s.agents {
		if a.Key != "" && existing.Key == a.Key {
			return fmt.Errorf("file: agent key %q: %w", a.Key, store.ErrConflict)
		}
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Plan == "" {
		a.Plan = store.PlanFree
	}
	if a.Status == "" {
		a.Status = store.AgentStatusActive
	}

	cp, err := cloneAgent(a)
	if err != nil {
		return err
	}
	s.agents[a.ID] = cp
	s.order = append(s.order, a.ID)
	return s.saveLocked()
}

func (s *FileAgentStore) Get(_ context.Context, id uuid.UUID) (*store.AgentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAgent(a)
}

func (s *FileAgentStore) GetByKey(_ context.Context, key string) (*store.AgentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if a := s.agents[id]; a.Key == key {
			return cloneAgent(a)
		}
	}
	return nil, store.ErrNotFound
}

func (s *FileAgentStore) GetByRoute(_ context.Context, channel, scopeID string) (*store.AgentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		a := s.agents[id]
		if slices.Contains(a.Routes[channel], scopeID) {
			return cloneAgent(a)
		}
	}
	return nil, store.ErrNotFound
}

func (s *FileAgentStore) List(_ context.Context) ([]store.AgentData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.AgentData, 0, len(s.order))
	for _, id := range s.order {
		cp, err := cloneAgent(s.agents[id])
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (s *FileAgentStore) GetUsage(_ context.Context, id uuid.UUID) (*store.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := a.Usage
	return &u, nil
}

func (s *FileAgentStore) IncrementUsage(_ context.Context, id uuid.UUID, d store.UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	a.MessagesHandled += d.Messages
	a.TokensUsed += d.Tokens
	if a.DailyMessageDate == d.Date {
		a.DailyMessageCount += d.DailyMessages
	} else {
		a.DailyMessageCount = d.DailyMessages
	}
	a.DailyMessageDate = d.Date
	a.UpdatedAt = time.Now()
	return s.saveLocked()
}

func (s *FileAgentStore) ResetDailyCount(_ context.Context, id uuid.UUID, today string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.DailyMessageDate == today {
		return false, nil
	}
	a.DailyMessageCount = 0
	a.DailyMessageDate = today
	a.UpdatedAt = time.Now()
	return true, s.saveLocked()
}

func (s *FileAgentStore) AppendFAQ(_ context.Context, id uuid.UUID, entry store.FAQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	a.TrainingData.FAQ = append(a.TrainingData.FAQ, entry)
	a.UpdatedAt = time.Now()
	return s.saveLocked()
}

func (s *FileAgentStore) AppendFeedback(_ context.Context, id uuid.UUID, entry store.FeedbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return store.ErrNotFound
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	a.TrainingData.Feedback = append(a.TrainingData.Feedback, entry)
	a.UpdatedAt = time.Now()
	return s.saveLocked()
}

func cloneAgent(a *store.AgentData) (*store.AgentData, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("file: clone agent: %w", err)
	}
	var cp store.AgentData
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("file: clone agent: %w", err)
	}
	return &cp, nil
}

// writeJSON writes v to path via a temp file + rename so readers never see
// a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("file: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: rename: %w", err)
	}
	return nil
}

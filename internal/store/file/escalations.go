package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rishsane/humuter-sub000/internal/store"
)

const escalationsFile = "escalations.json"

type escalationsDoc struct {
	Escalations []*store.EscalationData `json:"escalations"`
}

// FileEscalationStore implements store.EscalationStore over a JSON document.
// All state transitions happen under one mutex, which is what makes Resolve
// a compare-and-swap.
type FileEscalationStore struct {
	path    string
	mu      sync.Mutex
	records map[uuid.UUID]*store.EscalationData
}

// NewFileEscalationStore loads (or initializes) escalations.json under dir.
func NewFileEscalationStore(dir string) (*FileEscalationStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create data dir: %w", err)
	}
	s := &FileEscalationStore{
		path:    filepath.Join(dir, escalationsFile),
		records: make(map[uuid.UUID]*store.EscalationData),
	}

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file: read escalations: %w", err)
	}
	if len(data) > 0 {
		var doc escalationsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("file: parse escalations: %w", err)
		}
		for _, e := range doc.Escalations {
			s.records[e.ID] = e
		}
	}
	return s, nil
}

func (s *FileEscalationStore) saveLocked() error {
	list := make([]store.EscalationData, 0, len(s.records))
	for _, e := range s.records {
		list = append(list, *e)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	doc := escalationsDoc{Escalations: make([]*store.EscalationData, len(list))}
	for i := range list {
		doc.Escalations[i] = &list[i]
	}
	return writeJSON(s.path, doc)
}

func (s *FileEscalationStore) Create(_ context.Context, e *store.EscalationData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = store.EscalationStatusPending
	}
	if e.Status == store.EscalationStatusPending && e.ForwardedMessageID != nil {
		for _, r := range s.records {
			if r.Status == store.EscalationStatusPending && r.AgentID == e.AgentID &&
				r.Platform == e.Platform && r.ForwardedMessageID != nil &&
				*r.ForwardedMessageID == *e.ForwardedMessageID {
				return fmt.Errorf("file: create escalation: %w", store.ErrConflict)
			}
		}
	}

	cp := cloneEscalation(e)
	s.records[cp.ID] = cp
	return s.saveLocked()
}

func (s *FileEscalationStore) Get(_ context.Context, id uuid.UUID) (*store.EscalationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEscalation(e), nil
}

func (s *FileEscalationStore) FindPendingByForwarded(_ context.Context, agentID uuid.UUID, platform, forwardedID string) (*store.EscalationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.records {
		if e.Status == store.EscalationStatusPending && e.AgentID == agentID && e.Platform == platform &&
			e.ForwardedMessageID != nil && *e.ForwardedMessageID == forwardedID {
			return cloneEscalation(e), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *FileEscalationStore) LatestPending(_ context.Context, agentID uuid.UUID, platform string, since time.Time) (*store.EscalationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.EscalationData
	for _, e := range s.records {
		if e.Status != store.EscalationStatusPending || e.AgentID != agentID || e.Platform != platform {
			continue
		}
		if !since.IsZero() && !e.CreatedAt.After(since) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return cloneEscalation(best), nil
}

func (s *FileEscalationStore) Resolve(_ context.Context, id uuid.UUID, adminReply string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[id]
	if !ok || e.Status != store.EscalationStatusPending {
		return false, nil
	}

	prev := *e
	now := time.Now()
	e.Status = store.EscalationStatusResolved
	e.AdminReply = &adminReply
	e.ResolvedAt = &now
	if err := s.saveLocked(); err != nil {
		*e = prev
		return false, err
	}
	return true, nil
}

func (s *FileEscalationStore) ExpireBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.records {
		if e.Status == store.EscalationStatusPending && e.CreatedAt.Before(cutoff) {
			e.Status = store.EscalationStatusExpired
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveLocked()
}

func (s *FileEscalationStore) List(_ context.Context, opts store.EscalationListOpts) ([]store.EscalationData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.EscalationData
	for _, e := range s.records {
		if opts.AgentID != nil && e.AgentID != *opts.AgentID {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		out = append(out, *cloneEscalation(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func cloneEscalation(e *store.EscalationData) *store.EscalationData {
	cp := *e
	if e.ForwardedMessageID != nil {
		v := *e.ForwardedMessageID
		cp.ForwardedMessageID = &v
	}
	if e.AdminReply != nil {
		v := *e.AdminReply
		cp.AdminReply = &v
	}
	if e.ResolvedAt != nil {
		v := *e.ResolvedAt
		cp.ResolvedAt = &v
	}
	return &cp
}

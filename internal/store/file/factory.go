package file

import (
	"fmt"

	"github.com/rishsane/humuter-sub000/internal/store"
)

// NewFileStores creates all stores backed by JSON files (standalone mode).
func NewFileStores(cfg store.StoreConfig) (*store.Stores, *FileAgentStore, error) {
	agents, err := NewFileAgentStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("agents store: %w", err)
	}
	escalations, err := NewFileEscalationStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("escalations store: %w", err)
	}
	return &store.Stores{
		Agents:      agents,
		Escalations: escalations,
	}, agents, nil
}

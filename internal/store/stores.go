package store

import "io"

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	PostgresDSN string // managed mode when set
	DataDir     string // standalone mode: directory for the JSON file store
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Agents      AgentStore
	Escalations EscalationStore

	// Closer releases the backend (db pool, file watcher). May be nil.
	Closer io.Closer
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s == nil || s.Closer == nil {
		return nil
	}
	return s.Closer.Close()
}

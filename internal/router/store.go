package router

import (
	"sync/atomic"

	"github.com/vyrodovalexey/routegw/internal/config"
)

// Store holds the currently published Table.
type Store struct {
	current atomic.Pointer[Table]
	version atomic.Uint64
}

// NewStore returns a store holding an empty, unpublished table.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Table{
		byName:     map[string]*Route{},
		bySegments: map[int][]*Route{},
		source:     &config.GatewayConfig{},
	})
	return s
}

// Load returns the current table. Callers should load once per request
// and use that table until the request completes.
func (s *Store) Load() *Table {
	return s.current.Load()
}

// Publish makes t the current table and returns the one it replaced.
// A table can be published only once.
func (s *Store) Publish(t *Table) *Table {
	t.version = s.version.Add(1)
	return s.current.Swap(t)
}

// Published reports whether any table has been published yet.
func (s *Store) Published() bool {
	return s.version.Load() > 0
}

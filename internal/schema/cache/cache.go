// Package cache keeps the indexed schema model of a session in memory and,
// optionally, persists models across processes in a local SQLite file.
package cache

import (
	"errors"
	"sync"

	"github.com/schemaforge/schemaforge/internal/schema"
)

var ErrNoSchemaIndexed = errors.New("cache: no schema indexed")

// Cache holds at most one model. Set replaces it wholesale.
type Cache struct {
	mu    sync.RWMutex
	model *schema.Model
}

func New() *Cache {
	return &Cache{}
}

func (c *Cache) Set(model *schema.Model) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *Cache) Get() (*schema.Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.model == nil {
		return nil, ErrNoSchemaIndexed
	}
	return c.model, nil
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.model = nil
	c.mu.Unlock()
}

package resource

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/xweb/core"
)

// InMemoryHandler is an in‑process ResourceHandler useful for tests, examples
// and single‑process prototypes. Only ids registered with Put resolve. Data
// is copied on save and retrieval so callers cannot mutate stored buffers.
type InMemoryHandler struct {
	mu        sync.RWMutex
	resources map[string][]byte
}

// NewInMemoryHandler returns an empty handler.
func NewInMemoryHandler() *InMemoryHandler {
	return &InMemoryHandler{resources: make(map[string][]byte)}
}

// Put registers resourceID with the given initial content.
func (h *InMemoryHandler) Put(resourceID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resources[resourceID] = clone(data)
}

// Get returns a copy of the stored content.
func (h *InMemoryHandler) Get(resourceID string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, ok := h.resources[resourceID]
	if !ok {
		return nil, false
	}
	return clone(data), true
}

// IDs returns the sorted registered resource ids.
func (h *InMemoryHandler) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.resources))
	for id := range h.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the location of a registered resource or ResourceNotFound.
func (h *InMemoryHandler) Resolve(resourceID string) (core.ResourceLocation, error) {
	h.mu.RLock()
	_, ok := h.resources[resourceID]
	h.mu.RUnlock()
	if !ok {
		return core.ResourceLocation{}, core.NewError(core.KindResourceNotFound, "resource %s is not registered", resourceID)
	}
	return core.ResourceLocation{
		ResourceID: resourceID,
		URI:        "inmemory:///" + resourceID,
		Key:        resourceID,
	}, nil
}

// Load returns a copy of the stored content.
func (h *InMemoryHandler) Load(_ context.Context, loc core.ResourceLocation) ([]byte, error) {
	data, ok := h.Get(loc.Key)
	if !ok {
		return nil, core.NewError(core.KindResourceNotFound, "resource %s does not exist", loc.ResourceID)
	}
	return data, nil
}

// Save overwrites the stored content.
func (h *InMemoryHandler) Save(_ context.Context, loc core.ResourceLocation, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.resources[loc.Key]; !ok {
		return core.NewError(core.KindResourceNotFound, "resource %s is not registered", loc.ResourceID)
	}
	h.resources[loc.Key] = clone(data)
	return nil
}

func clone(data []byte) []byte {
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp
}

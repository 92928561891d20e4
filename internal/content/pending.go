package content

import (
	"sort"
	"sync"
)

// Patch is a partial update mirroring the draft overlay shape: top-level
// keys at the root plus an optional data sub-object.
type Patch struct {
	Fields map[string]any `json:"fields,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func (p *Patch) Set(field string, value any, topLevel bool) {
	if topLevel {
		if p.Fields == nil {
			p.Fields = make(map[string]any)
		}
		p.Fields[field] = value
		return
	}
	if p.Data == nil {
		p.Data = make(map[string]any)
	}
	p.Data[field] = value
}

// Merge overlays other onto p; later values win per field.
func (p *Patch) Merge(other Patch) {
	for k, v := range other.Fields {
		p.Set(k, v, true)
	}
	for k, v := range other.Data {
		p.Set(k, v, false)
	}
}

func (p Patch) Empty() bool {
	return len(p.Fields) == 0 && len(p.Data) == 0
}

// FieldCount counts distinct edited field names, one per name regardless of
// how many times the field was re-edited.
func (p Patch) FieldCount() int {
	return len(p.Fields) + len(p.Data)
}

func (p Patch) Clone() Patch {
	var out Patch
	for k, v := range p.Fields {
		out.Set(k, v, true)
	}
	for k, v := range p.Data {
		out.Set(k, v, false)
	}
	return out
}

// PendingStore maps item IDs to patches not yet confirmed against the
// authoritative record. Only published items accumulate entries; draft
// items commit every edit immediately and never appear here.
type PendingStore struct {
	mu      sync.RWMutex
	entries map[string]*Patch
}

func NewPendingStore() *PendingStore {
	return &PendingStore{entries: make(map[string]*Patch)}
}

// RecordChange merges one field change into the item's patch, creating the
// entry if absent.
func (s *PendingStore) RecordChange(itemID, field string, value any, topLevel bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch, ok := s.entries[itemID]
	if !ok {
		patch = &Patch{}
		s.entries[itemID] = patch
	}
	patch.Set(field, value, topLevel)
}

// Changes returns a copy of the item's pending patch.
func (s *PendingStore) Changes(itemID string) (Patch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patch, ok := s.entries[itemID]
	if !ok {
		return Patch{}, false
	}
	return patch.Clone(), true
}

func (s *PendingStore) Has(itemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[itemID]
	return ok
}

// CountEditedFields counts distinct pending field names for one item.
func (s *PendingStore) CountEditedFields(itemID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patch, ok := s.entries[itemID]
	if !ok {
		return 0
	}
	return patch.FieldCount()
}

// CountAllEditedFields counts distinct pending field names across every
// item, for the "N unsaved changes" badge.
func (s *PendingStore) CountAllEditedFields() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, patch := range s.entries {
		total += patch.FieldCount()
	}
	return total
}

// Clear removes the item's entry entirely.
func (s *PendingStore) Clear(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, itemID)
}

// ItemIDs lists items with pending changes in stable order.
func (s *PendingStore) ItemIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *PendingStore) snapshot(ids []string) map[string]Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Patch, len(ids))
	for _, id := range ids {
		if patch, ok := s.entries[id]; ok {
			out[id] = patch.Clone()
		}
	}
	return out
}

func (s *PendingStore) restore(ids []string, saved map[string]Patch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if patch, ok := saved[id]; ok {
			restored := patch.Clone()
			s.entries[id] = &restored
		} else {
			delete(s.entries, id)
		}
	}
}

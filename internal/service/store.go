package service

import (
	"sync"

	"github.com/giscaleing/visor-sig/internal/sld"
)

// Store is the narrow persistence interface behind the viewer state.
// Layers keep insertion order. Styles and geometry kinds are keyed by
// type name so filtered variants share them with their base layer.
type Store interface {
	Layers() ([]LayerDescriptor, error)
	Layer(id string) (LayerDescriptor, bool, error)
	PutLayer(l LayerDescriptor) error
	DeleteLayer(id string) error

	Style(layerName string) (StyleRecord, bool, error)
	PutStyle(rec StyleRecord) error

	GeometryKind(layerName string) (sld.GeometryKind, bool, error)
	PutGeometryKind(layerName string, kind sld.GeometryKind) error
}

// MemoryStore is the default, process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	order  []string
	layers map[string]LayerDescriptor
	styles map[string]StyleRecord
	kinds  map[string]sld.GeometryKind
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		layers: make(map[string]LayerDescriptor),
		styles: make(map[string]StyleRecord),
		kinds:  make(map[string]sld.GeometryKind),
	}
}

// Layers returns all layers in insertion order.
func (s *MemoryStore) Layers() ([]LayerDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]LayerDescriptor, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.layers[id])
	}
	return result, nil
}

// Layer returns a layer by ID.
func (s *MemoryStore) Layer(id string) (LayerDescriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[id]
	return l, ok, nil
}

// PutLayer inserts or replaces a layer, keeping its position on replace.
func (s *MemoryStore) PutLayer(l LayerDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.layers[l.ID]; !exists {
		s.order = append(s.order, l.ID)
	}
	s.layers[l.ID] = l
	return nil
}

// DeleteLayer removes a layer by ID.
func (s *MemoryStore) DeleteLayer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.layers[id]; !exists {
		return ErrLayerNotFound
	}
	delete(s.layers, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Style returns the style applied to a type name.
func (s *MemoryStore) Style(layerName string) (StyleRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.styles[layerName]
	return rec, ok, nil
}

// PutStyle stores a style record.
func (s *MemoryStore) PutStyle(rec StyleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.styles[rec.LayerName] = rec
	return nil
}

// GeometryKind returns the cached geometry kind of a type name.
func (s *MemoryStore) GeometryKind(layerName string) (sld.GeometryKind, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kinds[layerName]
	return k, ok, nil
}

// PutGeometryKind caches a geometry kind.
func (s *MemoryStore) PutGeometryKind(layerName string, kind sld.GeometryKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kinds[layerName] = kind
	return nil
}

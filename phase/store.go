package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/c360studio/semgate/constitution"
	"github.com/c360studio/semgate/validation"
)

// GateRecord is one evaluation of the design gate, kept as history.
type GateRecord struct {
	ID         string             `json:"id"`
	FeatureID  string             `json:"feature_id"`
	Passed     bool               `json:"passed"`
	Validation *validation.Result `json:"validation"`
	Gate       *constitution.Gate `json:"gate"`
	At         time.Time          `json:"at"`
}

// Store persists features and gate history. Get returns an error wrapping
// ErrFeatureNotFound for an unknown id. Implementations must be safe for
// concurrent use; the controller serializes writes per feature.
type Store interface {
	Get(ctx context.Context, id string) (*Feature, error)
	Put(ctx context.Context, f *Feature) error
	List(ctx context.Context) ([]*Feature, error)
	RecordGate(ctx context.Context, rec GateRecord) error
	Gates(ctx context.Context, featureID string) ([]GateRecord, error)
}

// MemoryStore is an in-process Store. Features are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	features map[string][]byte
	gates    map[string][]GateRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		features: make(map[string][]byte),
		gates:    make(map[string][]GateRecord),
	}
}

// Get returns a copy of the feature.
func (s *MemoryStore) Get(_ context.Context, id string) (*Feature, error) {
	s.mu.RLock()
	data, ok := s.features[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeatureNotFound, id)
	}

	var f Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feature %s: %w", id, err)
	}
	return &f, nil
}

// Put stores a copy of the feature.
func (s *MemoryStore) Put(_ context.Context, f *Feature) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode feature %s: %w", f.ID, err)
	}
	s.mu.Lock()
	s.features[f.ID] = data
	s.mu.Unlock()
	return nil
}

// List returns every feature sorted by id.
func (s *MemoryStore) List(ctx context.Context) ([]*Feature, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.features))
	for id := range s.features {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)

	out := make([]*Feature, 0, len(ids))
	for _, id := range ids {
		f, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// RecordGate appends a gate record to the feature's history.
func (s *MemoryStore) RecordGate(_ context.Context, rec GateRecord) error {
	s.mu.Lock()
	s.gates[rec.FeatureID] = append(s.gates[rec.FeatureID], rec)
	s.mu.Unlock()
	return nil
}

// Gates returns the feature's gate records, oldest first.
func (s *MemoryStore) Gates(_ context.Context, featureID string) ([]GateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.gates[featureID]), nil
}

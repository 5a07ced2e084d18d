package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/c360studio/semgate/phase"
)

// File layout under the store root.
const (
	FeaturesDir = "features"
	FeatureFile = "feature.json"
	GatesFile   = "gates.jsonl"
)

// FileStore is a phase.Store that keeps each feature in
// <root>/features/<id>/feature.json and appends gate records to gates.jsonl
// next to it.
type FileStore struct {
	root string
	mu   sync.Mutex
}

var _ phase.Store = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir, typically .semgate.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// FeaturePath returns the directory of a feature.
func (s *FileStore) FeaturePath(id string) string {
	return filepath.Join(s.root, FeaturesDir, id)
}

// Get loads a feature.
func (s *FileStore) Get(ctx context.Context, id string) (*phase.Feature, error) {
	if err := phase.ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.FeaturePath(id), FeatureFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read feature: %w", err)
	}

	var f phase.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse feature: %w", err)
	}
	return &f, nil
}

// Put writes a feature. The file is replaced atomically.
func (s *FileStore) Put(ctx context.Context, f *phase.Feature) error {
	if err := phase.ValidateID(f.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.FeaturePath(f.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feature: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FeatureFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write feature: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, FeatureFile)); err != nil {
		return fmt.Errorf("failed to write feature: %w", err)
	}
	return nil
}

// List loads every feature, sorted by id. Directories without a readable
// feature file are skipped.
func (s *FileStore) List(ctx context.Context) ([]*phase.Feature, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, FeaturesDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list features: %w", err)
	}

	var features []*phase.Feature
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		f, err := s.Get(ctx, e.Name())
		if err != nil {
			continue
		}
		features = append(features, f)
	}
	slices.SortFunc(features, func(a, b *phase.Feature) int {
		return strings.Compare(a.ID, b.ID)
	})
	return features, nil
}

// RecordGate appends a gate record as one JSON line.
func (s *FileStore) RecordGate(ctx context.Context, rec phase.GateRecord) error {
	if err := phase.ValidateID(rec.FeatureID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal gate record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.FeaturePath(rec.FeatureID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, GatesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open gate log: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append gate record: %w", err)
	}
	return nil
}

// Gates reads the feature's gate log, oldest first.
func (s *FileStore) Gates(ctx context.Context, featureID string) ([]phase.GateRecord, error) {
	if err := phase.ValidateID(featureID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filepath.Join(s.FeaturePath(featureID), GatesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open gate log: %w", err)
	}
	defer file.Close()

	var records []phase.GateRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec phase.GateRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse gate log: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gate log: %w", err)
	}
	return records, nil
}

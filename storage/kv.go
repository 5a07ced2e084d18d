// Package storage persists features and gate history on disk or in NATS
// JetStream key-value buckets.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semgate/phase"
)

// Bucket names.
const (
	BucketFeatures = "SEMGATE_FEATURES"
	BucketGates    = "SEMGATE_GATES"
)

// bucket is the part of jetstream.KeyValue the store uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// KVStore is a phase.Store backed by NATS KV. Features are keyed by id;
// gate records by "<feature>.<record id>".
type KVStore struct {
	features bucket
	gates    bucket
}

var _ phase.Store = (*KVStore)(nil)

// NewKVStore creates a store with the given JetStream context. It creates
// the buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	features, err := getOrCreateBucket(ctx, js, BucketFeatures)
	if err != nil {
		return nil, fmt.Errorf("create features bucket: %w", err)
	}

	gates, err := getOrCreateBucket(ctx, js, BucketGates)
	if err != nil {
		return nil, fmt.Errorf("create gates bucket: %w", err)
	}

	return &KVStore{features: features, gates: gates}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("semgate %s", strings.ToLower(strings.TrimPrefix(name, "SEMGATE_"))),
		History:     5, // Keep last 5 revisions
	})
}

// Get retrieves a feature by id.
func (s *KVStore) Get(ctx context.Context, id string) (*phase.Feature, error) {
	entry, err := s.features.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get feature: %w", err)
	}

	var f phase.Feature
	if err := json.Unmarshal(entry.Value(), &f); err != nil {
		return nil, fmt.Errorf("unmarshal feature: %w", err)
	}
	return &f, nil
}

// Put stores a feature, replacing any previous revision.
func (s *KVStore) Put(ctx context.Context, f *phase.Feature) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal feature: %w", err)
	}
	if _, err := s.features.Put(ctx, f.ID, data); err != nil {
		return fmt.Errorf("store feature: %w", err)
	}
	return nil
}

// List returns all features sorted by id. Entries that fail to load are
// skipped.
func (s *KVStore) List(ctx context.Context) ([]*phase.Feature, error) {
	keys, err := s.keys(ctx, s.features)
	if err != nil {
		return nil, fmt.Errorf("list feature keys: %w", err)
	}
	slices.Sort(keys)

	features := make([]*phase.Feature, 0, len(keys))
	for _, key := range keys {
		f, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		features = append(features, f)
	}
	return features, nil
}

// RecordGate stores a gate record.
func (s *KVStore) RecordGate(ctx context.Context, rec phase.GateRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal gate record: %w", err)
	}
	if _, err := s.gates.Put(ctx, gateKey(rec.FeatureID, rec.ID), data); err != nil {
		return fmt.Errorf("store gate record: %w", err)
	}
	return nil
}

// Gates returns the feature's gate records, oldest first.
func (s *KVStore) Gates(ctx context.Context, featureID string) ([]phase.GateRecord, error) {
	keys, err := s.keys(ctx, s.gates)
	if err != nil {
		return nil, fmt.Errorf("list gate keys: %w", err)
	}

	prefix := featureID + "."
	var records []phase.GateRecord
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.gates.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec phase.GateRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	sortGates(records)
	return records, nil
}

func (s *KVStore) keys(ctx context.Context, b bucket) ([]string, error) {
	keys, err := b.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

func gateKey(featureID, recordID string) string {
	return featureID + "." + recordID
}

// sortGates orders records by time, then id.
func sortGates(records []phase.GateRecord) {
	slices.SortStableFunc(records, func(a, b phase.GateRecord) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}

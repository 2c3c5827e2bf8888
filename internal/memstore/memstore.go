// Package memstore is the last-resort in-memory adapter, used when both
// durable backends are unavailable so the session keeps working even
// though nothing survives a restart. It also serves as a test double
// for composition tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/apstatquiz/quizstore/internal/clock"
	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Store keeps records in nested maps keyed by store name and the
// joined key tuple.
type Store struct {
	mu     sync.RWMutex
	stores map[string]map[string]record.Record
	clock  clock.Clock
}

// New creates an empty in-memory store.
func New() *Store {
	return NewWithClock(clock.System())
}

// NewWithClock creates an empty store with an injected clock.
func NewWithClock(c clock.Clock) *Store {
	return &Store{stores: map[string]map[string]record.Record{}, clock: c}
}

const keySep = "\x00"

func (s *Store) Get(ctx context.Context, store string, key record.Key) (*record.Record, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return nil, err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stores[store][strings.Join(key, keySep)]
	if !ok {
		return nil, nil
	}
	copied := cloneRecord(rec)
	return &copied, nil
}

func (s *Store) Set(ctx context.Context, store string, key record.Key, fields map[string]any) error {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	record.ReconcileKey(spec, key, merged)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stores[store] == nil {
		s.stores[store] = map[string]record.Record{}
	}
	s.stores[store][strings.Join(key, keySep)] = record.Record{
		Key:       append(record.Key{}, key...),
		Fields:    merged,
		UpdatedAt: s.clock.Now().UnixMilli(),
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, store string, key record.Key) error {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores[store], strings.Join(key, keySep))
	return nil
}

func (s *Store) GetAll(ctx context.Context, store, indexName, indexValue string) ([]record.Record, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	joined := make([]string, 0, len(s.stores[store]))
	for k := range s.stores[store] {
		joined = append(joined, k)
	}
	sort.Strings(joined)

	records := []record.Record{}
	for _, k := range joined {
		rec := s.stores[store][k]
		if indexName != "" {
			if indexName != record.IndexUsername || spec.UserField == "" {
				return nil, storage.ErrUnsupported
			}
			if rec.Fields[spec.UserField] != record.NormalizeUsername(indexValue) {
				continue
			}
		}
		records = append(records, cloneRecord(rec))
	}
	return records, nil
}

func (s *Store) GetAllForUser(ctx context.Context, store, username string) ([]record.Record, error) {
	return s.GetAll(ctx, store, record.IndexUsername, username)
}

func (s *Store) Clear(ctx context.Context, store string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores, store)
	return nil
}

func (s *Store) Keys(ctx context.Context, store string) ([]record.Key, error) {
	records, err := s.GetAll(ctx, store, "", "")
	if err != nil {
		return nil, err
	}
	keys := make([]record.Key, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

func (s *Store) IsAvailable(ctx context.Context) bool {
	return true
}

// UsageInfo is nil; memory is not accounted.
func (s *Store) UsageInfo(ctx context.Context) (*storage.Usage, error) {
	return nil, nil
}

func cloneRecord(rec record.Record) record.Record {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	return record.Record{
		Key:       append(record.Key{}, rec.Key...),
		Fields:    fields,
		UpdatedAt: rec.UpdatedAt,
	}
}

var _ storage.Adapter = (*Store)(nil)

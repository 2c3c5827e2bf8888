package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/apstatquiz/quizstore/internal/record"
	"github.com/apstatquiz/quizstore/internal/storage"
)

// Get returns the record at key, or nil if absent.
func (s *Store) Get(ctx context.Context, store string, key record.Key) (*record.Record, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return nil, err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return nil, err
	}

	switch {
	case store == record.StoreMeta:
		return s.getMeta(key[0])
	case store == record.StorePeerCache:
		return s.getPeerEntry(key[0], key[1])
	case spec.Compound():
		blob, err := s.readBlob(store, key[0])
		if err != nil {
			return nil, err
		}
		entry, ok := blob[key[1]]
		if !ok {
			return nil, nil
		}
		return blobRecord(spec, key, entry), nil
	default:
		return s.getScalar(spec, store, key)
	}
}

// Set upserts the record at key. Compound stores read-merge-write the
// whole per-user blob; there is no finer update granularity on this
// medium.
func (s *Store) Set(ctx context.Context, store string, key record.Key, fields map[string]any) error {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}

	switch {
	case store == record.StoreMeta:
		return s.setMeta(key[0], fields["value"])
	case store == record.StorePeerCache:
		return s.setPeerEntry(key[0], key[1], fields)
	case spec.Compound():
		blob, err := s.readBlob(store, key[0])
		if err != nil {
			return err
		}
		blob[key[1]] = blobEntry(spec, fields, s.clock.Now().UnixMilli())
		return s.writeBlob(store, key[0], blob)
	default:
		return s.setScalar(store, key, fields)
	}
}

// Remove deletes the record at key. Absent keys are a no-op.
func (s *Store) Remove(ctx context.Context, store string, key record.Key) error {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return err
	}
	key, err = record.NormalizeKey(spec, key)
	if err != nil {
		return err
	}

	switch {
	case store == record.StoreMeta:
		return s.removeItem(flatMetaKey(key[0]))
	case store == record.StorePeerCache:
		return s.removePeerEntry(key[0], key[1])
	case spec.Compound():
		blob, err := s.readBlob(store, key[0])
		if err != nil {
			return err
		}
		if _, ok := blob[key[1]]; !ok {
			return nil
		}
		delete(blob, key[1])
		return s.writeBlob(store, key[0], blob)
	default:
		return s.removeItem(userBlobKey(store, key[0]))
	}
}

// GetAll returns all records in a store, optionally filtered by the
// username index.
func (s *Store) GetAll(ctx context.Context, store, indexName, indexValue string) ([]record.Record, error) {
	spec, err := record.StoreSpec(store)
	if err != nil {
		return nil, err
	}
	if indexName != "" {
		if indexName != record.IndexUsername || spec.UserField == "" {
			return nil, fmt.Errorf("store %q has no index %q", store, indexName)
		}
		return s.getAllForUser(spec, store, record.NormalizeUsername(indexValue))
	}

	switch store {
	case record.StoreMeta:
		return s.getAllMeta()
	case record.StorePeerCache:
		return s.getAllPeers("")
	case record.StoreOutbox:
		return s.getAllOutbox()
	case record.StoreDiagnostics:
		// Diagnostics intentionally never land on this backend.
		return []record.Record{}, nil
	}

	usernames, err := s.blobUsernames(store)
	if err != nil {
		return nil, err
	}
	records := []record.Record{}
	for _, username := range usernames {
		user, err := s.getAllForUser(spec, store, username)
		if err != nil {
			return nil, err
		}
		records = append(records, user...)
	}
	return records, nil
}

// GetAllForUser is sugar for GetAll filtered on the username index.
func (s *Store) GetAllForUser(ctx context.Context, store, username string) ([]record.Record, error) {
	return s.GetAll(ctx, store, record.IndexUsername, username)
}

// Clear wipes an entire store's flat keys.
func (s *Store) Clear(ctx context.Context, store string) error {
	if _, err := record.StoreSpec(store); err != nil {
		return err
	}
	switch store {
	case record.StoreMeta:
		var flats []string
		err := s.eachItem(func(k, v string) error {
			if _, ok := logicalMetaKey(k); ok {
				flats = append(flats, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return s.removeItems(flats)
	case record.StorePeerCache:
		return s.removeItem(classDataKey)
	case record.StoreOutbox:
		return s.removeItem(outboxKey)
	case record.StoreDiagnostics:
		return nil
	}

	usernames, err := s.blobUsernames(store)
	if err != nil {
		return err
	}
	flats := make([]string, 0, len(usernames))
	for _, username := range usernames {
		flats = append(flats, userBlobKey(store, username))
	}
	return s.removeItems(flats)
}

// Keys lists every key in a store.
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

func (s *Store) removeItems(flats []string) error {
	for _, flat := range flats {
		if err := s.removeItem(flat); err != nil {
			return err
		}
	}
	return nil
}

// --- meta ---

func (s *Store) getMeta(key string) (*record.Record, error) {
	raw, found, err := s.getItem(flatMetaKey(key))
	if err != nil || !found {
		return nil, err
	}
	return &record.Record{
		Key:    record.NewKey(key),
		Fields: map[string]any{"key": key, "value": decodeFlatValue(raw)},
	}, nil
}

func (s *Store) setMeta(key string, value any) error {
	return s.setItem(flatMetaKey(key), encodeFlatValue(value))
}

func (s *Store) getAllMeta() ([]record.Record, error) {
	records := []record.Record{}
	err := s.eachItem(func(flat, raw string) error {
		logical, ok := logicalMetaKey(flat)
		if !ok {
			return nil
		}
		records = append(records, record.Record{
			Key:    record.NewKey(logical),
			Fields: map[string]any{"key": logical, "value": decodeFlatValue(raw)},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key[0] < records[j].Key[0] })
	return records, nil
}

// --- scalar per-user stores (preferences, sprites) ---

func (s *Store) getScalar(spec record.Spec, store string, key record.Key) (*record.Record, error) {
	raw, found, err := s.getItem(userBlobKey(store, key[0]))
	if err != nil || !found {
		return nil, err
	}
	fields := map[string]any{}
	switch store {
	case record.StoreSprites:
		hue, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			hue = 0
		}
		fields["hue"] = hue
	default:
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, fmt.Errorf("get %s[%s]: %w", store, key, err)
		}
		fields["values"] = obj
	}
	record.ReconcileKey(spec, key, fields)
	return &record.Record{Key: key, Fields: fields}, nil
}

func (s *Store) setScalar(store string, key record.Key, fields map[string]any) error {
	switch store {
	case record.StoreSprites:
		return s.setItem(userBlobKey(store, key[0]), encodeFlatValue(fields["hue"]))
	default:
		values := fields["values"]
		if values == nil {
			values = map[string]any{}
		}
		raw, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("set %s[%s]: %w", store, key, err)
		}
		return s.setItem(userBlobKey(store, key[0]), string(raw))
	}
}

// --- compound per-user blobs ---

// readBlob loads the per-user JSON blob for a store, tolerating both
// the current object entries and legacy bare-string entries.
func (s *Store) readBlob(store, username string) (map[string]any, error) {
	raw, found, err := s.getItem(userBlobKey(store, username))
	if err != nil {
		return nil, err
	}
	blob := map[string]any{}
	if !found || raw == "" {
		return blob, nil
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, fmt.Errorf("read %s blob for %s: %w", store, username, err)
	}
	return blob, nil
}

func (s *Store) writeBlob(store, username string, blob map[string]any) error {
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("write %s blob for %s: %w", store, username, err)
	}
	return s.setItem(userBlobKey(store, username), string(raw))
}

// blobEntry strips the key fields out of a record's fields and stamps
// the write time; the blob key already carries the second key part.
func blobEntry(spec record.Spec, fields map[string]any, now int64) map[string]any {
	entry := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case spec.KeyFields[0], spec.KeyFields[1]:
			continue
		}
		entry[k] = v
	}
	entry["updatedAt"] = now
	return entry
}

// blobRecord rehydrates one blob entry into a Record. Legacy answers
// were written as bare strings; those become {value: s} with no
// timestamp, which merge logic treats as time zero.
func blobRecord(spec record.Spec, key record.Key, entry any) *record.Record {
	fields := map[string]any{}
	switch e := entry.(type) {
	case map[string]any:
		for k, v := range e {
			fields[k] = v
		}
	case string:
		fields["value"] = e
	default:
		fields["value"] = e
	}
	rec := &record.Record{Key: key, Fields: fields}
	if v, ok := fields["updatedAt"]; ok {
		rec.UpdatedAt = record.CoerceTimestamp(v)
		delete(fields, "updatedAt")
	}
	record.ReconcileKey(spec, key, fields)
	return rec
}

func (s *Store) getAllForUser(spec record.Spec, store, username string) ([]record.Record, error) {
	switch store {
	case record.StorePeerCache:
		return s.getAllPeers(username)
	case record.StorePreferences, record.StoreSprites:
		rec, err := s.getScalar(spec, store, record.NewKey(username))
		if err != nil || rec == nil {
			return []record.Record{}, err
		}
		return []record.Record{*rec}, nil
	}

	blob, err := s.readBlob(store, username)
	if err != nil {
		return nil, err
	}
	seconds := make([]string, 0, len(blob))
	for second := range blob {
		seconds = append(seconds, second)
	}
	sort.Strings(seconds)

	records := make([]record.Record, 0, len(blob))
	for _, second := range seconds {
		rec := blobRecord(spec, record.NewKey(username, second), blob[second])
		records = append(records, *rec)
	}
	return records, nil
}

// blobUsernames scans flat keys for every username with a blob in the
// given store.
func (s *Store) blobUsernames(store string) ([]string, error) {
	var usernames []string
	err := s.eachItem(func(flat, raw string) error {
		if username, ok := splitUserBlobKey(store, flat); ok {
			usernames = append(usernames, username)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(usernames)
	return usernames, nil
}

// --- flat value coding ---

// encodeFlatValue stores strings raw (legacy keys like
// consensusUsername hold bare strings) and everything else as JSON.
func encodeFlatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// decodeFlatValue inverts encodeFlatValue: JSON parses win, anything
// else is a raw string.
func decodeFlatValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	// Bare words like usernames are not valid JSON and fall through
	// above; quoted strings and composites decode here.
	return v
}

var _ storage.Adapter = (*Store)(nil)

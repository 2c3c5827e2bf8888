package kvstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apstatquiz/quizstore/internal/record"
)

// The peer cache shares underlying storage with the legacy monolithic
// classData blob ({users: {username: {answers: {...}}}}) because older
// app versions stored peer data there. Reads and writes translate
// between peerCache records and that nested structure, and unknown
// fields inside it are carried along untouched so an older reader still
// finds everything it wrote.

func (s *Store) loadClassData() (map[string]any, error) {
	raw, found, err := s.getItem(classDataKey)
	if err != nil {
		return nil, err
	}
	cd := map[string]any{}
	if !found || raw == "" {
		return cd, nil
	}
	if err := json.Unmarshal([]byte(raw), &cd); err != nil {
		return nil, fmt.Errorf("read class data: %w", err)
	}
	return cd, nil
}

func (s *Store) storeClassData(cd map[string]any) error {
	raw, err := json.Marshal(cd)
	if err != nil {
		return fmt.Errorf("write class data: %w", err)
	}
	return s.setItem(classDataKey, string(raw))
}

// classUsers returns the users map, creating it when asked.
func classUsers(cd map[string]any, create bool) map[string]any {
	if users, ok := cd["users"].(map[string]any); ok {
		return users
	}
	if !create {
		return nil
	}
	users := map[string]any{}
	cd["users"] = users
	return users
}

// classUser returns one user's node, creating it when asked.
func classUser(users map[string]any, username string, create bool) map[string]any {
	if node, ok := users[username].(map[string]any); ok {
		return node
	}
	if !create {
		return nil
	}
	node := map[string]any{}
	users[username] = node
	return node
}

func userSection(node map[string]any, name string, create bool) map[string]any {
	if section, ok := node[name].(map[string]any); ok {
		return section
	}
	if !create {
		return nil
	}
	section := map[string]any{}
	node[name] = section
	return section
}

// peerRecord rehydrates one classData answer entry into a peerCache
// record. Bare-string entries come from the oldest format; their
// timestamp lives in the sibling timestamps section when present.
func peerRecord(peer, questionID string, entry any, timestamps map[string]any) *record.Record {
	fields := map[string]any{}
	switch e := entry.(type) {
	case map[string]any:
		for k, v := range e {
			fields[k] = v
		}
	default:
		fields["value"] = e
	}
	if _, ok := fields["timestamp"]; !ok && timestamps != nil {
		if ts, ok := timestamps[questionID]; ok {
			fields["timestamp"] = record.CoerceTimestamp(ts)
		}
	}
	spec, _ := record.StoreSpec(record.StorePeerCache)
	key := record.NewKey(peer, questionID)
	record.ReconcileKey(spec, key, fields)
	return &record.Record{Key: key, Fields: fields}
}

func (s *Store) getPeerEntry(peer, questionID string) (*record.Record, error) {
	cd, err := s.loadClassData()
	if err != nil {
		return nil, err
	}
	node := classUser(classUsers(cd, false), peer, false)
	if node == nil {
		return nil, nil
	}
	answers := userSection(node, "answers", false)
	if answers == nil {
		return nil, nil
	}
	entry, ok := answers[questionID]
	if !ok {
		return nil, nil
	}
	return peerRecord(peer, questionID, entry, userSection(node, "timestamps", false)), nil
}

func (s *Store) setPeerEntry(peer, questionID string, fields map[string]any) error {
	cd, err := s.loadClassData()
	if err != nil {
		return err
	}
	node := classUser(classUsers(cd, true), peer, true)

	entry := map[string]any{"value": fields["value"]}
	if v, ok := fields["timestamp"]; ok {
		entry["timestamp"] = v
	}
	if v, ok := fields["seenAt"]; ok {
		entry["seenAt"] = v
	}
	userSection(node, "answers", true)[questionID] = entry
	// Older readers look for timestamps in their own section.
	if v, ok := fields["timestamp"]; ok {
		userSection(node, "timestamps", true)[questionID] = v
	}
	return s.storeClassData(cd)
}

func (s *Store) removePeerEntry(peer, questionID string) error {
	cd, err := s.loadClassData()
	if err != nil {
		return err
	}
	node := classUser(classUsers(cd, false), peer, false)
	if node == nil {
		return nil
	}
	if answers := userSection(node, "answers", false); answers != nil {
		delete(answers, questionID)
	}
	if timestamps := userSection(node, "timestamps", false); timestamps != nil {
		delete(timestamps, questionID)
	}
	return s.storeClassData(cd)
}

// getAllPeers explodes the classData blob into peerCache records, for
// one peer or for all of them when peer is empty.
func (s *Store) getAllPeers(peer string) ([]record.Record, error) {
	cd, err := s.loadClassData()
	if err != nil {
		return nil, err
	}
	users := classUsers(cd, false)
	if users == nil {
		return []record.Record{}, nil
	}

	peers := make([]string, 0, len(users))
	for username := range users {
		if peer == "" || username == peer {
			peers = append(peers, username)
		}
	}
	sort.Strings(peers)

	records := []record.Record{}
	for _, username := range peers {
		node := classUser(users, username, false)
		if node == nil {
			continue
		}
		answers := userSection(node, "answers", false)
		if answers == nil {
			continue
		}
		timestamps := userSection(node, "timestamps", false)

		questionIDs := make([]string, 0, len(answers))
		for questionID := range answers {
			questionIDs = append(questionIDs, questionID)
		}
		sort.Strings(questionIDs)
		for _, questionID := range questionIDs {
			records = append(records, *peerRecord(username, questionID, answers[questionID], timestamps))
		}
	}
	return records, nil
}

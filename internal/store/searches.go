package store

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// MaxRecentSearches is how many distinct queries are kept per viewer.
const MaxRecentSearches = 10

const searchKeyPrefix = "searches:"

// RecentSearches remembers each viewer's last queries, most recent first.
type RecentSearches struct {
	kv KV
	// mu serializes read-modify-write of a viewer's list.
	mu sync.Mutex
}

func NewRecentSearches(kv KV) *RecentSearches {
	return &RecentSearches{kv: kv}
}

// List returns the viewer's recent queries; never nil.
func (r *RecentSearches) List(viewer string) ([]string, error) {
	data, err := r.kv.Get(searchKeyPrefix + viewer)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Add records query for viewer, moving an existing entry to the front.
// Blank queries are ignored.
func (r *RecentSearches) Add(viewer, query string) ([]string, error) {
	query = strings.TrimSpace(query)

	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.List(viewer)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return list, nil
	}

	list = append([]string{query}, lo.Without(list, query)...)
	if len(list) > MaxRecentSearches {
		list = list[:MaxRecentSearches]
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	if err := r.kv.Set(searchKeyPrefix+viewer, data); err != nil {
		return nil, err
	}
	return list, nil
}

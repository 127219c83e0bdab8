// Package presence tracks which users have an editing session open on each
// document.
package presence

import (
	"sort"
	"sync"
)

// Registry maps document ids to the set of active editors.
type Registry struct {
	mu      sync.RWMutex
	editors map[string]map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{editors: map[string]map[string]struct{}{}}
}

// Join adds userID to the editors of documentID and reports whether the user
// was newly added.
func (r *Registry) Join(documentID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.editors[documentID]
	if !ok {
		set = map[string]struct{}{}
		r.editors[documentID] = set
	}
	if _, present := set[userID]; present {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// Leave removes userID and reports whether the user was present. The entry of
// a document is dropped once its last editor leaves.
func (r *Registry) Leave(documentID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.editors[documentID]
	if !ok {
		return false
	}
	if _, present := set[userID]; !present {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(r.editors, documentID)
	}
	return true
}

// Editors returns the active editors of documentID in sorted order.
func (r *Registry) Editors(documentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.editors[documentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Forget drops every editor of documentID.
func (r *Registry) Forget(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.editors, documentID)
}

// Package policy maps user-facing policy names to the document keys
// covering them, so retrieval can be scoped to one policy.
package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	pqerrors "github.com/sweetpotato0/policyqa/errors"
	"github.com/sweetpotato0/policyqa/store"
)

// Registry holds the policy catalog. All operations are thread-safe
// using RWMutex protection.
type Registry struct {
	mu  sync.RWMutex
	ids map[string][]string
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string][]string)}
}

// Register maps a policy name to the dockeys of its documents.
// Registering an existing name replaces its dockeys.
func (r *Registry) Register(name string, dockeys []string) error {
	if name == "" {
		return fmt.Errorf("%w: policy name cannot be empty", pqerrors.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[name] = append([]string(nil), dockeys...)
	return nil
}

// Filter returns the retrieval filter scoping search to the named
// policy's documents.
func (r *Registry) Filter(name string) (*store.Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dockeys, ok := r.ids[name]
	if !ok {
		return nil, false
	}
	return &store.Filter{Dockeys: append([]string(nil), dockeys...)}, true
}

// Names returns the catalog's policy names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ids))
	for name := range r.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a JSON object of policy name to dockey list, merging it
// into the catalog.
func (r *Registry) Load(reader io.Reader) error {
	var ids map[string][]string
	if err := json.NewDecoder(reader).Decode(&ids); err != nil {
		return fmt.Errorf("%w: decode policy catalog: %v", pqerrors.ErrParse, err)
	}
	for name, dockeys := range ids {
		if err := r.Register(name, dockeys); err != nil {
			return err
		}
	}
	return nil
}

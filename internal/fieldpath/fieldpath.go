// Package fieldpath resolves dot-path field expressions against
// dynamically-typed records.
package fieldpath

import (
	"strconv"
	"strings"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Extractor resolves a field path against a record, overriding the
// default path walk.
type Extractor func(data domain.Value) domain.Value

// Extract walks a dot-segmented path through nested maps and lists.
// A segment that parses as a non-negative integer indexes into a list.
// Any missing key, non-container value, or out-of-range index yields
// null rather than an error.
func Extract(path string, data domain.Value) domain.Value {
	if path == "" {
		return domain.Null()
	}

	current := data
	for _, segment := range strings.Split(path, ".") {
		switch current.Kind() {
		case domain.KindMap:
			field, ok := current.Field(segment)
			if !ok {
				return domain.Null()
			}
			current = field
		case domain.KindList:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 {
				return domain.Null()
			}
			item, ok := current.Index(idx)
			if !ok {
				return domain.Null()
			}
			current = item
		default:
			return domain.Null()
		}
	}
	return current
}

// Registry resolves field paths, consulting registered custom
// extractors before falling back to the default path walk.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
	}
}

// Register installs a custom extractor for an exact field path,
// replacing any previous registration.
func (r *Registry) Register(path string, fn Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[path] = fn
}

// Unregister removes a custom extractor.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.extractors, path)
}

// Extract resolves a path, preferring a registered custom extractor.
func (r *Registry) Extract(path string, data domain.Value) domain.Value {
	r.mu.RLock()
	fn, ok := r.extractors[path]
	r.mu.RUnlock()

	if ok {
		return fn(data)
	}
	return Extract(path, data)
}

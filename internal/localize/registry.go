// Package localize rewrites asset links in thread markup to paths inside the
// local archive tree and queues the assets for download.
package localize

// Registry maps absolute URLs to their local relative paths for the
// lifetime of one archive run. A registered URL is never examined or queued
// again.
type Registry struct {
	paths map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string]string)}
}

// Lookup returns the relative path registered for abs.
func (r *Registry) Lookup(abs string) (string, bool) {
	rel, ok := r.paths[abs]
	return rel, ok
}

// Register records abs → rel.
func (r *Registry) Register(abs, rel string) {
	r.paths[abs] = rel
}

// Len reports the number of registered URLs.
func (r *Registry) Len() int {
	return len(r.paths)
}

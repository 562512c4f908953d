package topic

import (
	"strings"
)

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#". It must be the last level of a filter.
	MultiWildcard = "#"
)

// Builder constructs topic strings under a common root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g., "video/v1", "site-a/video").
	root string
}

// NewBuilder creates a Builder for the given root. Surrounding slashes are dropped.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace every topic starts with.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return b.root + "/" + segment + "/" + id
}

// Wildcard returns {root}/{segment}/+, matching the segment for every id.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

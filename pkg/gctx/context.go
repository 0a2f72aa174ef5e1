// Package gctx defines the lightweight caller identity threaded
// through every public storage operation.
//
// A Context is not Go's stdlib context.Context, it carries no
// deadline or cancellation, only an opaque numeric id used to (a) tag
// spinlock ownership so that unlock can assert the caller matches, and
// (b) pick a segment-cache bucket via id mod CACHE_SIZE. Callers
// typically hand out one Context per worker goroutine.
package gctx

// Context is an opaque caller identity.
type Context struct {
	id uint32
}

// New wraps a caller-chosen numeric id as a Context. Callers are
// responsible for id uniqueness among concurrently active callers;
// collisions only affect lock-ownership assertions and cache bucket
// hinting, never correctness of the graph itself.
func New(id uint32) Context {
	return Context{id: id}
}

// ID returns the numeric identity.
func (c Context) ID() uint32 {
	return c.id
}

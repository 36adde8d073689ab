// Package dom implements the live document tree that gulfwatch rewrites.
//
// A Document owns its nodes and records every structural and character-data
// mutation. Observers registered with Observe receive those records in
// immutable batches whenever the host calls Checkpoint, which mirrors the
// after-the-fact delivery of a browser mutation feed. Documents are not safe
// for concurrent use; a host confines each one to a single goroutine.
package dom

// Package procid mints process-scoped identifiers that never touch the
// wire protocol: a stable instance id for this node process's lifetime
// (useful in logs to tell a respawned node apart from the one it
// replaced, since both share the same port) and unique staging names for
// in-flight file pushes, so two concurrent FILE PUSH calls for the same
// filename never collide on a temp path before the chunk store renames
// it into place.
//
// The wire-level token minted for a walk or push stays "<port>-<n>" per
// the protocol (internal/ring.Node.NextWalkToken / NextFileToken); this
// package is strictly for bookkeeping that never leaves the process.
package procid

import "github.com/google/uuid"

// Instance is a random id generated once per process start.
var Instance = uuid.New().String()

// StagingSuffix returns a unique suffix to append to a chunk's on-disk
// path while it is being written, distinct across concurrent pushes
// racing to write the same chunk filename before either has renamed its
// temp file into place.
func StagingSuffix() string {
	return uuid.New().String() + ".staging"
}

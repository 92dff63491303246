// Package broadcast delivers payloads to session sets without letting any
// single slow connection degrade the others.
//
// Work items pass through a short coalescing window that merges identical
// payloads into one serialize-once batch, then fan out to a fixed pool of
// dispatch workers. Sessions are hashed to workers, so delivery order within
// one session is preserved while workers run in parallel. Each per-session
// send is bounded by a timeout; queues shed load newest-wins.
package broadcast

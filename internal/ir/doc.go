// Package ir provides the shared types of the event-dependency runtime:
// dependency declarations, dispatch events, stream messages, status updates
// and the three-state Output slot.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Component and dependency ids are plain ints, stable for a session
//   - Output distinguishes "no update" from an explicit null
//   - JSON tags follow the backend config payload (snake_case)
package ir

// Package core provides the foundational domain types and contracts used by
// TaskMesh. It defines the core abstractions for:
//
//   - Task requests, terminal results and best-effort progress records
//   - The pub/sub Transport fabric carrying task and notification messages
//   - The ResultStore holding overflow payloads with a bounded TTL
//   - The Broker connecting submitters and workers over both of the above
//   - The pluggable Executor capability that performs a task's actual work
//
// The package intentionally keeps implementation concerns (Redis clients,
// dispatch loops, correlation tables) out of scope, exposing small interfaces
// to enable custom backends and extensions.
package core

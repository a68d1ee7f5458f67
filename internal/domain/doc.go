// Package domain defines the core business types for the outbound dispatch
// engine: bulk campaign jobs and their recipients, conversations keyed by
// reply token, and warmup profiles/threads/messages.
//
// Types in this package are pure value objects with no behavior beyond
// pure functions on the type. They are the shared language between the
// schedulers, resolvers, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain

// Package domain contains the core entities and value objects of the
// histoship pipeline.
//
// This is the innermost layer: it has no dependencies on infrastructure
// concerns (filesystem, HTTP, object storage, logging) and holds only the
// vocabulary shared by every other package.
//
// # Entities
//
//   - [Payload]: an opaque named blob tagged with its subsystem and run
//   - [DeliveryRecord] / [DeliverySet]: per-destination delivery tracking
//   - [RunID]: the Run<digits> identifier derived from directory naming
//
// Payload content is never interpreted and never mutated after receipt; the
// pipeline only relocates it.
package domain
